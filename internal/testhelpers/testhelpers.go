// Package testhelpers provides helpers for testing.
package testhelpers

import (
	"log"
	"net"
	"os"
	"testing"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/rdt/pkg/dgram"
	"github.com/skycoin/rdt/pkg/wire"
)

const timeout = 5 * time.Second

// SetupLogging applies TEST_LOGGING_LEVEL, or silences logging when it is
// not set. Call it from TestMain.
func SetupLogging() {
	loggingLevel, ok := os.LookupEnv("TEST_LOGGING_LEVEL")
	if ok {
		lvl, err := logging.LevelFromString(loggingLevel)
		if err != nil {
			log.Fatal(err)
		}
		logging.SetLevel(lvl)
	} else {
		logging.Disable()
	}
}

// WithinTimeout tries to read an error from error channel within timeout and returns it.
// If timeout exceeds, nil value is returned.
func WithinTimeout(ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-time.After(timeout):
		return nil
	}
}

// NoErrorN performs require.NoError on multiple errors
func NoErrorN(t *testing.T, errs ...error) {
	for _, err := range errs {
		require.NoError(t, err)
	}
}

// ReadDatagram reads a single datagram from conn, failing the test if none
// arrives within d.
func ReadDatagram(t *testing.T, conn dgram.PacketConn, d time.Duration) ([]byte, net.Addr) {
	type result struct {
		p    []byte
		addr net.Addr
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		buf := make([]byte, dgram.MaxDatagramSize)
		n, addr, err := conn.ReadFrom(buf)
		ch <- result{p: buf[:n], addr: addr, err: err}
	}()

	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.p, r.addr
	case <-time.After(d):
		require.FailNow(t, "no datagram within timeout", "waited %v", d)
		return nil, nil
	}
}

// ReadFrame reads and decodes a single datagram from conn, requiring it to
// pass the integrity check.
func ReadFrame(t *testing.T, conn dgram.PacketConn) wire.Message {
	p, _ := ReadDatagram(t, conn, timeout)
	f, err := wire.Decode(p)
	require.NoError(t, err)
	require.True(t, wire.Verify(f), "frame fails integrity check: %x", p)
	return f.Message
}

// Encode encodes m, failing the test on error.
func Encode(t *testing.T, m wire.Message) []byte {
	b, err := wire.Encode(m)
	require.NoError(t, err)
	return b
}
