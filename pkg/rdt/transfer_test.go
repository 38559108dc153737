package rdt_test

import (
	"bytes"
	"context"
	"math/rand"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	th "github.com/skycoin/rdt/internal/testhelpers"
	"github.com/skycoin/rdt/pkg/dgram"
	"github.com/skycoin/rdt/pkg/rdt"
	"github.com/skycoin/rdt/pkg/receiver"
	"github.com/skycoin/rdt/pkg/sender"
)

func TestMain(m *testing.M) {
	th.SetupLogging()
	os.Exit(m.Run())
}

func fastConfig() rdt.Config {
	conf := rdt.DefaultConfig()
	conf.InitialRTT = rdt.Duration(20 * time.Millisecond)
	conf.InitialDeviation = rdt.Duration(5 * time.Millisecond)
	return conf
}

// transfer sends input from tx to rx and returns what the receiver wrote.
func transfer(t *testing.T, conf rdt.Config, tx, rx dgram.PacketConn, remote net.Addr, input []byte) ([]byte, sender.Stats) {
	out := new(bytes.Buffer)
	r, err := receiver.New(rx, out, conf)
	require.NoError(t, err)
	s, err := sender.New(tx, remote, bytes.NewReader(input), conf)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rctx, rcancel := context.WithCancel(ctx)
	serveErr := make(chan error, 1)
	go func() { serveErr <- r.Serve(rctx) }()

	require.NoError(t, s.Run(ctx))

	rcancel()
	assert.Equal(t, context.Canceled, <-serveErr)
	return out.Bytes(), s.Stats()
}

func randomInput(n int) []byte {
	p := make([]byte, n)
	rand.New(rand.NewSource(42)).Read(p) // nolint: gosec
	return p
}

func TestTransfer_SingleSegment(t *testing.T) {
	sim := dgram.NewSimNet(0, 0)
	tx, rx := sim.Listen("tx"), sim.Listen("rx")
	defer func() { th.NoErrorN(t, tx.Close(), rx.Close()) }()

	out, st := transfer(t, rdt.DefaultConfig(), tx, rx, rx.LocalAddr(), []byte("AB"))
	assert.Equal(t, "AB", string(out))
	assert.Equal(t, uint64(1), st.Segments)
	assert.Equal(t, uint64(1), st.Acks)
	assert.Equal(t, 0, st.InFlight)
}

func TestTransfer_LossyNetwork(t *testing.T) {
	cases := []struct {
		name    string
		rttMode string
		loss    float64
		tamper  int
	}{
		{name: "Clean", rttMode: rdt.RTTReceiverClock},
		{name: "Lossy", rttMode: rdt.RTTReceiverClock, loss: 0.1},
		{name: "Lossy with corruption", rttMode: rdt.RTTReceiverClock, loss: 0.05, tamper: 7},
		{name: "Lossy echo", rttMode: rdt.RTTEcho, loss: 0.1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sim := dgram.NewSimNet(tc.loss, time.Millisecond)
			sim.DuplicateNext = true
			sim.ReorderNext = true
			if tc.tamper > 0 {
				n := 0
				sim.Tamper = func(from, _ net.Addr, p []byte) []byte {
					if from.String() != "tx" {
						return p
					}
					if n++; n%tc.tamper == 0 {
						p[len(p)/2] ^= 0x01
					}
					return p
				}
			}
			tx, rx := sim.Listen("tx"), sim.Listen("rx")
			defer func() { th.NoErrorN(t, tx.Close(), rx.Close()) }()

			conf := fastConfig()
			conf.RTTMode = tc.rttMode
			conf.SegmentSize = 200
			input := randomInput(20 * 1024)

			out, st := transfer(t, conf, tx, rx, rx.LocalAddr(), input)
			assert.Equal(t, input, out)
			assert.Equal(t, uint64(len(input)/conf.SegmentSize+1), st.Segments)
			assert.Equal(t, 0, st.InFlight)
		})
	}
}

func TestTransfer_UDPLoopback(t *testing.T) {
	rx, err := dgram.ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	tx, err := dgram.ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer func() { th.NoErrorN(t, tx.Close(), rx.Close()) }()

	remote, err := dgram.ResolveUDP("127.0.0.1", rx.LocalAddr().(*net.UDPAddr).Port)
	require.NoError(t, err)

	input := randomInput(64 * 1024)
	out, _ := transfer(t, fastConfig(), tx, rx, remote, input)
	assert.Equal(t, input, out)
}
