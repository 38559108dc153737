// Package dgram abstracts the unreliable datagram channel sessions run over.
package dgram

import (
	"context"
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// MaxDatagramSize bounds a single read from the channel.
const MaxDatagramSize = 64 * 1024

// ErrClosed is returned when reading from or writing to a closed channel.
var ErrClosed = errors.New("datagram channel closed")

// PacketConn sends and receives single datagrams. There is no guarantee
// of delivery, ordering or uniqueness. *net.UDPConn implements it.
type PacketConn interface {
	ReadFrom(p []byte) (n int, addr net.Addr, err error)
	WriteTo(p []byte, addr net.Addr) (n int, err error)
	LocalAddr() net.Addr
	Close() error
}

// ListenUDP binds a UDP socket on addr. An empty port picks an
// ephemeral one.
func ListenUDP(addr string) (*net.UDPConn, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", addr)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}
	return conn, nil
}

// ResolveUDP resolves the remote host and port of a peer.
func ResolveUDP(host string, port int) (*net.UDPAddr, error) {
	if port <= 0 || port > 65535 {
		return nil, errors.Errorf("invalid port %d", port)
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s:%d", host, port)
	}
	return addr, nil
}

// Datagram is a single received datagram and its source address.
type Datagram struct {
	Payload []byte
	Addr    net.Addr
}

// Pump reads datagrams from conn on a separate goroutine and hands them to
// the returned channel, one at a time. Both channels are closed when the
// read fails (the error is sent on errCh first) or ctx is done.
func Pump(ctx context.Context, conn PacketConn) (<-chan Datagram, <-chan error) {
	ch := make(chan Datagram)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(ch)
		buf := make([]byte, MaxDatagramSize)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				errCh <- err
				return
			}
			p := make([]byte, n)
			copy(p, buf[:n])

			select {
			case ch <- Datagram{Payload: p, Addr: addr}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, errCh
}
