package dgram

import (
	"math/rand"
	"net"
	"sync"
	"time"
)

const simInboxSize = 4096

// SimAddr addresses an endpoint of a SimNet.
type SimAddr string

// Network implements net.Addr.
func (a SimAddr) Network() string { return "sim" }

func (a SimAddr) String() string { return string(a) }

// SimNet simulates a datagram network with the given latency and loss
// characteristics. Endpoints obtained from Listen implement PacketConn.
type SimNet struct {
	LossProb float64
	Latency  time.Duration

	// DuplicateNext delivers the next datagram twice.
	DuplicateNext bool

	// ReorderNext holds back the next datagram until the one after it
	// has been delivered.
	ReorderNext bool

	// Tamper, when set, sees every datagram before delivery and returns
	// the bytes to deliver. Returning nil drops the datagram.
	Tamper func(from, to net.Addr, p []byte) []byte

	TotalSent map[string]int64
	TotalRcvd map[string]int64

	mu       sync.Mutex
	rnd      *rand.Rand
	nodes    map[string]*SimConn
	heldBack *simPacket
}

type simPacket struct {
	from SimAddr
	to   *SimConn
	p    []byte
}

// NewSimNet makes a network simulator. The latency is the one-way trip
// time; lossProb is the probability of a datagram getting lost.
func NewSimNet(lossProb float64, latency time.Duration) *SimNet {
	return &SimNet{
		LossProb:  lossProb,
		Latency:   latency,
		TotalSent: make(map[string]int64),
		TotalRcvd: make(map[string]int64),
		rnd:       rand.New(rand.NewSource(1)),
		nodes:     make(map[string]*SimConn),
	}
}

// Seed reseeds the loss generator.
func (sim *SimNet) Seed(seed int64) {
	sim.mu.Lock()
	sim.rnd = rand.New(rand.NewSource(seed))
	sim.mu.Unlock()
}

// Listen attaches a new endpoint with the given address.
func (sim *SimNet) Listen(addr string) *SimConn {
	c := &SimConn{
		net:   sim,
		addr:  SimAddr(addr),
		inbox: make(chan simDatagram, simInboxSize),
		done:  make(chan struct{}),
	}
	sim.mu.Lock()
	sim.nodes[addr] = c
	sim.mu.Unlock()
	return c
}

// Stats returns the number of datagrams sent from and received at addr.
func (sim *SimNet) Stats(addr string) (sent, rcvd int64) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.TotalSent[addr], sim.TotalRcvd[addr]
}

func (sim *SimNet) send(from SimAddr, p []byte, to net.Addr) {
	cp := make([]byte, len(p))
	copy(cp, p)

	sim.mu.Lock()
	defer sim.mu.Unlock()

	sim.TotalSent[string(from)]++

	dst, ok := sim.nodes[to.String()]
	if !ok {
		return
	}
	if sim.Tamper != nil {
		if cp = sim.Tamper(from, to, cp); cp == nil {
			return
		}
	}
	if sim.LossProb > 0 && sim.rnd.Float64() < sim.LossProb {
		return
	}

	pkt := &simPacket{from: from, to: dst, p: cp}
	if sim.ReorderNext {
		sim.ReorderNext = false
		sim.heldBack = pkt
		return
	}

	sim.deliverLater(pkt, sim.Latency)
	if sim.DuplicateNext {
		sim.DuplicateNext = false
		sim.deliverLater(pkt, sim.Latency)
	}
	if sim.heldBack != nil {
		sim.deliverLater(sim.heldBack, sim.Latency+time.Millisecond)
		sim.heldBack = nil
	}
}

func (sim *SimNet) deliverLater(pkt *simPacket, lat time.Duration) {
	if lat <= 0 {
		sim.deliver(pkt, false)
		return
	}
	time.AfterFunc(lat, func() { sim.deliver(pkt, true) })
}

func (sim *SimNet) deliver(pkt *simPacket, lock bool) {
	select {
	case <-pkt.to.done:
		return
	case pkt.to.inbox <- simDatagram{from: pkt.from, p: pkt.p}:
	default:
		// inbox full: the datagram is lost, as with a real socket buffer.
		return
	}
	if lock {
		sim.mu.Lock()
		defer sim.mu.Unlock()
	}
	sim.TotalRcvd[string(pkt.to.addr)]++
}

type simDatagram struct {
	from SimAddr
	p    []byte
}

// SimConn is an endpoint of a SimNet.
type SimConn struct {
	net   *SimNet
	addr  SimAddr
	inbox chan simDatagram

	once sync.Once
	done chan struct{}
}

// ReadFrom implements PacketConn.
func (c *SimConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case <-c.done:
		return 0, nil, ErrClosed
	case d := <-c.inbox:
		return copy(p, d.p), d.from, nil
	}
}

// WriteTo implements PacketConn.
func (c *SimConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-c.done:
		return 0, ErrClosed
	default:
	}
	c.net.send(c.addr, p, addr)
	return len(p), nil
}

// LocalAddr implements PacketConn.
func (c *SimConn) LocalAddr() net.Addr { return c.addr }

// Close implements PacketConn.
func (c *SimConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
