package dgram

import (
	"net"
)

// Peer is the single remote endpoint a session talks to. It starts unset
// (unless constructed with an address) and is bound exactly once.
type Peer struct {
	addr net.Addr
}

// NewPeer makes a Peer already bound to addr. A nil addr leaves it unset.
func NewPeer(addr net.Addr) *Peer {
	return &Peer{addr: addr}
}

// Addr returns the bound address, or nil.
func (p *Peer) Addr() net.Addr { return p.addr }

// Bound reports whether the peer address is known.
func (p *Peer) Bound() bool { return p.addr != nil }

// Accept binds the peer to addr if it is still unset, and reports whether
// datagrams from addr belong to this session.
func (p *Peer) Accept(addr net.Addr) bool {
	if addr == nil {
		return false
	}
	if p.addr == nil {
		p.addr = addr
		return true
	}
	return SameAddr(p.addr, addr)
}

// SameAddr compares two addresses by network and textual form.
func SameAddr(a, b net.Addr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Network() == b.Network() && a.String() == b.String()
}
