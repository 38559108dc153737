// Package receiver implements the receiving end of a stream: it
// acknowledges data segments, drops duplicates and writes the payloads to
// an output in sequence order.
package receiver

import (
	"context"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/rdt/internal/clock"
	"github.com/skycoin/rdt/internal/metrics"
	"github.com/skycoin/rdt/pkg/dgram"
	"github.com/skycoin/rdt/pkg/rdt"
	"github.com/skycoin/rdt/pkg/wire"
)

// Stats is a snapshot of a receiver session.
type Stats struct {
	Datagrams  uint64
	Dropped    uint64
	Corrupted  uint64
	Duplicates uint64
	Segments   uint64
	Delivered  uint64
	Buffered   int
	Expected   uint64
}

// Session is a receiver session. The peer is learned from the first
// decodable datagram.
type Session struct {
	Logger  *logging.Logger
	Clock   clock.Clock
	Metrics metrics.ReceiverRecorder

	id   string
	conf rdt.Config
	conn dgram.PacketConn
	peer *dgram.Peer
	dst  io.Writer

	expected uint64
	seen     map[uint64]struct{}
	buf      *reorderBuffer
	stats    Stats
}

// New creates a receiver session that reads datagrams from conn and writes
// the reassembled stream to dst. Zero fields of conf take their defaults.
func New(conn dgram.PacketConn, dst io.Writer, conf rdt.Config) (*Session, error) {
	conf = conf.WithDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		Logger:  logging.MustGetLogger("receiver"),
		Clock:   clock.Real,
		Metrics: metrics.NewDummy(),
		id:      uuid.New().String()[:8],
		conf:    conf,
		conn:    conn,
		peer:    dgram.NewPeer(nil),
		dst:     dst,
		seen:    make(map[uint64]struct{}),
		buf:     newReorderBuffer(),
	}, nil
}

func (s *Session) log() logrus.FieldLogger {
	return s.Logger.WithField("session", s.id)
}

// Serve handles datagrams until ctx is done, reading from the channel
// fails or writing to the output fails.
func (s *Session) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.log().Infof("listening on %s", s.conn.LocalAddr())
	dgrams, readErr := dgram.Pump(ctx, s.conn)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-dgrams:
			if !ok {
				if err := <-readErr; err != nil {
					return errors.Wrap(err, "read datagram")
				}
				return ctx.Err()
			}
			if err := s.HandleDatagram(d.Payload, d.Addr); err != nil {
				return err
			}
		}
	}
}

// HandleDatagram processes one datagram received from addr. Only a failure
// to write to the output is returned; everything else is logged and
// dropped.
func (s *Session) HandleDatagram(p []byte, addr net.Addr) error {
	s.stats.Datagrams++
	s.Metrics.Datagram()

	f, err := wire.Decode(p)
	if err != nil {
		s.drop()
		s.log().Debugf("dropping datagram from %s: %v", addr, err)
		return nil
	}

	if !s.peer.Bound() {
		s.log().Infof("bound to peer %s", addr)
	}
	if !s.peer.Accept(addr) {
		s.drop()
		s.log().Warnf("dropping datagram from unexpected peer %s", addr)
		return nil
	}

	if !wire.Verify(f) {
		s.stats.Corrupted++
		s.Metrics.Corrupted()
		s.log().WithField("seq", f.Message.Seq()).Info("integrity check failed, requesting retransmission")
		s.reply(&wire.Corrupted{Sequence: f.Message.Seq()})
		return nil
	}

	m, ok := f.Message.(*wire.Data)
	if !ok {
		s.log().Debugf("ignoring %s from sender", f.Message.Kind())
		return nil
	}
	return s.handleData(m)
}

func (s *Session) drop() {
	s.stats.Dropped++
	s.Metrics.Dropped()
}

func (s *Session) handleData(m *wire.Data) error {
	// Acks are sent for duplicates too, since an earlier ack may be lost.
	ts := wire.Seconds(s.Clock.Now())
	if s.conf.RTTMode == rdt.RTTEcho {
		ts = m.SentAt
	}
	s.reply(&wire.Ack{Sequence: m.Sequence, Timestamp: ts})

	if _, ok := s.seen[m.Sequence]; ok {
		s.stats.Duplicates++
		s.Metrics.Duplicate()
		s.log().WithField("seq", m.Sequence).Debug("duplicate")
		return nil
	}
	s.seen[m.Sequence] = struct{}{}
	s.stats.Segments++
	s.buf.Put(m.Sequence, m.Payload)

	for {
		p, ok := s.buf.PopIf(s.expected)
		if !ok {
			break
		}
		if _, err := s.dst.Write(p); err != nil {
			return errors.Wrap(err, "write output")
		}
		s.expected++
		s.stats.Delivered += uint64(len(p))
		s.Metrics.Delivered(len(p))
	}

	s.Metrics.Buffered(s.buf.Len())
	s.log().WithField("seq", m.Sequence).Debugf("accepted: expected(%d) buffered(%d)", s.expected, s.buf.Len())
	return nil
}

func (s *Session) reply(m wire.Message) {
	b, err := wire.Encode(m)
	if err != nil {
		s.log().Errorf("encode %s: %v", m.Kind(), err)
		return
	}
	if _, err := s.conn.WriteTo(b, s.peer.Addr()); err != nil {
		s.log().Warnf("write %s: %v", m.Kind(), err)
	}
}

// Expected returns the next sequence due for delivery.
func (s *Session) Expected() uint64 {
	return s.expected
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	st := s.stats
	st.Buffered = s.buf.Len()
	st.Expected = s.expected
	return st
}
