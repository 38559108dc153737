// Package sender implements the sending end of a stream: it segments an
// input byte stream, transmits the segments within the congestion window
// and retransmits them until they are acknowledged.
package sender

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/rdt/internal/clock"
	"github.com/skycoin/rdt/internal/metrics"
	"github.com/skycoin/rdt/pkg/congestion"
	"github.com/skycoin/rdt/pkg/dgram"
	"github.com/skycoin/rdt/pkg/rdt"
	"github.com/skycoin/rdt/pkg/rtt"
	"github.com/skycoin/rdt/pkg/wire"
)

// Stats is a snapshot of a sender session.
type Stats struct {
	Segments     uint64
	Retransmits  uint64
	Acks         uint64
	StaleAcks    uint64
	Notices      uint64
	Losses       uint64
	Dropped      uint64
	InFlight     int
	Oldest       uint64 // lowest unacknowledged sequence, if any in flight
	Window       float64
	Threshold    float64
	Timeout      time.Duration
	InputDone    bool
	NextSequence uint64
}

// Session is a sender session talking to a single receiver. All of its
// state is owned by the Run loop.
type Session struct {
	Logger  *logging.Logger
	Clock   clock.Clock
	Metrics metrics.SenderRecorder

	id   string
	conf rdt.Config
	conn dgram.PacketConn
	peer *dgram.Peer
	src  io.Reader

	cc       *congestion.Controller
	rtt      *rtt.Estimator
	inflight *inflight

	nextSeq   uint64
	inputDone bool
	stats     Stats
}

// New creates a sender session that reads src and sends it to remote
// over conn. Zero fields of conf take their defaults.
func New(conn dgram.PacketConn, remote net.Addr, src io.Reader, conf rdt.Config) (*Session, error) {
	conf = conf.WithDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		Logger:   logging.MustGetLogger("sender"),
		Clock:    clock.Real,
		Metrics:  metrics.NewDummy(),
		id:       uuid.New().String()[:8],
		conf:     conf,
		conn:     conn,
		peer:     dgram.NewPeer(remote),
		src:      src,
		cc:       conf.NewController(),
		rtt:      conf.NewEstimator(),
		inflight: newInflight(),
	}, nil
}

func (s *Session) log() logrus.FieldLogger {
	return s.Logger.WithField("session", s.id)
}

type chunk struct {
	p   []byte
	err error
}

// readChunks reads src one segment at a time. The loop only receives from
// the returned channel while the window has room.
func readChunks(ctx context.Context, src io.Reader, size int) <-chan chunk {
	ch := make(chan chunk)
	go func() {
		defer close(ch)
		for {
			buf := make([]byte, size)
			n, err := src.Read(buf)
			if n > 0 {
				select {
				case ch <- chunk{p: buf[:n]}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				select {
				case ch <- chunk{err: err}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()
	return ch
}

// Run drives the session until all input has been sent and acknowledged,
// ctx is done, or reading the input or the datagram channel fails.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.log().Infof("sending to %s: segment(%d) rtt_mode(%s)", s.peer.Addr(), s.conf.SegmentSize, s.conf.RTTMode)

	dgrams, readErr := dgram.Pump(ctx, s.conn)
	chunks := readChunks(ctx, s.src, s.conf.SegmentSize)

	timer := time.NewTimer(s.rtt.Timeout())
	defer timer.Stop()

	for {
		var input <-chan chunk
		if !s.inputDone && s.cc.CanSend(s.inflight.len()) {
			input = chunks
		}

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
			s.HandleDatagram(d.Payload, d.Addr)

		case c := <-input:
			if err := s.handleChunk(c); err != nil {
				return err
			}

		case <-timer.C:
		}

		if s.Done() {
			st := s.Stats()
			s.log().Infof("done: segments(%d) retransmits(%d) losses(%d)", st.Segments, st.Retransmits, st.Losses)
			return nil
		}

		s.Sweep()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.rtt.Timeout())
	}
}

// Done reports whether the input is exhausted and every segment has been
// acknowledged.
func (s *Session) Done() bool {
	return s.inputDone && s.inflight.len() == 0
}

func (s *Session) handleChunk(c chunk) error {
	if c.err == io.EOF {
		s.inputDone = true
		s.log().Infof("input exhausted after %d segments, %d in flight", s.nextSeq, s.inflight.len())
		return nil
	}
	if c.err != nil {
		return errors.Wrap(c.err, "read input")
	}
	s.SendSegment(c.p)
	return nil
}

// SendSegment frames p as the next data segment and transmits it.
func (s *Session) SendSegment(p []byte) {
	now := s.Clock.Now()
	r := &record{
		msg:       &wire.Data{Sequence: s.nextSeq, Payload: p},
		firstSent: now,
	}
	s.nextSeq++
	s.inflight.add(r)
	s.stats.Segments++
	s.Metrics.SegmentSent(len(p))
	s.transmit(r, now)
}

// CloseInput marks the input as exhausted.
func (s *Session) CloseInput() {
	s.inputDone = true
}

// transmit (re)sends r with a freshly computed checksum.
func (s *Session) transmit(r *record, now time.Time) {
	if s.conf.RTTMode == rdt.RTTEcho {
		r.msg.SentAt = wire.Seconds(now)
	}
	r.lastSent = now

	b, err := wire.Encode(r.msg)
	if err != nil {
		s.log().Errorf("encode %s: %v", r.msg, err)
		return
	}
	if _, err := s.conn.WriteTo(b, s.peer.Addr()); err != nil {
		// The segment stays in flight and is retried by the sweep.
		s.log().Warnf("write %s: %v", r.msg, err)
	}
}

// HandleDatagram processes one datagram received from addr.
func (s *Session) HandleDatagram(p []byte, addr net.Addr) {
	f, err := wire.Decode(p)
	if err != nil {
		s.stats.Dropped++
		s.log().Debugf("dropping datagram from %s: %v", addr, err)
		return
	}
	if !wire.Verify(f) {
		s.stats.Dropped++
		s.log().Debugf("dropping corrupted %s from %s", f.Message.Kind(), addr)
		return
	}
	if !s.peer.Accept(addr) {
		s.stats.Dropped++
		s.log().Warnf("dropping datagram from unexpected peer %s", addr)
		return
	}

	switch m := f.Message.(type) {
	case *wire.Ack:
		s.handleAck(m)
	case *wire.Corrupted:
		s.handleCorrupted(m)
	default:
		s.log().Debugf("ignoring %s from receiver", m.Kind())
	}
}

func (s *Session) handleAck(m *wire.Ack) {
	r, ok := s.inflight.remove(m.Sequence)
	if !ok {
		s.stats.StaleAcks++
		s.log().Debugf("stale ack for seq %d", m.Sequence)
		return
	}

	var sample time.Duration
	switch s.conf.RTTMode {
	case rdt.RTTEcho:
		sample = rtt.SampleFromEcho(s.Clock.Now(), m.Timestamp)
	default:
		sample = rtt.SampleFromAck(r.lastSent, m.Timestamp)
	}
	s.rtt.AddSample(sample)
	s.cc.OnAck()
	s.stats.Acks++

	s.Metrics.Acked(sample)
	s.Metrics.Window(s.cc.Window(), s.cc.Threshold(), s.rtt.Timeout())
	s.log().WithField("seq", m.Sequence).Debugf("acked: sample(%v) rto(%v) %s", sample, s.rtt.Timeout(), s.cc)
}

func (s *Session) handleCorrupted(m *wire.Corrupted) {
	r, ok := s.inflight.get(m.Sequence)
	if !ok {
		s.log().Debugf("corruption notice for seq %d which is not in flight", m.Sequence)
		return
	}
	s.stats.Notices++
	s.Metrics.CorruptionNotice()
	s.loss()

	s.log().WithField("seq", m.Sequence).Infof("receiver reported corruption, retransmitting: %s", s.cc)
	s.stats.Retransmits++
	s.Metrics.Retransmitted(false)
	s.transmit(r, s.Clock.Now())
}

func (s *Session) loss() {
	s.cc.OnLoss()
	s.stats.Losses++
	s.Metrics.Loss()
	s.Metrics.Window(s.cc.Window(), s.cc.Threshold(), s.rtt.Timeout())
}

// Sweep retransmits every in-flight segment whose last transmission is
// older than the current timeout. Every LossThreshold-th timeout of a
// segment is treated as a loss signal; the segment is still retransmitted.
func (s *Session) Sweep() {
	now := s.Clock.Now()
	rto := s.rtt.Timeout()

	s.inflight.ascend(func(r *record) bool {
		if now.Sub(r.lastSent) <= rto {
			return true
		}
		r.retries++
		if r.retries%s.conf.LossThreshold == 0 {
			s.loss()
			s.log().WithField("seq", r.msg.Sequence).Infof("%d timeouts, shrinking window: %s", r.retries, s.cc)
		}
		s.stats.Retransmits++
		s.Metrics.Retransmitted(true)
		s.log().WithField("seq", r.msg.Sequence).Debugf("timeout after %v, retransmitting (retry %d)", now.Sub(r.lastSent), r.retries)
		s.transmit(r, now)
		return true
	})
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	st := s.stats
	st.InFlight = s.inflight.len()
	st.Oldest, _ = s.inflight.oldest()
	st.Window = s.cc.Window()
	st.Threshold = s.cc.Threshold()
	st.Timeout = s.rtt.Timeout()
	st.InputDone = s.inputDone
	st.NextSequence = s.nextSeq
	return st
}
