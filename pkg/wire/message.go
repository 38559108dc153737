// Package wire implements the framed, checksummed messages exchanged
// between a sender and a receiver session.
package wire

import (
	"fmt"
	"math"
	"time"
)

// MaxPayload is the default upper bound of a data segment, chosen to keep
// an encoded datagram below a typical path MTU.
const MaxPayload = 1375

// Kind represents the message kind.
type Kind byte

// Message kinds.
const (
	KindData = Kind(iota + 1)
	KindAck
	KindCorrupted
)

var kindNames = map[Kind]string{
	KindData:      "msg",
	KindAck:       "ack",
	KindCorrupted: "corrupted",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN:%d", byte(k))
}

// Message is one of *Data, *Ack or *Corrupted.
type Message interface {
	Kind() Kind
	Seq() uint64
}

// Data carries one segment of the input stream.
type Data struct {
	Sequence uint64
	Payload  []byte

	// SentAt is the sender's clock reading at transmission, in seconds.
	// It is only set when the sender asks the receiver to echo it back.
	SentAt float64
}

// Kind implements Message.
func (m *Data) Kind() Kind { return KindData }

// Seq implements Message.
func (m *Data) Seq() uint64 { return m.Sequence }

func (m *Data) String() string {
	return fmt.Sprintf("<type:%s><seq:%d><size:%d>", m.Kind(), m.Sequence, len(m.Payload))
}

// Ack acknowledges a single data segment.
type Ack struct {
	Sequence uint64

	// Timestamp is the receiver's clock reading when the segment arrived
	// (or the echoed Data.SentAt), in seconds.
	Timestamp float64
}

// Kind implements Message.
func (m *Ack) Kind() Kind { return KindAck }

// Seq implements Message.
func (m *Ack) Seq() uint64 { return m.Sequence }

func (m *Ack) String() string {
	return fmt.Sprintf("<type:%s><seq:%d><ts:%.6f>", m.Kind(), m.Sequence, m.Timestamp)
}

// Corrupted tells the sender that the segment with Sequence failed its
// integrity check on arrival.
type Corrupted struct {
	Sequence uint64
}

// Kind implements Message.
func (m *Corrupted) Kind() Kind { return KindCorrupted }

// Seq implements Message.
func (m *Corrupted) Seq() uint64 { return m.Sequence }

func (m *Corrupted) String() string {
	return fmt.Sprintf("<type:%s><seq:%d>", m.Kind(), m.Sequence)
}

// Seconds converts t to the wire timestamp representation.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// maxSeconds bounds wire timestamps so that they convert to nanoseconds
// without overflowing int64 (about year 2242).
const maxSeconds = 1 << 33

func representable(sec float64) bool {
	return !math.IsNaN(sec) && sec <= maxSeconds && sec >= -maxSeconds
}

// Time converts a wire timestamp back to a time.Time. Timestamps outside
// the representable range are clamped to it; NaN maps to the Unix epoch.
func Time(sec float64) time.Time {
	switch {
	case math.IsNaN(sec):
		sec = 0
	case sec > maxSeconds:
		sec = maxSeconds
	case sec < -maxSeconds:
		sec = -maxSeconds
	}
	return time.Unix(0, int64(sec*float64(time.Second)))
}
