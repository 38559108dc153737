package wire

import (
	"encoding/binary"
	"hash/crc32"
	"math"

	"github.com/pkg/errors"
)

// ErrMalformed is returned by Decode for datagrams that are not a
// supported framing. Callers drop such datagrams without replying.
var ErrMalformed = errors.New("malformed message")

const (
	headerLen    = 10 // type(1 byte), flags(1 byte), seq(8 byte)
	timestampLen = 8  // IEEE 754 seconds
	checksumLen  = 4  // CRC-32 of everything before it
)

// MaxFrameSize is the encoded size of the largest frame: a data segment of
// MaxPayload bytes carrying a send timestamp.
const MaxFrameSize = headerLen + timestampLen + MaxPayload + checksumLen

// Header flags.
const (
	flagTimestamp = 1 << iota
	flagChecksum
)

// Frame is a decoded datagram. Checksum is nil when the datagram carried
// none.
type Frame struct {
	Message  Message
	Checksum *uint32
}

// canonical lays out m without its checksum trailer. The layout is
//
//	type | flags | seq | [timestamp] | [payload]
//
// with all integers big-endian. The checksum flag is always set, so equal
// messages always hash equally.
func canonical(m Message) []byte {
	var (
		flags byte = flagChecksum
		ts    float64
		pay   []byte
	)
	switch m := m.(type) {
	case *Data:
		pay = m.Payload
		if m.SentAt != 0 {
			flags |= flagTimestamp
			ts = m.SentAt
		}
	case *Ack:
		flags |= flagTimestamp
		ts = m.Timestamp
	}

	n := headerLen
	if flags&flagTimestamp != 0 {
		n += timestampLen
	}
	b := make([]byte, n, n+len(pay)+checksumLen)
	b[0] = byte(m.Kind())
	b[1] = flags
	binary.BigEndian.PutUint64(b[2:headerLen], m.Seq())
	if flags&flagTimestamp != 0 {
		binary.BigEndian.PutUint64(b[headerLen:], math.Float64bits(ts))
	}
	return append(b, pay...)
}

// Checksum computes the integrity code of m over all of its fields.
func Checksum(m Message) uint32 {
	return crc32.ChecksumIEEE(canonical(m))
}

// Encode serializes m with a freshly computed checksum.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil message")
	}
	if _, ok := kindNames[m.Kind()]; !ok {
		return nil, errors.Errorf("cannot encode message of kind %s", m.Kind())
	}
	if d, ok := m.(*Data); ok && len(d.Payload) > MaxPayload {
		return nil, errors.Errorf("payload of %d bytes exceeds %d", len(d.Payload), MaxPayload)
	}
	b := canonical(m)
	var cs [checksumLen]byte
	binary.BigEndian.PutUint32(cs[:], crc32.ChecksumIEEE(b))
	return append(b, cs[:]...), nil
}

// Decode parses a datagram. It fails with ErrMalformed when the framing,
// kind, sequence or timestamp cannot be recovered. A decoded frame still
// has to be checked with Verify.
func Decode(b []byte) (*Frame, error) {
	if len(b) < headerLen {
		return nil, errors.Wrapf(ErrMalformed, "short datagram of %d bytes", len(b))
	}
	kind := Kind(b[0])
	if _, ok := kindNames[kind]; !ok {
		return nil, errors.Wrapf(ErrMalformed, "unknown type %s", kind)
	}
	flags := b[1]
	seq := binary.BigEndian.Uint64(b[2:headerLen])
	body := b[headerLen:]

	f := new(Frame)
	if flags&flagChecksum != 0 {
		if len(body) < checksumLen {
			return nil, errors.Wrap(ErrMalformed, "truncated checksum")
		}
		cs := binary.BigEndian.Uint32(body[len(body)-checksumLen:])
		f.Checksum = &cs
		body = body[:len(body)-checksumLen]
	}

	var ts float64
	hasTS := flags&flagTimestamp != 0
	if hasTS {
		if len(body) < timestampLen {
			return nil, errors.Wrap(ErrMalformed, "truncated timestamp")
		}
		ts = math.Float64frombits(binary.BigEndian.Uint64(body))
		if !representable(ts) {
			return nil, errors.Wrapf(ErrMalformed, "timestamp %g out of range", ts)
		}
		body = body[timestampLen:]
	}

	switch kind {
	case KindData:
		f.Message = &Data{Sequence: seq, Payload: append([]byte(nil), body...), SentAt: ts}
	case KindAck:
		if !hasTS {
			return nil, errors.Wrap(ErrMalformed, "ack without timestamp")
		}
		f.Message = &Ack{Sequence: seq, Timestamp: ts}
	case KindCorrupted:
		f.Message = &Corrupted{Sequence: seq}
	}
	return f, nil
}

// Verify recomputes the checksum of the decoded fields and compares it to
// the transmitted one. A frame without a checksum never verifies.
func Verify(f *Frame) bool {
	if f == nil || f.Message == nil || f.Checksum == nil {
		return false
	}
	return Checksum(f.Message) == *f.Checksum
}

// IsMalformed reports whether err was caused by a malformed datagram.
func IsMalformed(err error) bool {
	return errors.Cause(err) == ErrMalformed
}
