package wire

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_String(t *testing.T) {
	cases := []struct {
		name string
		kind Kind
		want string
	}{
		{name: "Data kind", kind: KindData, want: "msg"},
		{name: "Ack kind", kind: KindAck, want: "ack"},
		{name: "Corrupted kind", kind: KindCorrupted, want: "corrupted"},
		{name: "Unknown kind", kind: 255, want: "UNKNOWN:255"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.kind.String())
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
	}{
		{name: "Data", msg: &Data{Sequence: 0, Payload: []byte("AB")}},
		{name: "Data with binary payload", msg: &Data{Sequence: 7, Payload: []byte{0x00, 0xff, 0x10, '"', '\\'}}},
		{name: "Data with echoed send time", msg: &Data{Sequence: 3, Payload: []byte("x"), SentAt: 1556000000.25}},
		{name: "Ack", msg: &Ack{Sequence: 42, Timestamp: 1556000000.125}},
		{name: "Corrupted", msg: &Corrupted{Sequence: 9}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Encode(tc.msg)
			require.NoError(t, err)

			f, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, tc.msg, f.Message)
			assert.True(t, Verify(f))
			require.NotNil(t, f.Checksum)
			assert.Equal(t, Checksum(tc.msg), *f.Checksum)
		})
	}
}

func TestEncode_Layout(t *testing.T) {
	b, err := Encode(&Data{Sequence: 0x0102, Payload: []byte("AB")})
	require.NoError(t, err)
	require.Len(t, b, headerLen+2+checksumLen)
	assert.Equal(t, byte(KindData), b[0])
	assert.Equal(t, byte(flagChecksum), b[1])
	assert.Equal(t, uint64(0x0102), binary.BigEndian.Uint64(b[2:headerLen]))
	assert.Equal(t, []byte("AB"), b[headerLen:headerLen+2])
	assert.Equal(t, crc32.ChecksumIEEE(b[:len(b)-checksumLen]), binary.BigEndian.Uint32(b[len(b)-checksumLen:]))

	b, err = Encode(&Ack{Sequence: 1, Timestamp: 12.5})
	require.NoError(t, err)
	require.Len(t, b, headerLen+timestampLen+checksumLen)
	assert.Equal(t, byte(KindAck), b[0])
	assert.Equal(t, byte(flagChecksum|flagTimestamp), b[1])
	assert.Equal(t, 12.5, math.Float64frombits(binary.BigEndian.Uint64(b[headerLen:])))
}

func TestEncode_FitsMTU(t *testing.T) {
	// 1500 byte Ethernet MTU minus IPv4 and UDP headers.
	const udpPayload = 1472

	cases := []struct {
		name string
		msg  Message
	}{
		{name: "Full segment", msg: &Data{Sequence: 123456, Payload: bytes.Repeat([]byte("x"), MaxPayload)}},
		{name: "Full segment with send time", msg: &Data{Sequence: math.MaxUint64, Payload: bytes.Repeat([]byte{0xff}, MaxPayload), SentAt: 1556000000.25}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Encode(tc.msg)
			require.NoError(t, err)
			assert.True(t, len(b) <= udpPayload, "encoded %d bytes", len(b))
			assert.True(t, len(b) <= MaxFrameSize, "encoded %d bytes", len(b))
		})
	}
}

func TestChecksum_Deterministic(t *testing.T) {
	a := &Data{Sequence: 5, Payload: []byte("hello")}
	b := &Data{Payload: []byte("hello")}
	b.Sequence = 5

	assert.Equal(t, Checksum(a), Checksum(b))

	b1, err := Encode(a)
	require.NoError(t, err)
	b2, err := Encode(b)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestChecksum_Distinguishes(t *testing.T) {
	base := Checksum(&Data{Sequence: 5, Payload: []byte("hello")})

	assert.NotEqual(t, base, Checksum(&Data{Sequence: 6, Payload: []byte("hello")}))
	assert.NotEqual(t, base, Checksum(&Data{Sequence: 5, Payload: []byte("hellp")}))
	assert.NotEqual(t, Checksum(&Ack{Sequence: 5, Timestamp: 1}), Checksum(&Ack{Sequence: 5, Timestamp: 2}))
	assert.NotEqual(t, Checksum(&Ack{Sequence: 5, Timestamp: 1}), Checksum(&Corrupted{Sequence: 5}))
}

func TestVerify_FlippedPayload(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 32)
	b, err := Encode(&Data{Sequence: 11, Payload: payload})
	require.NoError(t, err)

	f, err := Decode(b)
	require.NoError(t, err)
	require.True(t, Verify(f))

	for i := range payload {
		d := f.Message.(*Data)
		orig := d.Payload[i]
		d.Payload[i] ^= 0x01
		assert.False(t, Verify(f), "flip at %d went unnoticed", i)
		d.Payload[i] = orig
	}
	assert.True(t, Verify(f))
}

func TestVerify_BitFlips(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
	}{
		{name: "Full segment", msg: &Data{Sequence: 123456, Payload: bytes.Repeat([]byte("x"), MaxPayload)}},
		{name: "Ack", msg: &Ack{Sequence: 77, Timestamp: 1556000000.125}},
		{name: "Corrupted", msg: &Corrupted{Sequence: 77}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Encode(tc.msg)
			require.NoError(t, err)

			// Every bit after the type and flags bytes, except for the
			// timestamp which may decode out of range.
			skip := func(i int) bool {
				_, isAck := tc.msg.(*Ack)
				return isAck && i >= headerLen && i < headerLen+timestampLen
			}

			for i := 2; i < len(b); i++ {
				if skip(i) {
					continue
				}
				for bit := uint(0); bit < 8; bit++ {
					mutated := append([]byte(nil), b...)
					mutated[i] ^= 1 << bit

					f, err := Decode(mutated)
					require.NoError(t, err, "flip of bit %d at %d", bit, i)
					assert.False(t, Verify(f), "flip of bit %d at %d went unnoticed", bit, i)
				}
			}
		})
	}
}

func TestVerify_MissingChecksum(t *testing.T) {
	b, err := Encode(&Data{Sequence: 2, Payload: []byte("AB")})
	require.NoError(t, err)
	b[1] &^= flagChecksum

	f, err := Decode(b)
	require.NoError(t, err)
	assert.Nil(t, f.Checksum)
	assert.False(t, Verify(f))
	assert.Equal(t, uint64(2), f.Message.Seq())
}

func TestVerify_Nil(t *testing.T) {
	assert.False(t, Verify(nil))
	assert.False(t, Verify(&Frame{}))
}

// frame lays out a datagram by hand.
func frame(kind Kind, flags byte, seq uint64, rest ...byte) []byte {
	b := make([]byte, headerLen, headerLen+len(rest))
	b[0] = byte(kind)
	b[1] = flags
	binary.BigEndian.PutUint64(b[2:], seq)
	return append(b, rest...)
}

func timestamp(sec float64) []byte {
	b := make([]byte, timestampLen)
	binary.BigEndian.PutUint64(b, math.Float64bits(sec))
	return b
}

func TestDecode_Malformed(t *testing.T) {
	encodeAck := func(ts float64) []byte {
		b, err := Encode(&Ack{Sequence: 1, Timestamp: ts})
		require.NoError(t, err)
		return b
	}

	cases := []struct {
		name string
		in   []byte
	}{
		{name: "Empty", in: nil},
		{name: "Short header", in: []byte("hello")},
		{name: "Zero type", in: frame(0, flagChecksum, 1, 0, 0, 0, 0)},
		{name: "Unknown type", in: frame(9, flagChecksum, 1, 0, 0, 0, 0)},
		{name: "Truncated checksum", in: frame(KindCorrupted, flagChecksum, 1, 0, 0)},
		{name: "Truncated timestamp", in: frame(KindData, flagTimestamp, 1, 1, 2, 3)},
		{name: "Ack without timestamp", in: frame(KindAck, flagChecksum, 1, 0, 0, 0, 0)},
		{name: "Ack from the far future", in: encodeAck(1e300)},
		{name: "Ack from the far past", in: encodeAck(-1e300)},
		{name: "Ack at infinity", in: encodeAck(math.Inf(1))},
		{name: "Ack at NaN", in: encodeAck(math.NaN())},
		{name: "Data with NaN send time", in: frame(KindData, flagTimestamp, 1, timestamp(math.NaN())...)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Decode(tc.in)
			require.Error(t, err)
			assert.Nil(t, f)
			assert.True(t, IsMalformed(err))
		})
	}
}

func TestDecode_TimestampRange(t *testing.T) {
	cases := []struct {
		name string
		ts   float64
	}{
		{name: "Epoch", ts: 0.5},
		{name: "Now", ts: 1556000000.125},
		{name: "Upper bound", ts: maxSeconds},
		{name: "Lower bound", ts: -maxSeconds},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Encode(&Ack{Sequence: 3, Timestamp: tc.ts})
			require.NoError(t, err)
			f, err := Decode(b)
			require.NoError(t, err)
			assert.True(t, Verify(f))
			assert.Equal(t, tc.ts, f.Message.(*Ack).Timestamp)
		})
	}
}

func TestEncode_Invalid(t *testing.T) {
	_, err := Encode(nil)
	assert.Error(t, err)

	_, err = Encode(&Data{Payload: make([]byte, MaxPayload+1)})
	assert.Error(t, err)
}

func TestSecondsRoundTrip(t *testing.T) {
	now := time.Unix(1556000000, 123456000)
	got := Time(Seconds(now))
	assert.InDelta(t, 0, float64(got.Sub(now)), float64(time.Microsecond))
}

func TestTime_Clamped(t *testing.T) {
	upper := time.Unix(maxSeconds, 0)
	lower := time.Unix(-maxSeconds, 0)

	cases := []struct {
		name string
		sec  float64
		want time.Time
	}{
		{name: "Huge", sec: 1e300, want: upper},
		{name: "Infinity", sec: math.Inf(1), want: upper},
		{name: "Negative huge", sec: -1e300, want: lower},
		{name: "Negative infinity", sec: math.Inf(-1), want: lower},
		{name: "NaN", sec: math.NaN(), want: time.Unix(0, 0)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.want.Equal(Time(tc.sec)), "got %v", Time(tc.sec))
		})
	}
}
