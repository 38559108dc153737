package sender

import (
	"time"

	"github.com/google/btree"

	"github.com/skycoin/rdt/pkg/wire"
)

// record is a segment that was sent but not yet acknowledged.
type record struct {
	msg       *wire.Data
	firstSent time.Time
	lastSent  time.Time
	retries   int
}

type seq uint64

func (a seq) Less(b btree.Item) bool {
	return a < b.(seq)
}

// inflight holds the unacknowledged segments, iterable in sequence order.
type inflight struct {
	records map[uint64]*record
	seqs    *btree.BTree
}

func newInflight() *inflight {
	return &inflight{
		records: make(map[uint64]*record),
		seqs:    btree.New(2),
	}
}

func (m *inflight) add(r *record) {
	k := r.msg.Sequence
	m.records[k] = r
	m.seqs.ReplaceOrInsert(seq(k))
}

func (m *inflight) get(k uint64) (*record, bool) {
	r, ok := m.records[k]
	return r, ok
}

func (m *inflight) remove(k uint64) (*record, bool) {
	r, ok := m.records[k]
	if !ok {
		return nil, false
	}
	delete(m.records, k)
	m.seqs.Delete(seq(k))
	return r, true
}

func (m *inflight) len() int {
	return len(m.records)
}

// oldest returns the lowest unacknowledged sequence.
func (m *inflight) oldest() (uint64, bool) {
	s, ok := m.seqs.Min().(seq)
	return uint64(s), ok
}

// ascend calls fn for each record in sequence order until fn returns false.
// fn must not add or remove records.
func (m *inflight) ascend(fn func(r *record) bool) {
	m.seqs.Ascend(func(i btree.Item) bool {
		return fn(m.records[uint64(i.(seq))])
	})
}
