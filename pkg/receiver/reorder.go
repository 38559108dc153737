package receiver

import (
	"github.com/google/btree"
)

type segment struct {
	seq uint64
	p   []byte
}

func (a segment) Less(b btree.Item) bool {
	return a.seq < b.(segment).seq
}

// reorderBuffer holds accepted segments until every lower sequence has
// been delivered.
type reorderBuffer struct {
	segs *btree.BTree
}

func newReorderBuffer() *reorderBuffer {
	return &reorderBuffer{segs: btree.New(2)}
}

// Put stores p under seq, replacing any earlier entry.
func (b *reorderBuffer) Put(seq uint64, p []byte) {
	b.segs.ReplaceOrInsert(segment{seq: seq, p: p})
}

// PopIf removes and returns the lowest entry if its sequence is seq.
func (b *reorderBuffer) PopIf(seq uint64) ([]byte, bool) {
	min, ok := b.segs.Min().(segment)
	if !ok || min.seq != seq {
		return nil, false
	}
	b.segs.DeleteMin()
	return min.p, true
}

func (b *reorderBuffer) Len() int {
	return b.segs.Len()
}
