package receiver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReorderBuffer(t *testing.T) {
	b := newReorderBuffer()
	_, ok := b.PopIf(0)
	assert.False(t, ok)

	b.Put(2, []byte("c"))
	b.Put(1, []byte("b"))
	assert.Equal(t, 2, b.Len())

	_, ok = b.PopIf(0)
	assert.False(t, ok)
	_, ok = b.PopIf(2)
	assert.False(t, ok, "2 is not the lowest entry")

	p, ok := b.PopIf(1)
	assert.True(t, ok)
	assert.Equal(t, []byte("b"), p)

	p, ok = b.PopIf(2)
	assert.True(t, ok)
	assert.Equal(t, []byte("c"), p)
	assert.Equal(t, 0, b.Len())
}
