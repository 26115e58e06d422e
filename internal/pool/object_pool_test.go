package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool_ResetOnPut(t *testing.T) {
	resets := 0
	p := NewPool(func() []int { return make([]int, 0, 4) }, func(s *[]int) {
		resets++
		*s = (*s)[:0]
	})

	s := p.Get()
	assert.Empty(t, s)
	s = append(s, 1, 2)
	p.Put(s)

	assert.Equal(t, 1, resets)
}

func TestPool_NilReset(t *testing.T) {
	p := NewPool(func() *int { return new(int) }, nil)
	v := p.Get()
	*v = 7
	p.Put(v)
}

func TestCopyBufferPool(t *testing.T) {
	buf := CopyBufferPool.Get()
	assert.Len(t, *buf, CopyBufferSize)
	CopyBufferPool.Put(buf)
}
