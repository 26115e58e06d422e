// Package pool provides the shared chunk buffers used when streaming image
// bodies to disk.
package pool

import "sync"

// Pool is a typed wrapper over sync.Pool with an optional reset hook run on Put.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(*T)
}

// NewPool creates a pool. reset may be nil.
func NewPool[T any](newFunc func() T, reset func(*T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() any { return newFunc() }
	return p
}

// Get retrieves an object from the pool.
func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

// Put returns an object to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(&obj)
	}
	p.pool.Put(obj)
}

// CopyBufferSize is the chunk size used when streaming downloads to disk.
const CopyBufferSize = 32 * 1024

// CopyBufferPool provides fixed-size chunks for io.CopyBuffer.
var CopyBufferPool = NewPool(
	func() *[]byte {
		b := make([]byte, CopyBufferSize)
		return &b
	},
	nil,
)
