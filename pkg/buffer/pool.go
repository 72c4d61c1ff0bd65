// Package buffer implements the fixed-capacity arena of reference-counted,
// fixed-size tuple buffers described in spec §4.1, including child-buffer
// allocation for variable-size fields.
package buffer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/flowlattice/qengine/pkg/ids"
)

// DefaultMaxChildren bounds how many child-buffer slots a single parent
// may retain (the K in §4.1's "parent buffer stores at most K
// child-indices").
const DefaultMaxChildren = 64

// Pool owns a contiguous arena of fixed-size buffers and hands out
// reference-counted *TupleBuffer handles. Capacity is enforced with a
// weighted semaphore rather than a hand-rolled condition variable free
// list: acquire() is TryAcquire, acquireBlocking() is Acquire(ctx, 1).
//
// Pool is shared across every query on a node (§5 "Shared resource
// policy"); it is constructed once and passed by reference into every
// subcomponent that needs buffers, never reached via a global.
type Pool struct {
	bufferSize int
	maxChildren int

	sem  *semaphore.Weighted
	free chan []byte

	mu     sync.Mutex
	closed bool
}

// Config configures a Pool.
type Config struct {
	// Capacity is the fixed number of buffers the arena holds.
	Capacity int
	// BufferSize is the size in bytes of each buffer slab.
	BufferSize int
	// MaxChildrenPerBuffer bounds K; 0 defaults to DefaultMaxChildren.
	MaxChildrenPerBuffer int
}

// NewPool allocates the arena's backing slabs up front and returns a ready
// Pool. Slabs are not zeroed between releases; producers must not rely on
// initial content (§4.1).
func NewPool(cfg Config) *Pool {
	maxChildren := cfg.MaxChildrenPerBuffer
	if maxChildren <= 0 {
		maxChildren = DefaultMaxChildren
	}
	p := &Pool{
		bufferSize:  cfg.BufferSize,
		maxChildren: maxChildren,
		sem:         semaphore.NewWeighted(int64(cfg.Capacity)),
		free:        make(chan []byte, cfg.Capacity),
	}
	for i := 0; i < cfg.Capacity; i++ {
		p.free <- make([]byte, cfg.BufferSize)
	}
	return p
}

// BufferSize returns the configured per-buffer size in bytes.
func (p *Pool) BufferSize() int { return p.bufferSize }

// FreeCount returns the number of buffers currently available, for tests
// asserting the §8 invariant that a released buffer increases the pool's
// free count by exactly one.
func (p *Pool) FreeCount() int { return len(p.free) }

// Acquire returns a fresh TupleBuffer immediately, or ErrOutOfBuffers if
// the arena is currently exhausted. Non-blocking.
func (p *Pool) Acquire(origin ids.SourceId) (*TupleBuffer, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}
	if !p.sem.TryAcquire(1) {
		return nil, ErrOutOfBuffers
	}
	return p.take(origin), nil
}

// AcquireBlocking waits for a buffer to become available, honoring ctx
// cancellation. This is the only suspension point on the buffer pool
// described in §5.
func (p *Pool) AcquireBlocking(ctx context.Context, origin ids.SourceId) (*TupleBuffer, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return p.take(origin), nil
}

func (p *Pool) take(origin ids.SourceId) *TupleBuffer {
	slab := <-p.free
	return &TupleBuffer{
		pool:      p,
		data:      slab,
		createdAt: time.Now(),
		origin:    origin,
		refCount:  1,
	}
}

// release returns a slab to the arena's free list and the semaphore.
// Called by TupleBuffer.Release once its reference count reaches zero.
func (p *Pool) release(slab []byte) {
	p.free <- slab
	p.sem.Release(1)
}

// Close marks the pool closed; in-flight buffers may still be released
// normally, but no new Acquire/AcquireBlocking calls will succeed.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
