package buffer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowlattice/qengine/pkg/ids"
)

// TupleBuffer is a reference-counted handle to one slab from a Pool,
// carrying the metadata described in §3: tuple count, creation time,
// origin (source lineage), watermark, and any retained child buffers for
// variable-size fields.
//
// A TupleBuffer is safe for concurrent Retain/Release from multiple
// workers; its Data() slice and tuple count must only be mutated by the
// single pipeline currently holding it for write (the engine never hands
// the same buffer to two producers concurrently for write).
type TupleBuffer struct {
	pool *Pool
	data []byte

	createdAt time.Time
	origin    ids.SourceId
	watermark int64

	numTuples atomic.Int32
	refCount  int32 // guarded by mu together with children
	mu        sync.Mutex
	children  []*TupleBuffer
}

// Data returns the buffer's backing slice. Callers index into it using
// offsets computed by pkg/memory; NOT zeroed between uses.
func (b *TupleBuffer) Data() []byte { return b.data }

// Size returns the buffer's total capacity in bytes.
func (b *TupleBuffer) Size() int { return len(b.data) }

// NumberOfTuples returns the current tuple count.
func (b *TupleBuffer) NumberOfTuples() int { return int(b.numTuples.Load()) }

// SetNumberOfTuples overwrites the tuple count directly (used by producers
// that fill several rows at once before a single count update).
func (b *TupleBuffer) SetNumberOfTuples(n int) { b.numTuples.Store(int32(n)) }

// IncrementTuples bumps the tuple count by one and returns the new value,
// used by MemoryAccessor.Append's atomic bump-then-write.
func (b *TupleBuffer) IncrementTuples() int {
	return int(b.numTuples.Add(1))
}

// CreatedAt returns the buffer's creation timestamp.
func (b *TupleBuffer) CreatedAt() time.Time { return b.createdAt }

// Origin returns the source lineage id this buffer was produced from.
func (b *TupleBuffer) Origin() ids.SourceId { return b.origin }

// Watermark returns the buffer's watermark value.
func (b *TupleBuffer) Watermark() int64 { return b.watermark }

// SetWatermark updates the buffer's watermark value.
func (b *TupleBuffer) SetWatermark(w int64) { b.watermark = w }

// Retain increments the reference count; call once per additional holder
// (e.g. once per successor queue a buffer is fanned out to) beyond the
// initial holder returned by Acquire.
func (b *TupleBuffer) Retain() {
	b.mu.Lock()
	b.refCount++
	b.mu.Unlock()
}

// Release decrements the reference count. When it reaches zero the
// buffer's slab returns to the pool and every retained child buffer is
// released transitively (parent-owns-child lifetime, §3).
func (b *TupleBuffer) Release() {
	b.mu.Lock()
	b.refCount--
	n := b.refCount
	var children []*TupleBuffer
	if n == 0 {
		children = b.children
		b.children = nil
	}
	b.mu.Unlock()

	if n < 0 {
		panic("buffer: TupleBuffer released more times than retained")
	}
	if n != 0 {
		return
	}
	for _, c := range children {
		c.Release()
	}
	b.pool.release(b.data)
}

// RefCount returns the current reference count, for tests.
func (b *TupleBuffer) RefCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.refCount)
}

// AllocateChild acquires a fresh buffer from the same pool to hold a
// variable-size field's payload, retains it for at least the parent's
// lifetime, and returns its index within this parent's child list (the
// value stored inline in the row per the TupleBufferRef convention). The
// child-buffer list is append-only during the parent's lifetime, so there
// are no reference cycles by construction (REDESIGN FLAGS item 4).
func (b *TupleBuffer) AllocateChild(provider ChildProvider) (child *TupleBuffer, index uint32, err error) {
	b.mu.Lock()
	if len(b.children) >= b.pool.maxChildren {
		b.mu.Unlock()
		return nil, 0, ErrTooManyChildren
	}
	b.mu.Unlock()

	child, err = provider.Acquire(b.origin)
	if err != nil {
		return nil, 0, err
	}

	b.mu.Lock()
	idx := uint32(len(b.children))
	b.children = append(b.children, child)
	b.mu.Unlock()
	return child, idx, nil
}

// ChildAt returns the child buffer previously allocated at index, for
// reading a variable-size field back out.
func (b *TupleBuffer) ChildAt(index uint32) *TupleBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(index) >= len(b.children) {
		return nil
	}
	return b.children[index]
}

// ChildProvider is the minimal capability MemoryAccessor needs to
// allocate a child buffer for a variable-size field write. *Pool is the
// only implementation: every child buffer is acquired from the same
// arena as its parent, never from the parent itself.
type ChildProvider interface {
	Acquire(origin ids.SourceId) (*TupleBuffer, error)
}
