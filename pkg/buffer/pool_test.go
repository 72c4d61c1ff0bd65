package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlattice/qengine/pkg/ids"
)

func TestPoolAcquireReleaseRoundTrip(t *testing.T) {
	pool := NewPool(Config{Capacity: 2, BufferSize: 64})
	assert.Equal(t, 2, pool.FreeCount())

	buf, err := pool.Acquire(ids.SourceId(1))
	require.NoError(t, err)
	assert.Equal(t, 1, pool.FreeCount())
	assert.Equal(t, 1, buf.RefCount())
	assert.Equal(t, ids.SourceId(1), buf.Origin())

	buf.Release()
	assert.Equal(t, 2, pool.FreeCount())
}

func TestPoolAcquireOutOfBuffers(t *testing.T) {
	pool := NewPool(Config{Capacity: 1, BufferSize: 16})
	first, err := pool.Acquire(ids.SourceId(1))
	require.NoError(t, err)

	_, err = pool.Acquire(ids.SourceId(1))
	assert.ErrorIs(t, err, ErrOutOfBuffers)

	first.Release()
	second, err := pool.Acquire(ids.SourceId(1))
	require.NoError(t, err)
	second.Release()
}

func TestPoolAcquireBlockingWaitsForRelease(t *testing.T) {
	pool := NewPool(Config{Capacity: 1, BufferSize: 16})
	first, err := pool.Acquire(ids.SourceId(1))
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(released)
		first.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	second, err := pool.AcquireBlocking(ctx, ids.SourceId(1))
	require.NoError(t, err)
	defer second.Release()

	select {
	case <-released:
	default:
		t.Fatal("AcquireBlocking returned before the first buffer was released")
	}
}

func TestPoolAcquireBlockingRespectsContext(t *testing.T) {
	pool := NewPool(Config{Capacity: 1, BufferSize: 16})
	first, err := pool.Acquire(ids.SourceId(1))
	require.NoError(t, err)
	defer first.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = pool.AcquireBlocking(ctx, ids.SourceId(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolClosedRejectsAcquire(t *testing.T) {
	pool := NewPool(Config{Capacity: 1, BufferSize: 16})
	pool.Close()
	_, err := pool.Acquire(ids.SourceId(1))
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestBufferRetainReleaseRefCounting(t *testing.T) {
	pool := NewPool(Config{Capacity: 1, BufferSize: 16})
	buf, err := pool.Acquire(ids.SourceId(1))
	require.NoError(t, err)

	buf.Retain()
	assert.Equal(t, 2, buf.RefCount())
	assert.Equal(t, 0, pool.FreeCount())

	buf.Release()
	assert.Equal(t, 0, pool.FreeCount(), "buffer still retained once")

	buf.Release()
	assert.Equal(t, 1, pool.FreeCount())
}

func TestBufferReleaseBelowZeroPanics(t *testing.T) {
	pool := NewPool(Config{Capacity: 1, BufferSize: 16})
	buf, err := pool.Acquire(ids.SourceId(1))
	require.NoError(t, err)
	buf.Release()

	assert.Panics(t, func() { buf.Release() })
}

func TestAllocateChildReleasesTransitivelyWithParent(t *testing.T) {
	pool := NewPool(Config{Capacity: 2, BufferSize: 16})
	parent, err := pool.Acquire(ids.SourceId(1))
	require.NoError(t, err)

	child, idx, err := parent.AllocateChild(pool)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), idx)
	assert.Same(t, child, parent.ChildAt(0))
	assert.Equal(t, 0, pool.FreeCount())

	parent.Release()
	assert.Equal(t, 2, pool.FreeCount(), "releasing the parent must release its child too")
}

func TestAllocateChildRespectsMaxChildren(t *testing.T) {
	pool := NewPool(Config{Capacity: 3, BufferSize: 16, MaxChildrenPerBuffer: 1})
	parent, err := pool.Acquire(ids.SourceId(1))
	require.NoError(t, err)
	defer parent.Release()

	_, _, err = parent.AllocateChild(pool)
	require.NoError(t, err)

	_, _, err = parent.AllocateChild(pool)
	assert.ErrorIs(t, err, ErrTooManyChildren)
}
