package engine

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/flowlattice/qengine/pkg/buffer"
	"github.com/flowlattice/qengine/pkg/ids"
)

// OutOfBuffersBackoff retries buffer.Pool.Acquire under a token-bucket
// limiter instead of busy-spinning, for pipelines that choose to back off
// rather than mark a task expired when the pool is transiently exhausted
// (§4.1's "pipelines failing to obtain a buffer either back off or mark a
// data task as expired"). One instance is intended per pipeline, since
// sharing one rate.Limiter across pipelines would couple their backoff.
type OutOfBuffersBackoff struct {
	limiter *rate.Limiter
}

// NewOutOfBuffersBackoff builds a backoff that allows at most rps acquire
// retries per second, with a burst of burst immediate retries.
func NewOutOfBuffersBackoff(rps float64, burst int) *OutOfBuffersBackoff {
	return &OutOfBuffersBackoff{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Acquire retries pool.Acquire, waiting on the limiter between attempts,
// until it succeeds, ctx is cancelled, or buffer.ErrPoolClosed is seen.
func (b *OutOfBuffersBackoff) Acquire(ctx context.Context, pool *buffer.Pool, origin ids.SourceId) (*buffer.TupleBuffer, error) {
	for {
		buf, err := pool.Acquire(origin)
		if err == nil {
			return buf, nil
		}
		if err != buffer.ErrOutOfBuffers {
			return nil, err
		}
		if werr := b.limiter.Wait(ctx); werr != nil {
			return nil, werr
		}
	}
}

// AcquireOnce is Acquire bounded by deadline: it retries under the limiter
// until a buffer is obtained, returning buffer.ErrOutOfBuffers once the
// limiter would block past deadline. Used by a pipeline that wants to mark
// the task expired rather than back off indefinitely.
func (b *OutOfBuffersBackoff) AcquireOnce(pool *buffer.Pool, origin ids.SourceId, deadline time.Duration) (*buffer.TupleBuffer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()
	buf, err := b.Acquire(ctx, pool, origin)
	if err != nil && err != buffer.ErrPoolClosed {
		return nil, buffer.ErrOutOfBuffers
	}
	return buf, err
}
