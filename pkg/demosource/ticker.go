// Package demosource provides a minimal engine.Source for exercising the
// engine without a real transport: it emits monotonically increasing
// (id, value) tuples on a timer and then signals end of stream.
package demosource

import (
	"sync"
	"time"

	"github.com/flowlattice/qengine/pkg/buffer"
	"github.com/flowlattice/qengine/pkg/engine"
	"github.com/flowlattice/qengine/pkg/ids"
	"github.com/flowlattice/qengine/pkg/memory"
	"github.com/flowlattice/qengine/pkg/schema"
)

// Schema is the tuple layout every Ticker produces: a monotonic id and a
// value equal to seven times the id, both int64.
var Schema = schema.New(
	schema.NewScalarField("id", schema.Int64),
	schema.NewScalarField("value", schema.Int64),
)

// Ticker emits one buffer holding a single tuple every interval, for ticks
// iterations, then signals end of stream.
type Ticker struct {
	id       ids.SourceId
	pool     *buffer.Pool
	interval time.Duration
	ticks    int

	access *memory.Accessor

	mu       sync.Mutex
	once     sync.Once
	listener engine.SourceListener
	stop     chan struct{}
	done     chan struct{}
}

// NewTicker builds a Ticker identified by id, acquiring buffers from pool.
func NewTicker(id ids.SourceId, pool *buffer.Pool, interval time.Duration, ticks int) *Ticker {
	return &Ticker{
		id:       id,
		pool:     pool,
		interval: interval,
		ticks:    ticks,
		access:   memory.NewAccessor(Schema),
	}
}

func (t *Ticker) ID() ids.SourceId      { return t.id }
func (t *Ticker) Schema() *schema.Schema { return Schema }

// Open starts the background tick goroutine, delivering data through
// listener until Ticks buffers have been emitted or Close is called.
func (t *Ticker) Open(listener engine.SourceListener) error {
	t.mu.Lock()
	if t.listener != nil {
		t.mu.Unlock()
		return nil
	}
	t.listener = listener
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	t.mu.Unlock()

	listener.OnOpen(t.id)
	go t.run()
	return nil
}

func (t *Ticker) run() {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for i := 0; i < t.ticks; i++ {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
		}

		buf, err := t.pool.Acquire(t.id)
		if err != nil {
			t.listener.OnError(t.id, err)
			return
		}
		if err := t.access.Append(buf, []memory.VarVal{
			memory.NewInt64(int64(i)),
			memory.NewInt64(int64(i) * 7),
		}, t.pool); err != nil {
			buf.Release()
			t.listener.OnError(t.id, err)
			return
		}
		t.listener.OnData(t.id, buf)
	}
	t.listener.OnEndOfStream(t.id)
}

// Close stops the tick goroutine and waits for it to exit. Safe to call
// more than once and safe to call even if Open was never called.
func (t *Ticker) Close() error {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.mu.Unlock()
	if stop == nil {
		return nil
	}
	t.once.Do(func() { close(stop) })
	<-done
	return nil
}
