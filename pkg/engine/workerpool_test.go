package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlattice/qengine/pkg/buffer"
	"github.com/flowlattice/qengine/pkg/ids"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []Task
}

func (d *recordingDispatcher) Dispatch(t Task, wctx *WorkerContext) {
	d.mu.Lock()
	d.tasks = append(d.tasks, t)
	d.mu.Unlock()
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

func TestWorkerPoolDistributesWorkersEvenly(t *testing.T) {
	pool := buffer.NewPool(buffer.Config{Capacity: 1, BufferSize: 16})
	d := &recordingDispatcher{}
	wp := NewWorkerPool(WorkerPoolConfig{NumWorkers: 5, NumQueues: 3}, d, pool, zerolog.Nop())
	defer wp.Shutdown()

	assert.Equal(t, 3, wp.NumQueues())
	total := 0
	for qi := 0; qi < wp.NumQueues(); qi++ {
		n := wp.WorkersOnQueue(qi)
		assert.GreaterOrEqual(t, n, 1)
		total += n
	}
	assert.Equal(t, 5, total)
}

func TestWorkerPoolDispatchesEnqueuedTasks(t *testing.T) {
	pool := buffer.NewPool(buffer.Config{Capacity: 1, BufferSize: 16})
	d := &recordingDispatcher{}
	wp := NewWorkerPool(WorkerPoolConfig{NumWorkers: 2, NumQueues: 1}, d, pool, zerolog.Nop())
	defer wp.Shutdown()

	wp.Queue(0).Push(Task{ID: ids.TaskId(1), Kind: TaskData})

	require.Eventually(t, func() bool { return d.count() == 1 }, time.Second, time.Millisecond)
}

func TestWorkerPoolShutdownJoinsAllWorkers(t *testing.T) {
	pool := buffer.NewPool(buffer.Config{Capacity: 1, BufferSize: 16})
	d := &recordingDispatcher{}
	wp := NewWorkerPool(WorkerPoolConfig{NumWorkers: 4, NumQueues: 2}, d, pool, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		wp.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return")
	}

	for _, q := range wp.queues {
		assert.Equal(t, 0, q.Len())
	}
}

func TestWorkerPoolDrainsReconfigurationAfterPoison(t *testing.T) {
	pool := buffer.NewPool(buffer.Config{Capacity: 1, BufferSize: 16})
	d := &recordingDispatcher{}
	wp := NewWorkerPool(WorkerPoolConfig{NumWorkers: 1, NumQueues: 1}, d, pool, zerolog.Nop())

	queue := wp.Queue(0)
	msg := newReconfiguration(ids.QueryId(1), ids.PipelineId(1), 1, func() error { return nil })
	queue.Push(Task{Kind: TaskStop, Reconf: msg})
	queue.Push(Task{Kind: TaskPoison})

	wp.wg.Wait()
	assert.Equal(t, 1, d.count(), "the stop task queued before poison must still be dispatched")
}
