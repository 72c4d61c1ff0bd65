package engine

import (
	"sync"

	"github.com/flowlattice/qengine/pkg/buffer"
	"github.com/rs/zerolog"
)

// Dispatcher is implemented by QueryEngine; a WorkerPool knows nothing
// about queries or pipelines, only how to pull tasks off queues and hand
// them to whoever makes sense of them.
type Dispatcher interface {
	Dispatch(task Task, wctx *WorkerContext)
}

// WorkerPool runs T worker goroutines pinned to Q queue partitions (§4.5,
// §5). Each queue has a fixed, non-empty set of workers; the mapping is
// uniform (every queue gets floor(T/Q) or ceil(T/Q) workers) per the §9
// open question rejecting non-uniform worker-to-queue mappings.
type WorkerPool struct {
	queues        []*TaskQueue
	workersPerQ   []int
	dispatcher    Dispatcher
	pool          *buffer.Pool
	log           zerolog.Logger
	wg            sync.WaitGroup
}

// WorkerPoolConfig mirrors the configuration enumerated in §6.
type WorkerPoolConfig struct {
	NumWorkers int
	NumQueues  int
}

// NewWorkerPool builds Q queues and distributes T workers across them as
// evenly as possible, then starts all worker goroutines. dispatcher and
// pool must outlive the WorkerPool.
func NewWorkerPool(cfg WorkerPoolConfig, dispatcher Dispatcher, pool *buffer.Pool, log zerolog.Logger) *WorkerPool {
	if cfg.NumQueues <= 0 {
		cfg.NumQueues = 1
	}
	if cfg.NumWorkers < cfg.NumQueues {
		cfg.NumWorkers = cfg.NumQueues
	}
	wp := &WorkerPool{
		dispatcher: dispatcher,
		pool:       pool,
		log:        log.With().Str("component", "workerpool").Logger(),
	}
	wp.queues = make([]*TaskQueue, cfg.NumQueues)
	wp.workersPerQ = make([]int, cfg.NumQueues)
	for i := range wp.queues {
		wp.queues[i] = NewTaskQueue()
	}

	base := cfg.NumWorkers / cfg.NumQueues
	extra := cfg.NumWorkers % cfg.NumQueues
	worker := 0
	for qi := 0; qi < cfg.NumQueues; qi++ {
		n := base
		if qi < extra {
			n++
		}
		wp.workersPerQ[qi] = n
		for i := 0; i < n; i++ {
			wp.wg.Add(1)
			go wp.runWorker(qi, worker)
			worker++
		}
	}
	return wp
}

// NumQueues reports Q.
func (wp *WorkerPool) NumQueues() int { return len(wp.queues) }

// WorkersOnQueue reports how many workers are pinned to queue index qi,
// the value a reconfiguration's barrier is initialized to (§4.6).
func (wp *WorkerPool) WorkersOnQueue(qi int) int { return wp.workersPerQ[qi] }

// Queue returns the queue partition at index qi.
func (wp *WorkerPool) Queue(qi int) *TaskQueue { return wp.queues[qi] }

func (wp *WorkerPool) runWorker(queueIndex, workerIndex int) {
	defer wp.wg.Done()
	queue := wp.queues[queueIndex]
	wctx := &WorkerContext{QueueIndex: queueIndex, Pool: wp.pool}

	for {
		t, ok := queue.Pop()
		if !ok {
			return
		}
		if t.Kind == TaskPoison {
			wp.drainAfterPoison(queue, wctx)
			return
		}
		wp.dispatcher.Dispatch(t, wctx)
	}
}

// drainAfterPoison runs after a worker dequeues its poison task: it keeps
// popping non-blocking until the queue is empty, still dispatching any
// reconfiguration tasks so in-flight stop/fail sequences complete (§4.5).
// Data tasks popped here are dispatched like any other: QueryEngine.Dispatch
// expires only those whose pipeline is already stopped or failed, and
// executes the rest; they are not dropped because of shutdown. A
// sibling worker's poison pill encountered here is discarded rather than
// redelivered: that sibling is never left blocked on it, because Shutdown
// closes the queue before waiting on any worker, and TaskQueue.Pop always
// re-checks the closed flag under its own lock before blocking.
func (wp *WorkerPool) drainAfterPoison(queue *TaskQueue, wctx *WorkerContext) {
	for {
		t, ok := queue.TryPop()
		if !ok {
			return
		}
		if t.Kind == TaskPoison {
			continue
		}
		wp.dispatcher.Dispatch(t, wctx)
	}
}

// Shutdown injects one poison task per worker onto every queue, closes
// each queue as soon as its poisons are pushed, then waits for every
// worker goroutine to exit. Blocking, per §5's "Engine shutdown (stop())
// is blocking: it injects poison tasks, joins all workers, then releases
// buffer pools."
//
// Closing happens before Wait rather than after: a worker that dequeues
// its poison drains the rest of the queue non-blocking (drainAfterPoison)
// and may consume a sibling's poison pill along the way. That sibling is
// still guaranteed to wake, because Pop's blocking condition is "empty and
// not closed" and Close is visible to it the moment it next acquires the
// queue's lock, whether it is already parked in Pop or has not called Pop
// yet. Closing only after Wait would leave that sibling blocked forever,
// since nothing else ever touches the queue again.
func (wp *WorkerPool) Shutdown() {
	for qi, q := range wp.queues {
		for i := 0; i < wp.workersPerQ[qi]; i++ {
			q.Push(Task{Kind: TaskPoison})
		}
		q.Close()
	}
	wp.wg.Wait()
}
