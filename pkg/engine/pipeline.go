package engine

import (
	"sync"
	"sync/atomic"

	"github.com/flowlattice/qengine/pkg/ids"
)

// pipelineState mirrors §3's pipeline state machine: a pipeline enters
// running exactly once; once stopped or failed it never executes again.
type pipelineState int32

const (
	pipelineCreated pipelineState = iota
	pipelineRunning
	pipelineStopped
	pipelineFailed
)

// pipelineRuntime wraps one PipelineSpec with the bookkeeping the engine
// needs to drive it: current state and, absent an explicit opt-in via
// ConcurrentSafe, a ticket lock enforcing the default single-threaded-
// per-pipeline-per-queue discipline from §5 in actual enqueue order. A
// plain mutex only gives mutual exclusion, not ordering: with more than
// one worker on a queue, two tasks for the same pipeline can be dequeued
// by different workers and race for the mutex in either order. The
// ticket lock fixes that by having every enqueue site reserve a ticket
// up front (allocateTicket), then having execution wait its turn
// (executeInOrder) before running, which is what makes the reconfiguration
// barrier in task.go and the §8 "T1 completes before T2 executes" ordering
// observably correct when a queue has more than one worker.
type pipelineRuntime struct {
	spec       *PipelineSpec
	query      ids.QueryId
	state      atomic.Int32
	concurrent bool

	execMu    sync.Mutex
	execCond  *sync.Cond
	ticketSeq uint64
	turn      uint64
}

func newPipelineRuntime(query ids.QueryId, spec *PipelineSpec) *pipelineRuntime {
	concurrent := false
	if cs, ok := spec.Stage.(ConcurrentSafe); ok {
		concurrent = cs.ConcurrentSafe()
	}
	r := &pipelineRuntime{spec: spec, query: query, concurrent: concurrent}
	r.execCond = sync.NewCond(&r.execMu)
	r.state.Store(int32(pipelineCreated))
	return r
}

func (r *pipelineRuntime) load() pipelineState { return pipelineState(r.state.Load()) }

func (r *pipelineRuntime) terminal() bool {
	switch r.load() {
	case pipelineStopped, pipelineFailed:
		return true
	default:
		return false
	}
}

// allocateTicket reserves this pipeline's next execution slot. Callers
// must invoke it at the moment a task targeting this pipeline is enqueued,
// in enqueue order, so the ticket later passed to executeInOrder reflects
// true queue order rather than dequeue order.
func (r *pipelineRuntime) allocateTicket() uint64 {
	r.execMu.Lock()
	t := r.ticketSeq
	r.ticketSeq++
	r.execMu.Unlock()
	return t
}

// executeInOrder runs fn once ticket's turn arrives, unless the stage
// declared itself concurrent-safe (§5's default). Tickets are served in
// strictly increasing order and exactly one ticket executes at a time, so
// this provides both the mutual exclusion and the FIFO ordering that a
// bare mutex cannot: whichever worker dequeued the earlier-ticketed task
// always runs (and finishes) first, regardless of dequeue order.
func (r *pipelineRuntime) executeInOrder(ticket uint64, fn func() error) error {
	if r.concurrent {
		return fn()
	}

	r.execMu.Lock()
	for ticket != r.turn {
		r.execCond.Wait()
	}
	r.execMu.Unlock()

	err := fn()

	r.execMu.Lock()
	r.turn++
	r.execCond.Broadcast()
	r.execMu.Unlock()
	return err
}
