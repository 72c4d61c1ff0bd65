package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowlattice/qengine/pkg/ids"
)

// lifecycle mirrors the internal query states of §3 (registered, started,
// running, stopping, stopped, failed). The engine's externally observed
// Status (§6) is a coarser projection: registered emits Started, the
// transient "started" state has no event of its own, running emits
// Running, and the two terminal internal states emit Stopped/Failed.
type lifecycle int32

const (
	lifecycleRegistered lifecycle = iota
	lifecycleStarting
	lifecycleRunning
	lifecycleStopping
	lifecycleStopped
	lifecycleFailed
)

// sourceRuntime tracks one source's contribution to a query: its successor
// pipelines and whether it has reached a terminal state yet.
type sourceRuntime struct {
	spec SourceSpec

	mu       sync.Mutex
	terminal bool
}

// markTerminal transitions the source to terminal exactly once, reporting
// whether this call performed the transition.
func (sr *sourceRuntime) markTerminal() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.terminal {
		return false
	}
	sr.terminal = true
	return true
}

// queryRuntime is the engine's internal bookkeeping for one registered
// plan: its pipelines, sources, assigned queue, and lifecycle state.
type queryRuntime struct {
	id        ids.QueryId
	plan      *ExecutableQueryPlan
	queueIdx  int
	pipelines map[ids.PipelineId]*pipelineRuntime
	topoOrder []ids.PipelineId
	sources   []*sourceRuntime

	state            atomic.Int32 // lifecycle
	remainingSources atomic.Int32
	pendingData      atomic.Int64

	statusMu      sync.Mutex
	statusCond    *sync.Cond
	status        Status
	statusEmitted bool
	reason        error
}

func newQueryRuntime(plan *ExecutableQueryPlan, byID map[ids.PipelineId]*PipelineSpec, order []ids.PipelineId, queueIdx int) *queryRuntime {
	qr := &queryRuntime{
		id:        plan.QueryId,
		plan:      plan,
		queueIdx:  queueIdx,
		pipelines: make(map[ids.PipelineId]*pipelineRuntime, len(byID)),
		topoOrder: order,
	}
	qr.statusCond = sync.NewCond(&qr.statusMu)
	for pid, spec := range byID {
		qr.pipelines[pid] = newPipelineRuntime(plan.QueryId, spec)
	}
	qr.sources = make([]*sourceRuntime, len(plan.Sources))
	for i, spec := range plan.Sources {
		qr.sources[i] = &sourceRuntime{spec: spec}
	}
	qr.remainingSources.Store(int32(len(qr.sources)))
	qr.state.Store(int32(lifecycleRegistered))
	return qr
}

func (qr *queryRuntime) pipeline(id ids.PipelineId) (*pipelineRuntime, bool) {
	pr, ok := qr.pipelines[id]
	return pr, ok
}

func (qr *queryRuntime) lifecycleState() lifecycle { return lifecycle(qr.state.Load()) }

// beginTeardown transitions the query into "stopping" exactly once,
// refusing a second teardown from Stop/Fail/graceful-drain racing each
// other. This is what gives the §8 "terminal state reached exactly once"
// invariant.
func (qr *queryRuntime) beginTeardown() bool {
	for {
		cur := qr.lifecycleState()
		if cur == lifecycleStopping || cur == lifecycleStopped || cur == lifecycleFailed {
			return false
		}
		if qr.state.CompareAndSwap(int32(cur), int32(lifecycleStopping)) {
			return true
		}
	}
}

func (qr *queryRuntime) finalize(status Status, reason error) {
	final := lifecycleStopped
	if status == StatusFailed {
		final = lifecycleFailed
	}
	qr.state.Store(int32(final))
	qr.reason = reason
	qr.setStatus(status)
}

func (qr *queryRuntime) setStatus(s Status) {
	qr.statusMu.Lock()
	qr.status = s
	qr.statusEmitted = true
	qr.statusMu.Unlock()
	qr.statusCond.Broadcast()
}

// waitForStatus blocks until the query's last-emitted external status
// equals want, or deadline passes.
func (qr *queryRuntime) waitForStatus(want Status, deadline time.Time) bool {
	timer := time.AfterFunc(time.Until(deadline), qr.statusCond.Broadcast)
	defer timer.Stop()

	qr.statusMu.Lock()
	defer qr.statusMu.Unlock()
	for {
		if qr.statusEmitted && qr.status == want {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		qr.statusCond.Wait()
	}
}

// checkGracefulDrain is called after every pendingData decrement and every
// source end of stream; it implements §4.6's source-termination handler:
// once every source has reached end of stream and no data task remains in
// flight, the query tears down exactly like stop() and emits Stopped. A
// failed source never counts toward this, so a query with a failed source
// terminates only through Fail.
func (qr *queryRuntime) checkGracefulDrain(e *QueryEngine) {
	if qr.lifecycleState() != lifecycleRunning {
		return
	}
	if qr.remainingSources.Load() > 0 {
		return
	}
	if qr.pendingData.Load() > 0 {
		return
	}
	go e.teardown(qr, StatusStopped, nil)
}
