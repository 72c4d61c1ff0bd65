// Package engine implements the per-node query engine described across
// the runtime's component design: query lifecycle orchestration, the
// reconfiguration-as-task-queue-entry mechanism, and the worker pool that
// drives compiled pipeline stages to completion.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/flowlattice/qengine/pkg/buffer"
	"github.com/flowlattice/qengine/pkg/ids"
)

// Config configures a QueryEngine (§6's enumerated configuration, minus
// the buffer pool sizing which is owned by the caller's *buffer.Pool).
type Config struct {
	NumWorkers int
	NumQueues  int
}

// QueryEngine is the lifecycle orchestrator of §4.6: it accepts plans,
// tracks per-query and per-pipeline state, drives start/stop/fail, injects
// reconfiguration tasks, and emits status events. It also owns the worker
// pool that actually executes tasks, playing the role of its Dispatcher.
type QueryEngine struct {
	pool     *buffer.Pool
	workers  *WorkerPool
	listener EventListener
	taskIds  *ids.Generator
	log      zerolog.Logger

	mu        sync.RWMutex
	queries   map[ids.QueryId]*queryRuntime
	nextQueue int
}

// New builds a QueryEngine backed by pool, wired to listener (pass
// NopListener{} for none), and starts its worker pool immediately.
func New(cfg Config, pool *buffer.Pool, listener EventListener, log zerolog.Logger) *QueryEngine {
	e := &QueryEngine{
		pool:     pool,
		listener: listener,
		taskIds:  ids.NewGenerator(),
		log:      log.With().Str("component", "queryengine").Logger(),
		queries:  make(map[ids.QueryId]*queryRuntime),
	}
	e.workers = NewWorkerPool(WorkerPoolConfig{NumWorkers: cfg.NumWorkers, NumQueues: cfg.NumQueues}, e, pool, log)
	return e
}

// Register validates plan's DAG, assigns it a queue, and transitions the
// query to its registered state, emitting Started (§4.6).
func (e *QueryEngine) Register(plan *ExecutableQueryPlan) error {
	if err := plan.validate(); err != nil {
		return err
	}
	byID := make(map[ids.PipelineId]*PipelineSpec, len(plan.Pipelines))
	for _, pl := range plan.Pipelines {
		byID[pl.ID] = pl
	}
	order, err := topologicalOrder(byID, plan.Sources)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if _, exists := e.queries[plan.QueryId]; exists {
		e.mu.Unlock()
		return invalidPlanError(plan.QueryId, "query already registered")
	}
	queueIdx := e.nextQueue % e.workers.NumQueues()
	e.nextQueue++
	qr := newQueryRuntime(plan, byID, order, queueIdx)
	e.queries[plan.QueryId] = qr
	e.mu.Unlock()

	e.log.Info().Stringer("query", plan.QueryId).Int("queue", queueIdx).Msg("query registered")
	e.listener.OnQueryStatus(QueryStatusEvent{Query: plan.QueryId, Status: StatusStarted})
	return nil
}

func (e *QueryEngine) lookup(query ids.QueryId) (*queryRuntime, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	qr, ok := e.queries[query]
	return qr, ok
}

// Start enqueues start reconfiguration tasks for every pipeline of query
// in topological (leaves-first) order, then opens its sources (§4.6). It
// blocks until every pipeline start either succeeds or one fails; on
// failure the query transitions to Failed after best-effort teardown of
// whatever pipelines had already started.
func (e *QueryEngine) Start(query ids.QueryId) error {
	qr, ok := e.lookup(query)
	if !ok {
		return fmt.Errorf("engine: unknown query %s", query)
	}
	if !qr.state.CompareAndSwap(int32(lifecycleRegistered), int32(lifecycleStarting)) {
		return fmt.Errorf("engine: query %s is not in registered state", query)
	}

	for _, pid := range qr.topoOrder {
		pr := qr.pipelines[pid]
		if err := e.runReconfiguration(qr, pr, TaskStart, func() error {
			return pr.spec.Stage.Start(context.Background())
		}); err != nil {
			pr.state.Store(int32(pipelineFailed))
			stopErr := e.stopRunningPipelinesReverse(qr)
			reason := multierror.Append(pipelineStartError(qr.id, pid, err))
			if stopErr != nil {
				reason = multierror.Append(reason, stopErr)
			}
			qr.finalize(StatusFailed, reason)
			e.listener.OnQueryStatus(QueryStatusEvent{Query: qr.id, Status: StatusFailed, Reason: reason})
			e.log.Error().Err(err).Stringer("query", qr.id).Stringer("pipeline", pid).Msg("pipeline start failed")
			return reason
		}
		pr.state.Store(int32(pipelineRunning))
		e.listener.OnPipelineStart(PipelineLifecycleEvent{Query: qr.id, Pipeline: pid})
	}

	qr.state.Store(int32(lifecycleRunning))
	qr.setStatus(StatusRunning)
	e.listener.OnQueryStatus(QueryStatusEvent{Query: qr.id, Status: StatusRunning})

	for _, sr := range qr.sources {
		listener := &sourceListenerAdapter{engine: e, qr: qr, sr: sr}
		if err := sr.spec.Source.Open(listener); err != nil {
			go e.Fail(qr.id, err)
			break
		}
	}
	return nil
}

// Stop injects stop reconfigurations for query's pipelines in reverse
// topological order after closing its sources, then emits Stopped. Async
// and idempotent (§4.6, §6): a second call while teardown is in flight or
// after it completed is a no-op.
func (e *QueryEngine) Stop(query ids.QueryId) error {
	qr, ok := e.lookup(query)
	if !ok {
		return fmt.Errorf("engine: unknown query %s", query)
	}
	go e.teardown(qr, StatusStopped, nil)
	return nil
}

// Fail behaves like Stop but always terminates the query with Failed,
// reason recorded in the terminal status event (§4.6, §7).
func (e *QueryEngine) Fail(query ids.QueryId, reason error) error {
	qr, ok := e.lookup(query)
	if !ok {
		return fmt.Errorf("engine: unknown query %s", query)
	}
	go e.teardown(qr, StatusFailed, reason)
	return nil
}

// WaitForStatus blocks until query's externally observed status equals
// want or deadline passes, returning whether it was observed in time.
func (e *QueryEngine) WaitForStatus(query ids.QueryId, want Status, deadline time.Time) bool {
	qr, ok := e.lookup(query)
	if !ok {
		return false
	}
	return qr.waitForStatus(want, deadline)
}

// teardown performs the shared stop/fail/graceful-drain path: close every
// source (idempotent; sources not already terminal are reported as a Hard
// termination), stop every still-running pipeline in reverse topological
// order, then emit the terminal status. Only the first caller to win
// beginTeardown's CAS actually runs this; later callers are no-ops,
// which is what makes Stop/Fail idempotent.
func (e *QueryEngine) teardown(qr *queryRuntime, status Status, reason error) {
	if !qr.beginTeardown() {
		return
	}

	for _, sr := range qr.sources {
		if sr.markTerminal() {
			qr.remainingSources.Add(-1)
			e.listener.OnSourceTermination(SourceTerminationEvent{Query: qr.id, Source: sr.spec.Source.ID(), Kind: TerminationHard})
		}
		if err := sr.spec.Source.Close(); err != nil {
			e.log.Warn().Err(err).Stringer("query", qr.id).Msg("source close returned error during teardown")
		}
	}

	if err := e.stopRunningPipelinesReverse(qr); err != nil {
		reason = multierror.Append(reason, err)
		status = StatusFailed
	}

	qr.finalize(status, reason)
	e.listener.OnQueryStatus(QueryStatusEvent{Query: qr.id, Status: status, Reason: reason})
	e.log.Info().Stringer("query", qr.id).Str("status", status.String()).Msg("query terminated")
}

// stopRunningPipelinesReverse stops every pipeline currently in the
// running state, in reverse topological order, aggregating any errors.
func (e *QueryEngine) stopRunningPipelinesReverse(qr *queryRuntime) error {
	var errs error
	for i := len(qr.topoOrder) - 1; i >= 0; i-- {
		pid := qr.topoOrder[i]
		pr := qr.pipelines[pid]
		if pipelineState(pr.state.Load()) != pipelineRunning {
			continue
		}
		err := e.runReconfiguration(qr, pr, TaskStop, func() error {
			return pr.spec.Stage.Stop(context.Background())
		})
		pr.state.Store(int32(pipelineStopped))
		e.listener.OnPipelineStop(PipelineLifecycleEvent{Query: qr.id, Pipeline: pid})
		if err != nil {
			errs = multierror.Append(errs, pipelineStopError(qr.id, pid, err))
			e.log.Error().Err(err).Stringer("query", qr.id).Stringer("pipeline", pid).Msg("pipeline stop failed")
		}
	}
	return errs
}

// runReconfiguration pushes one copy of a reconfiguration task per worker
// on qr's queue (§4.6's barrier) and blocks until every copy has been
// observed, returning the lifecycle action's error if any. The single
// underlying action (whichever copy's observe() runs it first) reserves
// its execution ticket here, at the moment all copies are enqueued, so it
// takes its place in pr's true enqueue order relative to surrounding data
// tasks rather than whatever order a worker happens to dequeue a copy.
func (e *QueryEngine) runReconfiguration(qr *queryRuntime, pr *pipelineRuntime, kind TaskKind, action func() error) error {
	copies := e.workers.WorkersOnQueue(qr.queueIdx)
	ticket := pr.allocateTicket()
	msg := newReconfiguration(qr.id, pr.spec.ID, copies, func() error {
		return pr.executeInOrder(ticket, action)
	})
	queue := e.workers.Queue(qr.queueIdx)
	for i := 0; i < copies; i++ {
		queue.Push(Task{ID: ids.TaskId(e.taskIds.Next()), Query: qr.id, Pipeline: pr.spec.ID, Kind: kind, Reconf: msg})
	}
	return msg.wait()
}

// Dispatch is invoked by a worker goroutine for every dequeued task. It is
// the WorkerPool's Dispatcher implementation.
func (e *QueryEngine) Dispatch(t Task, wctx *WorkerContext) {
	if t.Kind != TaskData {
		if t.Reconf != nil {
			t.Reconf.observe()
		}
		return
	}

	qr, ok := e.lookup(t.Query)
	if !ok {
		if t.Buffer != nil {
			t.Buffer.Release()
		}
		return
	}
	pr, ok := qr.pipeline(t.Pipeline)
	if !ok || pr.terminal() {
		e.listener.OnTaskExpired(TaskStat{Query: t.Query, Pipeline: t.Pipeline, Task: t.ID})
		if t.Buffer != nil {
			t.Buffer.Release()
		}
		qr.pendingData.Add(-1)
		qr.checkGracefulDrain(e)
		return
	}

	e.listener.OnTaskExecutionStart(TaskStat{Query: t.Query, Pipeline: t.Pipeline, Task: t.ID})
	wctx.emit = func(buf *buffer.TupleBuffer) error { return e.emit(qr, pr, buf) }

	err := pr.executeInOrder(t.Ticket, func() error {
		_, execErr := pr.spec.Stage.Execute(t.Buffer, wctx)
		return execErr
	})
	t.Buffer.Release()
	qr.pendingData.Add(-1)

	if err != nil {
		e.log.Error().Err(err).Stringer("query", t.Query).Stringer("pipeline", t.Pipeline).Msg("pipeline execute failed")
		go e.Fail(t.Query, pipelineExecuteError(t.Query, t.Pipeline, err))
		qr.checkGracefulDrain(e)
		return
	}
	e.listener.OnTaskExecutionComplete(TaskStat{Query: t.Query, Pipeline: t.Pipeline, Task: t.ID})
	qr.checkGracefulDrain(e)
}

// emit fans a produced buffer out to the successors of the pipeline that
// produced it, one data task per successor, each retaining an additional
// reference as needed (§4.3). Each task reserves its destination
// pipeline's execution ticket here, at enqueue time, so §8's per-pipeline
// ordering holds regardless of which worker later dequeues it.
func (e *QueryEngine) emit(qr *queryRuntime, from *pipelineRuntime, buf *buffer.TupleBuffer) error {
	successors := from.spec.Successors
	if len(successors) == 0 {
		buf.Release()
		return nil
	}
	queue := e.workers.Queue(qr.queueIdx)
	for i, succ := range successors {
		if i > 0 {
			buf.Retain()
		}
		qr.pendingData.Add(1)
		ticket := uint64(0)
		if sp, ok := qr.pipeline(succ); ok {
			ticket = sp.allocateTicket()
		}
		queue.Push(Task{ID: ids.TaskId(e.taskIds.Next()), Query: qr.id, Pipeline: succ, Kind: TaskData, Buffer: buf, Ticket: ticket})
	}
	e.listener.OnTaskEmit(TaskEmitStat{Query: qr.id, Pipeline: from.spec.ID, Count: len(successors)})
	return nil
}

// Shutdown is the engine-wide, query-agnostic stop of §5: it injects
// poison tasks, joins every worker goroutine, then closes the buffer
// pool. It never touches individual query lifecycle state. A query whose
// Stop/Fail was never called simply stops making progress once its queue
// goes silent.
func (e *QueryEngine) Shutdown() {
	e.workers.Shutdown()
	e.pool.Close()
}

// sourceListenerAdapter implements SourceListener, routing a source's
// callbacks into the engine's task injection and termination handling.
type sourceListenerAdapter struct {
	engine *QueryEngine
	qr     *queryRuntime
	sr     *sourceRuntime
}

func (a *sourceListenerAdapter) OnOpen(source ids.SourceId) {
	a.engine.log.Debug().Stringer("query", a.qr.id).Stringer("source", source).Msg("source opened")
}

func (a *sourceListenerAdapter) OnData(source ids.SourceId, buf *buffer.TupleBuffer) {
	successors := a.sr.spec.Successors
	if len(successors) == 0 {
		buf.Release()
		return
	}
	queue := a.engine.workers.Queue(a.qr.queueIdx)
	for i, succ := range successors {
		if i > 0 {
			buf.Retain()
		}
		a.qr.pendingData.Add(1)
		ticket := uint64(0)
		if sp, ok := a.qr.pipeline(succ); ok {
			ticket = sp.allocateTicket()
		}
		queue.Push(Task{ID: ids.TaskId(a.engine.taskIds.Next()), Query: a.qr.id, Pipeline: succ, Kind: TaskData, Buffer: buf, Ticket: ticket})
	}
}

func (a *sourceListenerAdapter) OnEndOfStream(source ids.SourceId) {
	if a.sr.markTerminal() {
		a.qr.remainingSources.Add(-1)
		a.engine.listener.OnSourceTermination(SourceTerminationEvent{Query: a.qr.id, Source: source, Kind: TerminationGraceful})
	}
	a.qr.checkGracefulDrain(a.engine)
}

func (a *sourceListenerAdapter) OnError(source ids.SourceId, reason error) {
	if a.sr.markTerminal() {
		a.engine.listener.OnSourceTermination(SourceTerminationEvent{Query: a.qr.id, Source: source, Kind: TerminationFailure})
	}
	go a.engine.Fail(a.qr.id, sourceFailureError(a.qr.id, reason))
}
