package engine

import (
	"context"

	"github.com/flowlattice/qengine/pkg/buffer"
	"github.com/flowlattice/qengine/pkg/ids"
	"github.com/flowlattice/qengine/pkg/schema"
)

// WorkerContext is passed by reference into every Stage.Execute call. It
// carries the worker's queue affinity and the buffer provider the stage
// uses to acquire buffers for emission, following §9's "per-thread worker
// context passed by reference, not thread-local global".
type WorkerContext struct {
	QueueIndex int
	Pool       *buffer.Pool
	emit       func(buf *buffer.TupleBuffer) error
}

// Emit hands a produced buffer to the engine, which wraps it as one data
// task per successor pipeline of the stage currently executing (§4.3).
func (c *WorkerContext) Emit(buf *buffer.TupleBuffer) error { return c.emit(buf) }

// Result is what Stage.Execute returns: whether the stage is done for good
// (e.g. a bounded operator that has produced its last output) alongside any
// execution error.
type Result struct {
	Finished bool
}

// Stage is the capability every compiled pipeline exposes (§4.3, §9):
// start/execute/stop, with no inheritance hierarchy. The concrete variants
// in this package are FuncStage (also returned by NewSinkStage) and
// ProjectStage; reconfiguration and poison are task kinds handled by the
// engine and worker pool, not stages.
type Stage interface {
	Start(ctx context.Context) error
	Execute(buf *buffer.TupleBuffer, wctx *WorkerContext) (Result, error)
	Stop(ctx context.Context) error
}

// ConcurrentSafe is implemented by stages that opt out of the default
// single-threaded-per-pipeline-per-queue execution discipline (§5).
type ConcurrentSafe interface {
	ConcurrentSafe() bool
}

// SourceListener is the callback surface a Source invokes (§4.4, §6). The
// engine supplies the implementation; sources never see engine internals.
type SourceListener interface {
	OnOpen(source ids.SourceId)
	OnData(source ids.SourceId, buf *buffer.TupleBuffer)
	OnEndOfStream(source ids.SourceId)
	OnError(source ids.SourceId, reason error)
}

// Source produces tuple buffers asynchronously once opened (§4.4).
type Source interface {
	ID() ids.SourceId
	Schema() *schema.Schema
	Open(listener SourceListener) error
	Close() error
}

// PipelineKind distinguishes an ordinary operator pipeline from a sink.
type PipelineKind int

const (
	PipelineOperator PipelineKind = iota
	PipelineSink
)

// PipelineSpec is one node of an ExecutableQueryPlan's pipeline DAG.
type PipelineSpec struct {
	ID         ids.PipelineId
	Kind       PipelineKind
	Stage      Stage
	Successors []ids.PipelineId
}

// SourceSpec binds a Source to the pipelines that consume its output.
type SourceSpec struct {
	Source     Source
	Successors []ids.PipelineId
}

// ExecutableQueryPlan is the compiled query handed to the engine (§3, §6):
// a DAG of sources, pipelines and sinks. Sinks are modeled as pipelines of
// kind PipelineSink with no successors, so the DAG lives in one slice.
type ExecutableQueryPlan struct {
	QueryId   ids.QueryId
	Sources   []SourceSpec
	Pipelines []*PipelineSpec
}

// validate checks the §3 DAG invariants: acyclic, every non-source pipeline
// has at least one predecessor, every pipeline reachable from a source,
// every sink has no successors.
func (p *ExecutableQueryPlan) validate() error {
	if len(p.Sources) == 0 {
		return invalidPlanError(p.QueryId, "plan has no sources")
	}
	byID := make(map[ids.PipelineId]*PipelineSpec, len(p.Pipelines))
	for _, pl := range p.Pipelines {
		if _, dup := byID[pl.ID]; dup {
			return invalidPlanError(p.QueryId, "duplicate pipeline id "+pl.ID.String())
		}
		byID[pl.ID] = pl
	}
	for _, pl := range p.Pipelines {
		if pl.Kind == PipelineSink && len(pl.Successors) != 0 {
			return invalidPlanError(p.QueryId, "sink "+pl.ID.String()+" has successors")
		}
		for _, s := range pl.Successors {
			if _, ok := byID[s]; !ok {
				return invalidPlanError(p.QueryId, "pipeline "+pl.ID.String()+" references unknown successor "+s.String())
			}
		}
	}

	indegree := make(map[ids.PipelineId]int, len(byID))
	for id := range byID {
		indegree[id] = 0
	}
	for _, spec := range p.Sources {
		for _, s := range spec.Successors {
			if _, ok := byID[s]; !ok {
				return invalidPlanError(p.QueryId, "source "+spec.Source.ID().String()+" references unknown successor "+s.String())
			}
		}
	}
	for _, pl := range p.Pipelines {
		for _, s := range pl.Successors {
			indegree[s]++
		}
	}

	reachable := make(map[ids.PipelineId]bool, len(byID))
	var queue []ids.PipelineId
	for _, spec := range p.Sources {
		queue = append(queue, spec.Successors...)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if reachable[id] {
			continue
		}
		reachable[id] = true
		if pl, ok := byID[id]; ok {
			queue = append(queue, pl.Successors...)
		}
	}
	for id := range byID {
		if !reachable[id] {
			return invalidPlanError(p.QueryId, "pipeline "+id.String()+" is not reachable from any source")
		}
	}

	order, err := topologicalOrder(byID, p.Sources)
	if err != nil {
		return err
	}
	if len(order) != len(byID) {
		return invalidPlanError(p.QueryId, "pipeline graph contains a cycle")
	}
	return nil
}

// topologicalOrder returns pipelines in leaves-first-safe dependency order
// (a predecessor always precedes its successors) via Kahn's algorithm,
// rooted at the plan's sources. Used to drive start() order (§4.6).
func topologicalOrder(byID map[ids.PipelineId]*PipelineSpec, sources []SourceSpec) ([]ids.PipelineId, error) {
	indegree := make(map[ids.PipelineId]int, len(byID))
	for id := range byID {
		indegree[id] = 0
	}
	for _, pl := range byID {
		for _, s := range pl.Successors {
			indegree[s]++
		}
	}

	var ready []ids.PipelineId
	seeded := make(map[ids.PipelineId]bool)
	for _, spec := range sources {
		for _, s := range spec.Successors {
			if indegree[s] == 0 && !seeded[s] {
				ready = append(ready, s)
				seeded[s] = true
			}
		}
	}

	var order []ids.PipelineId
	visited := make(map[ids.PipelineId]bool, len(byID))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		order = append(order, id)
		pl := byID[id]
		for _, s := range pl.Successors {
			indegree[s]--
			if indegree[s] == 0 {
				ready = append(ready, s)
			}
		}
	}
	return order, nil
}
