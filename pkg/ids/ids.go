// Package ids defines the opaque strictly-positive identifiers used
// throughout the query engine: queries, pipelines, sources and tasks.
package ids

import (
	"fmt"
	"sync/atomic"
)

// QueryId identifies one submitted ExecutableQueryPlan.
type QueryId uint64

// PipelineId identifies one pipeline within a plan.
type PipelineId uint64

// SourceId identifies one source within a plan.
type SourceId uint64

// TaskId is a monotonically increasing identifier assigned to every task
// enqueued by the engine, data or reconfiguration alike.
type TaskId uint64

// InvalidQueryId is the distinguished sentinel for "no query".
const InvalidQueryId QueryId = 0

// InvalidPipelineId is the distinguished sentinel for "no pipeline".
const InvalidPipelineId PipelineId = 0

// InvalidSourceId is the distinguished sentinel for "no source".
const InvalidSourceId SourceId = 0

// InvalidTaskId is the distinguished sentinel for "no task".
const InvalidTaskId TaskId = 0

func (q QueryId) String() string    { return fmt.Sprintf("query-%d", uint64(q)) }
func (p PipelineId) String() string { return fmt.Sprintf("pipeline-%d", uint64(p)) }
func (s SourceId) String() string   { return fmt.Sprintf("source-%d", uint64(s)) }
func (t TaskId) String() string     { return fmt.Sprintf("task-%d", uint64(t)) }

// Valid reports whether the identifier is not the invalid sentinel.
func (q QueryId) Valid() bool    { return q != InvalidQueryId }
func (p PipelineId) Valid() bool { return p != InvalidPipelineId }
func (s SourceId) Valid() bool   { return s != InvalidSourceId }
func (t TaskId) Valid() bool     { return t != InvalidTaskId }

// Generator hands out strictly-increasing identifiers of a given kind.
// The engine owns one Generator per identifier kind; it is the explicit,
// engine-scoped replacement for a process-wide atomic counter singleton.
type Generator struct {
	next atomic.Uint64
}

// NewGenerator returns a Generator whose first Next() call yields 1.
func NewGenerator() *Generator {
	g := &Generator{}
	g.next.Store(1)
	return g
}

// Next returns the next strictly-positive value and advances the counter.
// Safe for concurrent use from any goroutine (task-id allocation happens
// from worker goroutines as well as the orchestrator).
func (g *Generator) Next() uint64 {
	return g.next.Add(1) - 1
}
