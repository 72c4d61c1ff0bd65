package engine

import "github.com/flowlattice/qengine/pkg/ids"

// Status is a query's externally observable lifecycle state (§4.6, §6).
type Status int

const (
	StatusStarted Status = iota
	StatusRunning
	StatusStopped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusStarted:
		return "Started"
	case StatusRunning:
		return "Running"
	case StatusStopped:
		return "Stopped"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// TerminationKind classifies why a source stopped producing data (§6).
type TerminationKind int

const (
	TerminationGraceful TerminationKind = iota
	TerminationFailure
	TerminationHard
)

func (k TerminationKind) String() string {
	switch k {
	case TerminationGraceful:
		return "Graceful"
	case TerminationFailure:
		return "Failure"
	case TerminationHard:
		return "Hard"
	default:
		return "Unknown"
	}
}

// QueryStatusEvent reports a transition in a query's lifecycle.
type QueryStatusEvent struct {
	Query  ids.QueryId
	Status Status
	Reason error
}

// SourceTerminationEvent reports why one source of a query stopped.
type SourceTerminationEvent struct {
	Query  ids.QueryId
	Source ids.SourceId
	Kind   TerminationKind
}

// PipelineLifecycleEvent reports a pipeline entering or leaving running state.
type PipelineLifecycleEvent struct {
	Query    ids.QueryId
	Pipeline ids.PipelineId
}

// TaskStat reports a single task's execution disposition, for the
// TaskExecutionStart/Complete/Expired family in §6.
type TaskStat struct {
	Query    ids.QueryId
	Pipeline ids.PipelineId
	Task     ids.TaskId
}

// TaskEmitStat reports how many buffers a pipeline invocation emitted.
type TaskEmitStat struct {
	Query    ids.QueryId
	Pipeline ids.PipelineId
	Count    int
}

// EventListener is the pluggable out-edge for engine observability (§4.7).
// Implementations must be safe for concurrent invocation from arbitrary
// worker goroutines as well as the orchestrator goroutine.
type EventListener interface {
	OnQueryStatus(QueryStatusEvent)
	OnSourceTermination(SourceTerminationEvent)
	OnPipelineStart(PipelineLifecycleEvent)
	OnPipelineStop(PipelineLifecycleEvent)
	OnTaskExecutionStart(TaskStat)
	OnTaskExecutionComplete(TaskStat)
	OnTaskExpired(TaskStat)
	OnTaskEmit(TaskEmitStat)
}

// NopListener implements EventListener with no-ops, for callers that do not
// need observability (tests exercising only the engine's return values).
type NopListener struct{}

func (NopListener) OnQueryStatus(QueryStatusEvent)               {}
func (NopListener) OnSourceTermination(SourceTerminationEvent)   {}
func (NopListener) OnPipelineStart(PipelineLifecycleEvent)       {}
func (NopListener) OnPipelineStop(PipelineLifecycleEvent)        {}
func (NopListener) OnTaskExecutionStart(TaskStat)                {}
func (NopListener) OnTaskExecutionComplete(TaskStat)             {}
func (NopListener) OnTaskExpired(TaskStat)                       {}
func (NopListener) OnTaskEmit(TaskEmitStat)                      {}

// multiListener fans events out to several listeners; built by Fanout when
// more than one non-nil listener is supplied.
type multiListener struct {
	listeners []EventListener
}

// Fanout combines several listeners into one, so the engine (which accepts
// exactly one EventListener) can drive metrics, logging and control-plane
// status tracking simultaneously. Nil entries are ignored.
func Fanout(listeners ...EventListener) EventListener {
	return fanout(listeners...)
}

func fanout(listeners ...EventListener) EventListener {
	filtered := make([]EventListener, 0, len(listeners))
	for _, l := range listeners {
		if l != nil {
			filtered = append(filtered, l)
		}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &multiListener{listeners: filtered}
}

func (m *multiListener) OnQueryStatus(e QueryStatusEvent) {
	for _, l := range m.listeners {
		l.OnQueryStatus(e)
	}
}
func (m *multiListener) OnSourceTermination(e SourceTerminationEvent) {
	for _, l := range m.listeners {
		l.OnSourceTermination(e)
	}
}
func (m *multiListener) OnPipelineStart(e PipelineLifecycleEvent) {
	for _, l := range m.listeners {
		l.OnPipelineStart(e)
	}
}
func (m *multiListener) OnPipelineStop(e PipelineLifecycleEvent) {
	for _, l := range m.listeners {
		l.OnPipelineStop(e)
	}
}
func (m *multiListener) OnTaskExecutionStart(s TaskStat) {
	for _, l := range m.listeners {
		l.OnTaskExecutionStart(s)
	}
}
func (m *multiListener) OnTaskExecutionComplete(s TaskStat) {
	for _, l := range m.listeners {
		l.OnTaskExecutionComplete(s)
	}
}
func (m *multiListener) OnTaskExpired(s TaskStat) {
	for _, l := range m.listeners {
		l.OnTaskExpired(s)
	}
}
func (m *multiListener) OnTaskEmit(s TaskEmitStat) {
	for _, l := range m.listeners {
		l.OnTaskEmit(s)
	}
}
