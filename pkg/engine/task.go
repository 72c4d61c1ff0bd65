package engine

import (
	"sync"
	"sync/atomic"

	"github.com/flowlattice/qengine/pkg/buffer"
	"github.com/flowlattice/qengine/pkg/ids"
)

// TaskKind discriminates data flow from in-band control flow (§3, §9's
// "reconfiguration is one more Task.kind; workers dispatch by kind").
type TaskKind int

const (
	TaskData TaskKind = iota
	TaskStart
	TaskStop
	TaskFail
	TaskPoison
)

func (k TaskKind) String() string {
	switch k {
	case TaskData:
		return "data"
	case TaskStart:
		return "start"
	case TaskStop:
		return "stop"
	case TaskFail:
		return "fail"
	case TaskPoison:
		return "poison"
	default:
		return "unknown"
	}
}

func (k TaskKind) isReconfiguration() bool {
	return k == TaskStart || k == TaskStop || k == TaskFail
}

// ReconfigurationMessage is the in-band control payload carried by a
// non-data task (§3, §4.3, §4.6). It embeds a barrier counter initialized
// to the number of workers sharing the target queue; every worker that
// dequeues one of the message's copies decrements the barrier after
// running the lifecycle action exactly once (guarded by do), and the last
// worker to decrement closes done, releasing a blocking requester.
type ReconfigurationMessage struct {
	Query    ids.QueryId
	Pipeline ids.PipelineId // InvalidPipelineId for a query-wide fail/stop sweep trigger

	barrier atomic.Int32
	do      sync.Once
	action  func() error
	done    chan struct{}
	err     atomic.Value // error
}

// newReconfiguration builds a message with the barrier set to copies (the
// number of workers on the target queue, or 1 for a query-scoped signal
// that need not wait on every worker).
func newReconfiguration(query ids.QueryId, pipeline ids.PipelineId, copies int, action func() error) *ReconfigurationMessage {
	m := &ReconfigurationMessage{
		Query:    query,
		Pipeline: pipeline,
		action:   action,
		done:     make(chan struct{}),
	}
	m.barrier.Store(int32(copies))
	return m
}

// observe is invoked by a worker once per dequeued copy of the message. It
// runs action exactly once across all copies, then decrements the barrier;
// the copy that brings it to zero closes done.
func (m *ReconfigurationMessage) observe() {
	m.do.Do(func() {
		if err := m.action(); err != nil {
			m.err.Store(err)
		}
	})
	if m.barrier.Add(-1) == 0 {
		close(m.done)
	}
}

// wait blocks until every copy of the message has been observed, returning
// the error (if any) the lifecycle action produced.
func (m *ReconfigurationMessage) wait() error {
	<-m.done
	if e, ok := m.err.Load().(error); ok {
		return e
	}
	return nil
}

// Task is the unit of work a TaskQueue holds and a worker dequeues (§3).
// Data tasks carry a buffer; reconfiguration and poison tasks carry a
// *ReconfigurationMessage (nil for poison, which needs no action). Ticket
// is the destination pipeline's execution ticket (pipelineRuntime.
// allocateTicket), reserved at enqueue time so that dispatch can later
// wait its turn (pipelineRuntime.executeInOrder) regardless of which
// worker happens to dequeue it.
type Task struct {
	ID       ids.TaskId
	Query    ids.QueryId
	Pipeline ids.PipelineId
	Kind     TaskKind
	Buffer   *buffer.TupleBuffer
	Reconf   *ReconfigurationMessage
	Ticket   uint64
}
