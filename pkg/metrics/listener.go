// Package metrics adapts engine.EventListener to Prometheus counters, the
// metrics-export external collaborator named in §1's scope.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowlattice/qengine/pkg/engine"
)

// Listener implements engine.EventListener, exporting one counter per
// status/statistic family registered in §6.
type Listener struct {
	queryStatus      *prometheus.CounterVec
	sourceTerminated *prometheus.CounterVec
	pipelineStarts   *prometheus.CounterVec
	pipelineStops    *prometheus.CounterVec
	taskStarted      *prometheus.CounterVec
	taskCompleted    *prometheus.CounterVec
	taskExpired      *prometheus.CounterVec
	taskEmitted      *prometheus.CounterVec
}

// NewListener registers its collectors against reg (pass
// prometheus.DefaultRegisterer for the global registry).
func NewListener(reg prometheus.Registerer) *Listener {
	l := &Listener{
		queryStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qengine_query_status_total",
			Help: "Count of query status transitions by status.",
		}, []string{"status"}),
		sourceTerminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qengine_source_termination_total",
			Help: "Count of source terminations by kind.",
		}, []string{"kind"}),
		pipelineStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qengine_pipeline_start_total",
			Help: "Count of pipeline start reconfigurations completed.",
		}, []string{"query"}),
		pipelineStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qengine_pipeline_stop_total",
			Help: "Count of pipeline stop reconfigurations completed.",
		}, []string{"query"}),
		taskStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qengine_task_execution_start_total",
			Help: "Count of data tasks that began execution.",
		}, []string{"pipeline"}),
		taskCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qengine_task_execution_complete_total",
			Help: "Count of data tasks that completed execution.",
		}, []string{"pipeline"}),
		taskExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qengine_task_expired_total",
			Help: "Count of data tasks dropped as expired.",
		}, []string{"pipeline"}),
		taskEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qengine_task_emit_total",
			Help: "Count of buffers emitted by a pipeline invocation.",
		}, []string{"pipeline"}),
	}
	reg.MustRegister(l.queryStatus, l.sourceTerminated, l.pipelineStarts, l.pipelineStops,
		l.taskStarted, l.taskCompleted, l.taskExpired, l.taskEmitted)
	return l
}

func (l *Listener) OnQueryStatus(e engine.QueryStatusEvent) {
	l.queryStatus.WithLabelValues(e.Status.String()).Inc()
}

func (l *Listener) OnSourceTermination(e engine.SourceTerminationEvent) {
	l.sourceTerminated.WithLabelValues(e.Kind.String()).Inc()
}

func (l *Listener) OnPipelineStart(e engine.PipelineLifecycleEvent) {
	l.pipelineStarts.WithLabelValues(e.Query.String()).Inc()
}

func (l *Listener) OnPipelineStop(e engine.PipelineLifecycleEvent) {
	l.pipelineStops.WithLabelValues(e.Query.String()).Inc()
}

func (l *Listener) OnTaskExecutionStart(s engine.TaskStat) {
	l.taskStarted.WithLabelValues(s.Pipeline.String()).Inc()
}

func (l *Listener) OnTaskExecutionComplete(s engine.TaskStat) {
	l.taskCompleted.WithLabelValues(s.Pipeline.String()).Inc()
}

func (l *Listener) OnTaskExpired(s engine.TaskStat) {
	l.taskExpired.WithLabelValues(s.Pipeline.String()).Inc()
}

func (l *Listener) OnTaskEmit(s engine.TaskEmitStat) {
	l.taskEmitted.WithLabelValues(s.Pipeline.String()).Add(float64(s.Count))
}
