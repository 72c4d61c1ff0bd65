// Command qengine runs a single-node query engine: it loads configuration,
// wires logging, metrics and the control plane to a QueryEngine, and serves
// until interrupted; demo queries are registered through POST /queries.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowlattice/qengine/pkg/buffer"
	"github.com/flowlattice/qengine/pkg/config"
	"github.com/flowlattice/qengine/pkg/controlplane"
	"github.com/flowlattice/qengine/pkg/demosource"
	"github.com/flowlattice/qengine/pkg/engine"
	"github.com/flowlattice/qengine/pkg/ids"
	"github.com/flowlattice/qengine/pkg/logobs"
	"github.com/flowlattice/qengine/pkg/memory"
	"github.com/flowlattice/qengine/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON configuration file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "qengine: loading configuration:", err)
		os.Exit(1)
	}

	log := logobs.New(logobs.Config{Level: logobs.InfoLevel, Output: os.Stdout, Component: "qengine"})
	log.Info(fmt.Sprintf("starting with %d workers across %d queues", cfg.NumberOfWorkers, cfg.NumberOfQueues))

	pool := buffer.NewPool(buffer.Config{Capacity: cfg.BufferPoolCapacity, BufferSize: cfg.BufferSize})

	registry := prometheus.NewRegistry()
	metricsListener := metrics.NewListener(registry)
	statusListener := controlplane.NewStatusListener()
	listener := engine.Fanout(metricsListener, statusListener)

	eng := engine.New(engine.Config{NumWorkers: cfg.NumberOfWorkers, NumQueues: cfg.NumberOfQueues}, pool, listener, log.Zerolog())

	server := controlplane.NewServer(eng, buildDemoPlan(pool, log), statusListener, log.Zerolog())

	controlHTTP := &http.Server{Addr: cfg.ControlPlaneAddr, Handler: server.Handler()}
	metricsHTTP := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}

	go func() {
		if err := controlHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("control plane server stopped", err)
		}
	}()
	go func() {
		if err := metricsHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = controlHTTP.Shutdown(shutdownCtx)
	_ = metricsHTTP.Shutdown(shutdownCtx)
	eng.Shutdown()
}

// demoPlanRequest is the JSON body POST /queries accepts: a source tick
// interval and tick count. The demo pipeline always projects every field
// of demosource.Schema, since ProjectStage requires its output schema to
// match the projected field list one-for-one.
type demoPlanRequest struct {
	TickMillis int `json:"tick_millis"`
	Ticks      int `json:"ticks"`
}

// buildDemoPlan returns a controlplane.PlanBuilder that compiles a
// demoPlanRequest into a two-stage pipeline: a projection over a
// demosource.Ticker feeding a sink that logs every emitted row.
func buildDemoPlan(pool *buffer.Pool, log logobs.Logger) controlplane.PlanBuilder {
	queryIds := ids.NewGenerator()
	sourceIds := ids.NewGenerator()
	pipelineIds := ids.NewGenerator()

	return func(body []byte) (*engine.ExecutableQueryPlan, ids.QueryId, error) {
		var req demoPlanRequest
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, ids.InvalidQueryId, err
			}
		}
		if req.TickMillis <= 0 {
			req.TickMillis = 200
		}
		if req.Ticks <= 0 {
			req.Ticks = 10
		}
		fields := make([]string, len(demosource.Schema.Fields))
		for i, f := range demosource.Schema.Fields {
			fields[i] = f.Name
		}

		queryID := ids.QueryId(queryIds.Next())
		sourceID := ids.SourceId(sourceIds.Next())
		projectID := ids.PipelineId(pipelineIds.Next())
		sinkID := ids.PipelineId(pipelineIds.Next())

		source := demosource.NewTicker(sourceID, pool, time.Duration(req.TickMillis)*time.Millisecond, req.Ticks)
		projectStage := engine.NewProjectStage(demosource.Schema, demosource.Schema, fields)
		sinkAccess := memory.NewAccessor(demosource.Schema)
		sinkStage := engine.NewSinkStage(func(buf *buffer.TupleBuffer) error {
			for i := 0; i < buf.NumberOfTuples(); i++ {
				rec := sinkAccess.At(buf, i)
				id, _ := rec.ReadByName("id")
				value, _ := rec.ReadByName("value")
				log.WithField("id", id).WithField("value", value).Debug("row emitted")
			}
			return nil
		})

		plan := &engine.ExecutableQueryPlan{
			QueryId: queryID,
			Sources: []engine.SourceSpec{
				{Source: source, Successors: []ids.PipelineId{projectID}},
			},
			Pipelines: []*engine.PipelineSpec{
				{ID: projectID, Kind: engine.PipelineOperator, Stage: projectStage, Successors: []ids.PipelineId{sinkID}},
				{ID: sinkID, Kind: engine.PipelineSink, Stage: sinkStage},
			},
		}
		return plan, queryID, nil
	}
}
