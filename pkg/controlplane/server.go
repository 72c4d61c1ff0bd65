// Package controlplane exposes the engine's register/start/stop/status
// operations of §6 as a REST front door, the external interface a
// deployment's orchestrator or operator tooling talks to.
package controlplane

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/flowlattice/qengine/pkg/engine"
	"github.com/flowlattice/qengine/pkg/ids"
)

var (
	errMissingID = errors.New("controlplane: missing query id")
	errNotFound  = errors.New("controlplane: query not found")
)

// PlanBuilder compiles an opaque request body into an executable plan. The
// control plane itself is agnostic to plan representation (JSON query DSL,
// protobuf, etc.); callers supply the compiler that understands it.
type PlanBuilder func(body []byte) (*engine.ExecutableQueryPlan, ids.QueryId, error)

// Server wires QueryEngine operations to HTTP handlers via gorilla/mux,
// tagging every request with a uuid for log correlation.
type Server struct {
	engine  *engine.QueryEngine
	build   PlanBuilder
	log     zerolog.Logger
	router  *mux.Router
	tracker *StatusListener
}

// StatusListener is an engine.EventListener that remembers the last
// observed status per query, so GET /queries/{id} can answer without the
// engine exposing a query getter. Register one alongside any other
// listener (engine.New only accepts one, so combine with engine.NopListener
// or a fan-out helper if more listeners are needed).
type StatusListener struct {
	mu       sync.RWMutex
	statuses map[ids.QueryId]engine.Status
}

// NewStatusListener returns an empty StatusListener.
func NewStatusListener() *StatusListener {
	return &StatusListener{statuses: make(map[ids.QueryId]engine.Status)}
}

func (l *StatusListener) OnQueryStatus(e engine.QueryStatusEvent) {
	l.mu.Lock()
	l.statuses[e.Query] = e.Status
	l.mu.Unlock()
}
func (l *StatusListener) OnSourceTermination(engine.SourceTerminationEvent) {}
func (l *StatusListener) OnPipelineStart(engine.PipelineLifecycleEvent)     {}
func (l *StatusListener) OnPipelineStop(engine.PipelineLifecycleEvent)      {}
func (l *StatusListener) OnTaskExecutionStart(engine.TaskStat)              {}
func (l *StatusListener) OnTaskExecutionComplete(engine.TaskStat)           {}
func (l *StatusListener) OnTaskExpired(engine.TaskStat)                    {}
func (l *StatusListener) OnTaskEmit(engine.TaskEmitStat)                   {}

func (l *StatusListener) statusOf(q ids.QueryId) (engine.Status, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.statuses[q]
	return s, ok
}

// NewServer builds a Server. build compiles request bodies posted to
// POST /queries into plans; tracker must also be registered with the
// engine (engine.New's listener argument, or fanned out alongside another
// listener) so status changes are reflected by GET /queries/{id}.
func NewServer(eng *engine.QueryEngine, build PlanBuilder, tracker *StatusListener, log zerolog.Logger) *Server {
	s := &Server{
		engine:  eng,
		build:   build,
		log:     log.With().Str("component", "controlplane").Logger(),
		router:  mux.NewRouter(),
		tracker: tracker,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.HandleFunc("/queries", s.handleRegister).Methods(http.MethodPost)
	s.router.HandleFunc("/queries/{id}/start", s.handleStart).Methods(http.MethodPost)
	s.router.HandleFunc("/queries/{id}/stop", s.handleStop).Methods(http.MethodPost)
	s.router.HandleFunc("/queries/{id}", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the server's http.Handler for use with http.Server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		s.log.Debug().Str("request_id", id).Str("path", r.URL.Path).Msg("request received")
		next.ServeHTTP(w, r)
	})
}

type registerResponse struct {
	QueryId string `json:"query_id"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	plan, queryID, err := s.build(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.Register(plan); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{QueryId: queryID.String()})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, err := parseQueryID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.Start(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id, err := parseQueryID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.Stop(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type statusResponse struct {
	QueryId string `json:"query_id"`
	Status  string `json:"status"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseQueryID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	status, ok := s.tracker.statusOf(id)
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{QueryId: id.String(), Status: status.String()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func parseQueryID(r *http.Request) (ids.QueryId, error) {
	raw, ok := mux.Vars(r)["id"]
	if !ok || raw == "" {
		return ids.InvalidQueryId, errMissingID
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return ids.InvalidQueryId, err
	}
	return ids.QueryId(n), nil
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
