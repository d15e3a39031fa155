// Package api provides the HTTP surface agents talk to.
//
// # Endpoints
//
// Agent API:
//   - POST /api/v1/agents/register - Enroll a machine, issue credentials
//   - POST /api/v1/agents/heartbeat - Liveness, update + force-sync directives
//   - GET  /api/v1/rules/sync - Rule delta since a version watermark
//   - GET  /api/v1/domains/sync - Monitored platform roster
//   - POST /api/v1/events - Queue an event batch for async processing
//   - POST /api/v1/agents/deployments - Agent self-update telemetry
//   - POST /api/v1/watchdog/alerts - Watchdog tamper/restart reports
//
// Operational:
//   - GET /api/v1/events/search - Full-text lookup in the document index
//   - GET /api/v1/health - Health check
//   - GET /metrics - Prometheus metrics
//
// All agent endpoints except registration require a Bearer API key plus
// an HMAC request signature; see middleware.go.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guardline/dlp-mon/internal/index"
	"github.com/guardline/dlp-mon/internal/ingest"
	"github.com/guardline/dlp-mon/internal/metrics"
	"github.com/guardline/dlp-mon/internal/secrets"
	"github.com/guardline/dlp-mon/internal/service"
	syncpkg "github.com/guardline/dlp-mon/internal/sync"
	"github.com/guardline/dlp-mon/pkg/types"
)

// EventQueue accepts validated batches for background processing.
type EventQueue interface {
	Push(ctx context.Context, job *ingest.BatchJob) error
}

// IndexSearcher serves operator full-text lookups against the document
// index.
type IndexSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]index.Document, error)
}

// Server is the HTTP API server.
type Server struct {
	svc      *service.Service
	syncer   *syncpkg.Syncer
	events   EventQueue
	machines MachineStore
	searcher IndexSearcher
	sealer   *secrets.Cipher
	logger   *slog.Logger
	mux      *http.ServeMux
}

// NewServer creates a new API server.
func NewServer(svc *service.Service, syncer *syncpkg.Syncer, events EventQueue, machines MachineStore, searcher IndexSearcher, logger *slog.Logger) *Server {
	s := &Server{
		svc:      svc,
		syncer:   syncer,
		events:   events,
		machines: machines,
		searcher: searcher,
		sealer:   svc.Sealer(),
		logger:   logger.With("component", "api"),
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request",
		"method", r.Method,
		"path", r.URL.Path,
		"duration", time.Since(start))
}

func (s *Server) registerRoutes() {
	// Registration is open: machines have no credentials yet. The
	// optional enrollment key gates it instead.
	s.mux.HandleFunc("POST /api/v1/agents/register", s.handleRegister)

	// Everything an enrolled agent calls is signed.
	s.mux.HandleFunc("POST /api/v1/agents/heartbeat", wrapHandler(s.handleHeartbeat, s.AgentAuthMiddleware))
	s.mux.HandleFunc("GET /api/v1/rules/sync", wrapHandler(s.handleRuleSync, s.AgentAuthMiddleware))
	s.mux.HandleFunc("GET /api/v1/domains/sync", wrapHandler(s.handleDomainSync, s.AgentAuthMiddleware))
	s.mux.HandleFunc("POST /api/v1/events", wrapHandler(s.handleIngestEvents, s.AgentAuthMiddleware))
	s.mux.HandleFunc("POST /api/v1/agents/deployments", wrapHandler(s.handleDeploymentReport, s.AgentAuthMiddleware))
	s.mux.HandleFunc("POST /api/v1/watchdog/alerts", wrapHandler(s.handleWatchdogAlert, s.AgentAuthMiddleware))

	// Operator lookup against the document index
	s.mux.HandleFunc("GET /api/v1/events/search", s.handleEventSearch)

	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// =============================================================================
// HEALTH
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// REGISTRATION
// =============================================================================

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.svc.RegisterMachine(r.Context(), &req, r.Header.Get("X-Enrollment-Key"))
	switch {
	case errors.Is(err, service.ErrEnrollmentDenied):
		s.writeError(w, http.StatusForbidden, "enrollment denied")
		return
	case errors.Is(err, service.ErrRateLimited):
		s.writeError(w, http.StatusTooManyRequests, "registration rate exceeded")
		return
	case errors.Is(err, service.ErrInvalidRequest):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("registering machine", "error", err)
		s.writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	s.writeJSON(w, http.StatusCreated, resp)
}

// =============================================================================
// HEARTBEAT
// =============================================================================

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	machine := machineFromContext(r.Context())

	var hb types.Heartbeat
	if err := s.readJSON(r, &hb); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.svc.ProcessHeartbeat(r.Context(), machine, &hb)
	if err != nil {
		s.logger.Error("processing heartbeat", "machine_id", machine.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "heartbeat failed")
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// SYNC
// =============================================================================

func (s *Server) handleRuleSync(w http.ResponseWriter, r *http.Request) {
	sinceVersion := int64(0)
	if raw := r.URL.Query().Get("version"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "version must be a non-negative integer")
			return
		}
		sinceVersion = parsed
	}

	resp, err := s.syncer.SyncRules(r.Context(), sinceVersion)
	if err != nil {
		s.logger.Error("rule sync", "error", err)
		s.writeError(w, http.StatusInternalServerError, "rule sync failed")
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDomainSync(w http.ResponseWriter, r *http.Request) {
	domains, err := s.syncer.SyncDomains(r.Context())
	if err != nil {
		s.logger.Error("domain sync", "error", err)
		s.writeError(w, http.StatusInternalServerError, "domain sync failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"domains": domains})
}

// =============================================================================
// EVENT INGESTION
// =============================================================================

func (s *Server) handleIngestEvents(w http.ResponseWriter, r *http.Request) {
	machine := machineFromContext(r.Context())

	var batch types.EventBatch
	if err := s.readJSON(r, &batch); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(batch.Events) == 0 {
		s.writeError(w, http.StatusBadRequest, "events are required")
		return
	}
	if len(batch.Events) > types.MaxEventBatch {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("batch of %d exceeds the %d event limit", len(batch.Events), types.MaxEventBatch))
		return
	}
	for i := range batch.Events {
		if err := batch.Events[i].Validate(); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("events[%d]: %s", i, err))
			return
		}
	}

	job := &ingest.BatchJob{
		MachineID: machine.ID,
		Hostname:  machine.Hostname,
		Events:    batch.Events,
	}
	if err := s.events.Push(r.Context(), job); err != nil {
		s.logger.Error("queueing event batch", "machine_id", machine.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "queueing batch failed")
		return
	}

	metrics.EventsIngested.Add(float64(len(batch.Events)))
	s.writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(batch.Events)})
}

// =============================================================================
// EVENT SEARCH
// =============================================================================

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 500
)

func (s *Server) handleEventSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	docs, err := s.searcher.Search(r.Context(), query, limit)
	if err != nil {
		s.logger.Error("event search", "error", err)
		s.writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if docs == nil {
		docs = []index.Document{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"results": docs})
}

// =============================================================================
// DEPLOYMENTS AND WATCHDOG
// =============================================================================

func (s *Server) handleDeploymentReport(w http.ResponseWriter, r *http.Request) {
	machine := machineFromContext(r.Context())

	var report types.DeploymentReport
	if err := s.readJSON(r, &report); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.svc.RecordDeployment(r.Context(), machine, &report)
	if errors.Is(err, service.ErrInvalidRequest) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("recording deployment", "machine_id", machine.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "recording deployment failed")
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{"id": id, "received": true})
}

func (s *Server) handleWatchdogAlert(w http.ResponseWriter, r *http.Request) {
	machine := machineFromContext(r.Context())

	var wa types.WatchdogAlert
	if err := s.readJSON(r, &wa); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.svc.ProcessWatchdogAlert(r.Context(), machine, &wa)
	if errors.Is(err, service.ErrInvalidRequest) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("recording watchdog alert", "machine_id", machine.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "recording alert failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
