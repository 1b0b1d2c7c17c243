// Package server exposes the operations API: mapping execution, rule-set
// validation, error-queue management, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"payroll-bridge/internal/errorqueue"
	"payroll-bridge/internal/mapping"
	"payroll-bridge/internal/registry"
	"payroll-bridge/internal/retry"
)

// RuleSetStore resolves stored rule sets for execution by id.
type RuleSetStore interface {
	GetByID(ctx context.Context, id string) (*mapping.RuleSet, error)
}

// Server wires the HTTP handlers. All dependencies are optional except
// the engine and registry; handlers for absent dependencies return 503.
type Server struct {
	engine    *mapping.Engine
	registry  *registry.Registry
	ruleSets  RuleSetStore
	queue     *errorqueue.Queue
	processor *retry.Processor
	metrics   http.Handler
}

// New builds a Server.
func New(engine *mapping.Engine, reg *registry.Registry, ruleSets RuleSetStore, queue *errorqueue.Queue, processor *retry.Processor, metricsHandler http.Handler) *Server {
	return &Server{
		engine:    engine,
		registry:  reg,
		ruleSets:  ruleSets,
		queue:     queue,
		processor: processor,
		metrics:   metricsHandler,
	}
}

// Router returns the configured mux router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	r.HandleFunc("/api/transformations", s.handleListTransformations).Methods(http.MethodGet)
	r.HandleFunc("/api/mappings/execute", s.handleExecuteMapping).Methods(http.MethodPost)
	r.HandleFunc("/api/rulesets/validate", s.handleValidateRuleSet).Methods(http.MethodPost)

	r.HandleFunc("/api/errors", s.handleListErrors).Methods(http.MethodGet)
	r.HandleFunc("/api/errors/stats", s.handleErrorStats).Methods(http.MethodGet)
	r.HandleFunc("/api/errors/bulk-retry", s.handleBulkRetry).Methods(http.MethodPost)
	r.HandleFunc("/api/errors/{id}", s.handleGetError).Methods(http.MethodGet)
	r.HandleFunc("/api/errors/{id}/logs", s.handleGetRetryLogs).Methods(http.MethodGet)
	r.HandleFunc("/api/errors/{id}/retry", s.handleTriggerRetry).Methods(http.MethodPost)
	r.HandleFunc("/api/errors/{id}/resolve", s.handleResolve).Methods(http.MethodPost)
	r.HandleFunc("/api/errors/{id}/ignore", s.handleIgnore).Methods(http.MethodPost)

	r.HandleFunc("/api/retry/process", s.handleProcessRetryQueue).Methods(http.MethodPost)
	return r
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTransformations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"transformations": s.registry.List(),
	})
}

type executeMappingRequest struct {
	RuleSetID      string                    `json:"rule_set_id,omitempty"`
	RuleSet        *mapping.RuleSet          `json:"rule_set,omitempty"`
	OrganizationID string                    `json:"organization_id"`
	Records        []mapping.Record          `json:"records"`
	LookupTables   map[string]map[string]any `json:"lookup_tables,omitempty"`
}

func (s *Server) handleExecuteMapping(w http.ResponseWriter, r *http.Request) {
	var req executeMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Records == nil {
		writeError(w, http.StatusBadRequest, "records are required")
		return
	}

	ruleSet := req.RuleSet
	if ruleSet == nil {
		if req.RuleSetID == "" {
			writeError(w, http.StatusBadRequest, "rule_set or rule_set_id is required")
			return
		}
		if s.ruleSets == nil {
			writeError(w, http.StatusServiceUnavailable, "rule set store is not configured")
			return
		}
		stored, err := s.ruleSets.GetByID(r.Context(), req.RuleSetID)
		if err != nil {
			if errors.Is(err, mapping.ErrRuleSetNotFound) {
				writeError(w, http.StatusNotFound, "rule set not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to load rule set")
			return
		}
		ruleSet = stored
	}

	result, err := s.engine.Execute(r.Context(), ruleSet, req.Records, mapping.ExecOptions{
		OrganizationID: req.OrganizationID,
		LookupTables:   req.LookupTables,
	})
	if err != nil {
		var invalid *mapping.InvalidRuleSetError
		if errors.As(err, &invalid) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  "rule set is invalid",
				"issues": invalid.Issues,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type validateRuleSetRequest struct {
	RuleSet *mapping.RuleSet `json:"rule_set"`
}

func (s *Server) handleValidateRuleSet(w http.ResponseWriter, r *http.Request) {
	var req validateRuleSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RuleSet == nil {
		writeError(w, http.StatusBadRequest, "rule_set is required")
		return
	}

	if err := mapping.Validate(req.RuleSet, s.registry); err != nil {
		var invalid *mapping.InvalidRuleSetError
		if errors.As(err, &invalid) {
			writeJSON(w, http.StatusOK, map[string]any{
				"valid":  false,
				"issues": invalid.Issues,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

func (s *Server) requireQueue(w http.ResponseWriter) bool {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "error queue is not configured")
		return false
	}
	return true
}

func (s *Server) handleListErrors(w http.ResponseWriter, r *http.Request) {
	if !s.requireQueue(w) {
		return
	}
	q := r.URL.Query()
	filter := errorqueue.Filter{
		OrganizationID: q.Get("organization_id"),
		Status:         errorqueue.Status(q.Get("status")),
		ErrorType:      errorqueue.ErrorType(q.Get("error_type")),
		Severity:       errorqueue.Severity(q.Get("severity")),
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	items, err := s.queue.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list error queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"errors": items,
		"count":  len(items),
	})
}

func (s *Server) handleGetError(w http.ResponseWriter, r *http.Request) {
	if !s.requireQueue(w) {
		return
	}
	item, err := s.queue.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, errorqueue.ErrItemNotFound) {
			writeError(w, http.StatusNotFound, "error queue item not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load error queue item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleGetRetryLogs(w http.ResponseWriter, r *http.Request) {
	if !s.requireQueue(w) {
		return
	}
	logs, err := s.queue.GetRetryLogs(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, errorqueue.ErrItemNotFound) {
			writeError(w, http.StatusNotFound, "error queue item not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load retry logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  logs,
		"count": len(logs),
	})
}

func (s *Server) handleErrorStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireQueue(w) {
		return
	}
	stats, err := s.queue.GetStats(r.Context(), r.URL.Query().Get("organization_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to aggregate stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTriggerRetry(w http.ResponseWriter, r *http.Request) {
	if !s.requireQueue(w) {
		return
	}
	item, err := s.queue.TriggerRetry(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, errorqueue.ErrItemNotFound) {
			writeError(w, http.StatusNotFound, "error queue item not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type bulkRetryRequest struct {
	ErrorIDs []string `json:"error_ids"`
}

func (s *Server) handleBulkRetry(w http.ResponseWriter, r *http.Request) {
	if !s.requireQueue(w) {
		return
	}
	var req bulkRetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.ErrorIDs) == 0 {
		writeError(w, http.StatusBadRequest, "error_ids are required")
		return
	}
	writeJSON(w, http.StatusOK, s.queue.BulkRetry(r.Context(), req.ErrorIDs))
}

type closeRequest struct {
	ResolvedBy string `json:"resolved_by"`
	Notes      string `json:"notes"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	s.handleClose(w, r, s.queue.Resolve)
}

func (s *Server) handleIgnore(w http.ResponseWriter, r *http.Request) {
	s.handleClose(w, r, s.queue.Ignore)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request, close func(context.Context, string, string, string) (*errorqueue.Item, error)) {
	if !s.requireQueue(w) {
		return
	}
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ResolvedBy) == "" {
		writeError(w, http.StatusBadRequest, "resolved_by is required")
		return
	}

	item, err := close(r.Context(), mux.Vars(r)["id"], req.ResolvedBy, req.Notes)
	if err != nil {
		if errors.Is(err, errorqueue.ErrItemNotFound) {
			writeError(w, http.StatusNotFound, "error queue item not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleProcessRetryQueue(w http.ResponseWriter, r *http.Request) {
	if s.processor == nil {
		writeError(w, http.StatusServiceUnavailable, "retry processor is not configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	result, err := s.processor.ProcessRetryQueue(r.Context(), limit)
	if err != nil {
		if errors.Is(err, retry.ErrSweepInProgress) {
			writeError(w, http.StatusConflict, "a retry sweep is already running")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
