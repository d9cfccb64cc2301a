package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"document-pipeline/internal/analysis"
	"document-pipeline/internal/logging"
	"document-pipeline/internal/models"
	"document-pipeline/internal/store"
	"document-pipeline/internal/telemetry"
)

const defaultListLimit = 100

// Server wires HTTP handlers for the operator API.
type Server struct {
	ledger   store.Ledger
	analysis analysis.Service
	logger   *zap.Logger
}

// New constructs the API server.
func New(ledger store.Ledger, svc analysis.Service, logger *zap.Logger) *Server {
	if ledger == nil {
		ledger = store.Nop{}
	}
	return &Server{
		ledger:   ledger,
		analysis: svc,
		logger:   logging.Component(logger, "api"),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/jobs/{id}/status", s.handleJobStatus)
	r.Get("/quarantine", s.handleQuarantine)
	return r
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.ledger.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("get job", zap.String(logging.FieldJobID, id), zap.Error(err))
		http.Error(w, "failed to read job", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type statusResponse struct {
	JobID    string           `json:"job_id"`
	Status   models.JobStatus `json:"status"`
	Terminal bool             `json:"terminal"`
}

// handleJobStatus asks the analysis service directly; the ledger may lag.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.analysis == nil {
		http.Error(w, "analysis service not configured", http.StatusServiceUnavailable)
		return
	}
	status, err := s.analysis.Status(r.Context(), id)
	if err != nil {
		s.logger.Warn("query job status", zap.String(logging.FieldJobID, id), zap.Error(err))
		http.Error(w, "failed to query job status", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{JobID: id, Status: status, Terminal: status.Terminal()})
}

// handleQuarantine lists jobs marked unrecoverable, most recent first.
func (s *Server) handleQuarantine(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	jobs, err := s.ledger.ListByStatus(r.Context(), models.StatusUnrecoverable, limit)
	if err != nil {
		s.logger.Error("list quarantined jobs", zap.Error(err))
		http.Error(w, "failed to list quarantined jobs", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []models.AnalysisJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": jobs})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
