// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/harbinger-io/harbinger/internal/app"
	"github.com/harbinger-io/harbinger/internal/batch/segment"
	"github.com/harbinger-io/harbinger/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// SubmitJob starts a batch run and returns its job ID.
	SubmitJob(ctx context.Context, req app.SubmitRequest) (string, error)

	// Cancel stops a running job between units.
	Cancel(ctx context.Context, jobID string) error

	// JobStatus returns the job record.
	JobStatus(ctx context.Context, jobID string) (model.BatchJob, error)

	// Segments returns a completed job's per-location export.
	Segments(ctx context.Context, jobID string) (segment.Export, error)

	// Score returns the stored result for one VIN.
	Score(ctx context.Context, vin string) (model.RiskScoreResult, error)

	// Stat reports service-level counters.
	Stat(ctx context.Context) (app.Stats, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	jobsHandler     *JobsHandler
	scoresHandler   *ScoresHandler
	segmentsHandler *SegmentsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(deps),
		jobsHandler:     NewJobsHandler(deps),
		scoresHandler:   NewScoresHandler(deps),
		segmentsHandler: NewSegmentsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/jobs", MetricsMiddleware(s.jobsHandler.HandlePostJob, "jobs"))
	mux.HandleFunc("/jobs/", MetricsMiddleware(s.jobsHandler.HandleJobByID, "jobs"))
	mux.HandleFunc("/scores/", MetricsMiddleware(s.scoresHandler.HandleGetScore, "scores"))
	mux.HandleFunc("/segments/", MetricsMiddleware(s.segmentsHandler.HandleGetSegments, "segments"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
