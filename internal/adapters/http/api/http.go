// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/evalbench/internal/domain/model"
	"github.com/okian/evalbench/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	BulkDependencies
	LeaderboardDependencies
}

// BulkDependencies covers starting and observing bulk evaluation runs.
type BulkDependencies interface {
	// StartBulkRun returns the acquired lease, or the holder's lease with lease.ErrBusy.
	StartBulkRun(ctx context.Context, competitionID, userID string) (model.Lease, error)
	Progress(ctx context.Context, competitionID string) (*model.RunProgress, error)
	Lease(ctx context.Context) (*model.Lease, error)
}

// LeaderboardDependencies covers final leaderboard generation and reads.
type LeaderboardDependencies interface {
	GenerateFinalLeaderboard(ctx context.Context, competitionID string) ([]model.FinalEntry, error)
	GenerateLevel1Leaderboard(ctx context.Context, competitionID string) ([]model.FinalEntry, error)
	FinalLeaderboard(ctx context.Context, competitionID string) ([]model.FinalEntry, error)
	JudgeStatus(ctx context.Context, competitionID string) (model.JudgeStatus, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	auth               *Authenticator
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	bulkHandler        *BulkHandler
	leaderboardHandler *LeaderboardHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, auth *Authenticator, log logger.Logger) *Server {
	if log == nil {
		log = logger.Get().Named("api")
	}
	return &Server{
		auth:               auth,
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		bulkHandler:        NewBulkHandler(deps, log),
		leaderboardHandler: NewLeaderboardHandler(deps, log),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	gate := s.auth.Require

	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("GET /bulk-evaluate/progress/{competitionId}",
		MetricsMiddleware(s.bulkHandler.HandleProgress, "bulk_progress"))
	mux.HandleFunc("GET /bulk-evaluate/lease",
		MetricsMiddleware(gate(s.bulkHandler.HandleLease), "bulk_lease"))
	mux.HandleFunc("POST /bulk-evaluate/{competitionId}",
		MetricsMiddleware(gate(s.bulkHandler.HandleStart), "bulk_start"))

	mux.HandleFunc("POST /competitions/{id}/final-leaderboard",
		MetricsMiddleware(gate(s.leaderboardHandler.HandleGenerateFinal), "final_leaderboard"))
	mux.HandleFunc("POST /competitions/{id}/level1-final-leaderboard",
		MetricsMiddleware(gate(s.leaderboardHandler.HandleGenerateLevel1), "level1_leaderboard"))
	mux.HandleFunc("GET /competitions/{id}/final-leaderboard",
		MetricsMiddleware(s.leaderboardHandler.HandleGetFinal, "get_final_leaderboard"))
	mux.HandleFunc("GET /competitions/{id}/judge-status",
		MetricsMiddleware(gate(s.leaderboardHandler.HandleJudgeStatus), "judge_status"))
}

type messageResponse struct {
	Message string `json:"message"`
	RunID   string `json:"runId,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {error, detail} with the status statusFor picks.
func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if t, ok := w.(errorTagger); ok {
		t.tagError(code)
	}
	detail := http.StatusText(status)
	if err != nil {
		detail = err.Error()
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Err != nil {
			detail = apiErr.Err.Error()
		}
	}
	writeJSON(w, status, errorResponse{Error: code, Detail: detail})
}
