package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/okian/evalbench/internal/domain/model"
	"github.com/okian/evalbench/pkg/logger"
)

// LeaderboardHandler handles final leaderboard requests.
type LeaderboardHandler struct {
	deps LeaderboardDependencies
	log  logger.Logger
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies, log logger.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{deps: deps, log: log}
}

type entriesResponse struct {
	Entries []model.FinalEntry `json:"entries"`
}

type generateFunc func(ctx context.Context, competitionID string) ([]model.FinalEntry, error)

// HandleGenerateFinal handles POST /competitions/{id}/final-leaderboard.
func (h *LeaderboardHandler) HandleGenerateFinal(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, "api.final_leaderboard", "final leaderboard generated", h.deps.GenerateFinalLeaderboard)
}

// HandleGenerateLevel1 handles POST /competitions/{id}/level1-final-leaderboard.
func (h *LeaderboardHandler) HandleGenerateLevel1(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, "api.level1_leaderboard", "level 1 final leaderboard generated", h.deps.GenerateLevel1Leaderboard)
}

func (h *LeaderboardHandler) generate(w http.ResponseWriter, r *http.Request, op, message string, fn generateFunc) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, NewKind(op, ErrBadRequest))
		return
	}
	if _, err := fn(r.Context(), id); err != nil {
		h.log.Error(r.Context(), "leaderboard generation failed",
			logger.String("op", op),
			logger.String("competition_id", id),
			logger.Error(err))
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: message})
}

// HandleGetFinal handles GET /competitions/{id}/final-leaderboard.
func (h *LeaderboardHandler) HandleGetFinal(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_final_leaderboard"
	entries, err := h.deps.FinalLeaderboard(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, entriesResponse{Entries: entries})
}

// HandleJudgeStatus handles GET /competitions/{id}/judge-status.
func (h *LeaderboardHandler) HandleJudgeStatus(w http.ResponseWriter, r *http.Request) {
	const op = "api.judge_status"
	st, err := h.deps.JudgeStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}
