package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/evalbench/internal/domain/lease"
	"github.com/okian/evalbench/internal/domain/model"
	"github.com/okian/evalbench/pkg/logger"
)

// BulkHandler handles bulk evaluation requests.
type BulkHandler struct {
	deps BulkDependencies
	log  logger.Logger
}

// NewBulkHandler creates a new bulk evaluation handler.
func NewBulkHandler(deps BulkDependencies, log logger.Logger) *BulkHandler {
	return &BulkHandler{deps: deps, log: log}
}

type progressResponse struct {
	Progress *model.RunProgress `json:"progress"`
}

type leaseResponse struct {
	Lease *model.Lease `json:"lease"`
}

// HandleStart handles POST /bulk-evaluate/{competitionId}.
func (h *BulkHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	const op = "api.bulk_start"
	id := strings.TrimSpace(r.PathValue("competitionId"))
	if id == "" {
		writeError(w, NewKind(op, ErrBadRequest))
		return
	}
	var userID string
	if c, ok := ClaimsFrom(r.Context()); ok {
		userID = c.Subject
	}

	l, err := h.deps.StartBulkRun(r.Context(), id, userID)
	if errors.Is(err, lease.ErrBusy) {
		writeError(w, WrapKind(op, lease.ErrBusy,
			fmt.Errorf("bulk evaluation already running for competition %s", l.LockedBy)))
		return
	}
	if err != nil {
		h.log.Error(r.Context(), "failed to start bulk evaluation",
			logger.String("op", op),
			logger.String("competition_id", id),
			logger.Error(err))
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "bulk evaluation started", RunID: l.RunID})
}

// HandleProgress handles GET /bulk-evaluate/progress/{competitionId}.
// It always answers 200; a missing or unreadable document is reported as null.
func (h *BulkHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	const op = "api.bulk_progress"
	p, err := h.deps.Progress(r.Context(), r.PathValue("competitionId"))
	if err != nil {
		h.log.Warn(r.Context(), "failed to read progress",
			logger.String("op", op),
			logger.String("competition_id", r.PathValue("competitionId")),
			logger.Error(err))
		p = nil
	}
	writeJSON(w, http.StatusOK, progressResponse{Progress: p})
}

// HandleLease handles GET /bulk-evaluate/lease.
func (h *BulkHandler) HandleLease(w http.ResponseWriter, r *http.Request) {
	const op = "api.bulk_lease"
	l, err := h.deps.Lease(r.Context())
	if err != nil {
		h.log.Error(r.Context(), "failed to read lease", logger.String("op", op), logger.Error(err))
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, leaseResponse{Lease: l})
}
