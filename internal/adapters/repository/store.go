// Package repository defines the storage interfaces used by the orchestrator and
// the ranking service, plus their sentinel errors.
package repository

import (
	"context"
	"time"

	"github.com/okian/evalbench/internal/domain/model"
)

// LeaseUpdate is what a LeaseMutation decided.
type LeaseUpdate struct {
	// Lease is the document to write. Nil leaves the lease untouched.
	Lease *model.Lease
	// PauseProgressOf names a competition whose RunProgress is marked paused in
	// the same transaction as the lease write. Ignored when Lease is nil.
	PauseProgressOf string
}

// LeaseMutation decides the next lease from the current one (nil when absent).
// Returning an error aborts the transaction without writing.
type LeaseMutation func(current *model.Lease) (LeaseUpdate, error)

// LeaseStore holds the single global lease document.
type LeaseStore interface {
	// GetLease returns the lease or nil when none was ever written.
	GetLease(ctx context.Context) (*model.Lease, error)
	// UpdateLease runs fn against the current lease and commits its decision
	// atomically. It returns ErrConflict when another writer got in between
	// the read and the commit; fn may then be re-run against fresh state.
	// The returned lease is the committed one, or the unchanged current lease
	// when fn decided not to write.
	UpdateLease(ctx context.Context, fn LeaseMutation) (*model.Lease, error)
}

// ProgressStore persists RunProgress documents keyed by competition.
type ProgressStore interface {
	// PutProgress creates or overwrites the document.
	PutProgress(ctx context.Context, p model.RunProgress) error
	// IncrementProgress atomically adds n to evaluatedSubmissions and stamps
	// lastUpdateTime. The write applies only while the document belongs to
	// runID and is running; otherwise it returns ErrStaleRun.
	IncrementProgress(ctx context.Context, competitionID, runID string, n int, at time.Time) error
	// SetProgressStatus updates the status and stamps lastUpdateTime under the
	// same runID and running conditions as IncrementProgress.
	SetProgressStatus(ctx context.Context, competitionID, runID string, status model.RunStatus, at time.Time) error
	// GetProgress returns nil with no error when no run was recorded.
	GetProgress(ctx context.Context, competitionID string) (*model.RunProgress, error)
}

// CompetitionStore reads and writes competition records.
type CompetitionStore interface {
	// GetCompetition returns ErrNotFound for an unknown id.
	GetCompetition(ctx context.Context, competitionID string) (model.Competition, error)
	// GetChallenge returns ErrNotFound for an unknown id.
	GetChallenge(ctx context.Context, challengeID string) (model.Challenge, error)
	// ListUnscoredSubmissions returns submissions without a score, oldest first.
	ListUnscoredSubmissions(ctx context.Context, competitionID string) ([]model.Submission, error)
	// SaveSubmissionScore writes a score back onto a submission.
	SaveSubmissionScore(ctx context.Context, submissionID string, score model.SubmissionScore, at time.Time) error
	// AutomatedLeaderboard sums aggregate scores per participant over the
	// competition's submissions, ordered by score desc then participant id.
	AutomatedLeaderboard(ctx context.Context, competitionID string) ([]model.LeaderboardEntry, error)
	// ListHumanEvaluations returns every judge score recorded for the competition.
	ListHumanEvaluations(ctx context.Context, competitionID string) ([]model.HumanEvaluation, error)
	// ReplaceFinalLeaderboard overwrites the final entries wholesale and marks
	// the competition, atomically.
	ReplaceFinalLeaderboard(ctx context.Context, competitionID string, entries []model.FinalEntry, marker model.LeaderboardMarker) error
	// FinalLeaderboard returns the persisted entries ordered by rank.
	// It returns ErrNotFound when none were generated.
	FinalLeaderboard(ctx context.Context, competitionID string) ([]model.FinalEntry, error)
}

// Store bundles every store the service needs.
type Store interface {
	LeaseStore
	ProgressStore
	CompetitionStore
}

// Composite assembles a Store from separate backends.
type Composite struct {
	LeaseStore
	ProgressStore
	CompetitionStore
}

var _ Store = Composite{}
