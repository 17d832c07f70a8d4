// Package progress tracks the counters of a bulk evaluation run and provides
// the poller readers use to follow one.
package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/evalbench/internal/adapters/repository"
	"github.com/okian/evalbench/internal/domain/model"
	"github.com/okian/evalbench/pkg/logger"
)

// Conflict retry bounds for conditional progress writes.
const (
	conflictRetries = 8
	conflictBackoff = 5 * time.Millisecond
)

// Tracker writes RunProgress documents. Every write names the run it comes
// from; once another run restarts the document or a takeover pauses it, the
// old run's writes fail with repository.ErrStaleRun. Readers may call Get at
// any time.
type Tracker struct {
	store repository.ProgressStore
	now   func() time.Time
	log   logger.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerClock overrides time.Now.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithTrackerLogger sets the logger.
func WithTrackerLogger(l logger.Logger) TrackerOption {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

// NewTracker returns a Tracker over store.
func NewTracker(store repository.ProgressStore, opts ...TrackerOption) *Tracker {
	t := &Tracker{store: store, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logger.Get().Named("progress")
	}
	return t
}

// Start creates or overwrites the competition's progress with nothing
// evaluated and runID as its owner.
func (t *Tracker) Start(ctx context.Context, competitionID, runID string, total int) error {
	now := t.now()
	err := t.store.PutProgress(ctx, model.RunProgress{
		CompetitionID:    competitionID,
		RunID:            runID,
		TotalSubmissions: total,
		StartTime:        now,
		LastUpdateTime:   now,
		Status:           model.RunStatusRunning,
	})
	if err != nil {
		return fmt.Errorf("start progress: %w", err)
	}
	t.log.Debug(ctx, "progress started",
		logger.String("competition_id", competitionID),
		logger.String("run_id", runID),
		logger.Int("total", total))
	return nil
}

// Advance adds n evaluated submissions. Values below 1 count as 1.
func (t *Tracker) Advance(ctx context.Context, competitionID, runID string, n int) error {
	if n < 1 {
		n = 1
	}
	err := retryConflicts(ctx, func() error {
		return t.store.IncrementProgress(ctx, competitionID, runID, n, t.now())
	})
	if err != nil {
		return fmt.Errorf("advance progress: %w", err)
	}
	return nil
}

// Finish marks the run completed.
func (t *Tracker) Finish(ctx context.Context, competitionID, runID string) error {
	err := retryConflicts(ctx, func() error {
		return t.store.SetProgressStatus(ctx, competitionID, runID, model.RunStatusCompleted, t.now())
	})
	if err != nil {
		return fmt.Errorf("finish progress: %w", err)
	}
	return nil
}

// Get returns the run's progress, or nil when no run was recorded.
func (t *Tracker) Get(ctx context.Context, competitionID string) (*model.RunProgress, error) {
	p, err := t.store.GetProgress(ctx, competitionID)
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	return p, nil
}

func retryConflicts(ctx context.Context, op func() error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(conflictBackoff), conflictRetries),
		ctx,
	)
	return backoff.Retry(func() error {
		err := op()
		if err == nil || errors.Is(err, repository.ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}
