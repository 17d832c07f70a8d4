// Package service provides the bulk evaluation orchestrator and the ranking
// operations the HTTP API depends on.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/evalbench/internal/adapters/repository"
	"github.com/okian/evalbench/internal/domain/lease"
	"github.com/okian/evalbench/internal/domain/model"
	"github.com/okian/evalbench/internal/domain/progress"
	"github.com/okian/evalbench/internal/domain/scoring"
	"github.com/okian/evalbench/pkg/logger"
	"github.com/okian/evalbench/pkg/metrics"
)

const (
	tracerName = "github.com/okian/evalbench/internal/app"
	runReason  = "bulk evaluation"
)

// Evaluator scores one submission against a challenge's rubric and brief.
// scoring.Aggregator is the production implementation.
type Evaluator interface {
	Evaluate(ctx context.Context, submission string, rubric []model.RubricCriterion, brief string) model.SubmissionScore
}

// State is the orchestrator's position in its run lifecycle.
type State string

// Orchestrator states.
const (
	StateIdle      State = "idle"
	StateAcquiring State = "acquiring"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// RunSummary describes one bulk run owned by this process.
type RunSummary struct {
	CompetitionID string     `json:"competitionId"`
	RunID         string     `json:"runId"`
	UserID        string     `json:"userId,omitempty"`
	State         State      `json:"state"`
	Total         int        `json:"totalSubmissions"`
	Evaluated     int        `json:"evaluatedSubmissions"`
	Scored        int        `json:"scored"`
	Unscored      int        `json:"unscored"`
	Skipped       int        `json:"skipped"`
	StartedAt     time.Time  `json:"startedAt"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Service orchestrates bulk evaluation runs and leaderboard generation.
type Service struct {
	store     repository.Store
	evaluator Evaluator
	lock      *lease.Lock
	tracker   *progress.Tracker

	now            func() time.Time
	releaseTimeout time.Duration
	log            logger.Logger
	tracer         trace.Tracer

	// background runs hang off base so Stop can interrupt them
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// current is the run most recently started by this process. A stale
	// takeover can start another run before the previous one returns, so each
	// run updates its own summary and clears current only while it is still it.
	mu      sync.RWMutex
	state   State
	current *RunSummary
	last    *RunSummary
	stopped bool
}

// New constructs a Service over store. Unless overridden, the lease lock and
// the progress tracker are built over the same store.
func New(store repository.Store, evaluator Evaluator, opts ...Option) *Service {
	s := &Service{
		store:          store,
		evaluator:      evaluator,
		now:            time.Now,
		releaseTimeout: DefaultReleaseTimeout,
		tracer:         otel.Tracer(tracerName),
		state:          StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("service")
	}
	if s.lock == nil {
		s.lock = lease.New(store)
	}
	if s.tracker == nil {
		s.tracker = progress.NewTracker(store)
	}
	s.base, s.cancel = context.WithCancel(context.Background())
	return s
}

// Stop cancels any background run and waits for it to release the lease.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.log.Info(context.Background(), "stopping service...")
	s.cancel()
	s.wg.Wait()
	s.log.Info(context.Background(), "service stopped")
}

// StartBulkRun acquires the lease for competitionID and evaluates its
// unscored submissions in the background. It returns the acquired lease,
// whose RunID identifies the run. ErrBusy (with the holder's lease) is
// returned when any run holds a fresh lease, ErrNotFound when the
// competition does not exist.
func (s *Service) StartBulkRun(ctx context.Context, competitionID, userID string) (model.Lease, error) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return model.Lease{}, ErrStopped
	}

	l, run, err := s.begin(ctx, competitionID, userID)
	if err != nil {
		return l, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.execute(s.base, l, run); err != nil {
			s.log.Error(s.base, "bulk run failed",
				logger.String("competition_id", competitionID),
				logger.String("run_id", l.RunID),
				logger.Error(err))
		}
	}()
	return l, nil
}

// RunBulkEvaluation is the synchronous form of StartBulkRun.
func (s *Service) RunBulkEvaluation(ctx context.Context, competitionID, userID string) (RunSummary, error) {
	l, run, err := s.begin(ctx, competitionID, userID)
	if err != nil {
		return RunSummary{CompetitionID: competitionID, State: StateIdle}, err
	}
	return s.execute(ctx, l, run)
}

// begin moves Idle -> Acquiring -> Running and returns the new run's summary.
// On failure the state is restored.
func (s *Service) begin(ctx context.Context, competitionID, userID string) (model.Lease, *RunSummary, error) {
	if _, err := s.store.GetCompetition(ctx, competitionID); err != nil {
		return model.Lease{}, nil, fmt.Errorf("load competition %s: %w", competitionID, err)
	}

	s.mu.Lock()
	prev := s.state
	s.state = StateAcquiring
	s.mu.Unlock()

	l, err := s.lock.Acquire(ctx, model.Owner{CompetitionID: competitionID}, userID, runReason)
	if err != nil {
		s.mu.Lock()
		if s.state == StateAcquiring {
			s.state = prev
		}
		s.mu.Unlock()
		if errors.Is(err, lease.ErrBusy) {
			return l, nil, err
		}
		return model.Lease{}, nil, err
	}

	run := &RunSummary{
		CompetitionID: competitionID,
		RunID:         l.RunID,
		UserID:        userID,
		State:         StateRunning,
		StartedAt:     s.now(),
	}
	s.mu.Lock()
	s.state = StateRunning
	s.current = run
	s.mu.Unlock()
	return l, run, nil
}

// execute runs the evaluation loop for an acquired lease and always releases it.
func (s *Service) execute(ctx context.Context, l model.Lease, run *RunSummary) (RunSummary, error) {
	owner := model.Owner{CompetitionID: l.LockedBy, RunID: l.RunID}
	ctx, span := s.tracer.Start(ctx, "service.bulk_run",
		trace.WithAttributes(
			attribute.String("competition.id", owner.CompetitionID),
			attribute.String("run.id", owner.RunID),
		))
	defer span.End()

	started := time.Now()
	s.log.Info(ctx, "bulk run started",
		logger.String("competition_id", owner.CompetitionID),
		logger.String("run_id", owner.RunID),
		logger.String("user_id", run.UserID))

	runErr := s.evaluateAll(ctx, owner, run)
	if errors.Is(runErr, repository.ErrStaleRun) {
		runErr = fmt.Errorf("%w: %w", ErrSuperseded, runErr)
		s.log.Warn(ctx, "bulk run superseded, stopping",
			logger.String("competition_id", owner.CompetitionID),
			logger.String("run_id", owner.RunID))
	}
	s.release(ctx, owner)

	finished := s.now()
	s.mu.Lock()
	run.FinishedAt = &finished
	if runErr != nil {
		run.State = StateFailed
		run.Error = runErr.Error()
	} else {
		run.State = StateCompleted
	}
	summary := *run
	s.last = &summary
	if s.current == run {
		s.state = summary.State
		s.current = nil
	}
	s.mu.Unlock()

	metrics.RecordRun(string(summary.State), time.Since(started).Seconds())
	span.SetAttributes(
		attribute.Int("run.evaluated", summary.Evaluated),
		attribute.Int("run.skipped", summary.Skipped),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		return summary, runErr
	}
	s.log.Info(ctx, "bulk run completed",
		logger.String("competition_id", owner.CompetitionID),
		logger.String("run_id", owner.RunID),
		logger.Int("evaluated", summary.Evaluated),
		logger.Int("scored", summary.Scored),
		logger.Int("unscored", summary.Unscored),
		logger.Int("skipped", summary.Skipped),
		logger.Duration("elapsed", time.Since(started)))
	return summary, nil
}

// release unlocks the lease even when the run's context is already cancelled.
func (s *Service) release(ctx context.Context, owner model.Owner) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.releaseTimeout)
	defer cancel()
	if err := s.lock.Release(rctx, owner); err != nil {
		s.log.Error(ctx, "failed to release lease",
			logger.String("competition_id", owner.CompetitionID),
			logger.String("run_id", owner.RunID),
			logger.Error(err))
	}
}

func (s *Service) evaluateAll(ctx context.Context, owner model.Owner, run *RunSummary) error {
	subs, err := s.store.ListUnscoredSubmissions(ctx, owner.CompetitionID)
	if err != nil {
		return fmt.Errorf("list unscored submissions: %w", err)
	}
	if err := s.tracker.Start(ctx, owner.CompetitionID, owner.RunID, len(subs)); err != nil {
		return err
	}
	s.update(run, func(r *RunSummary) { r.Total = len(subs) })
	metrics.UpdateRunProgress(0, len(subs))

	challenges := make(map[string]model.Challenge)
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run interrupted: %w", err)
		}
		ch, ok := challenges[sub.ChallengeID]
		if !ok {
			ch, err = s.store.GetChallenge(ctx, sub.ChallengeID)
			switch {
			case errors.Is(err, repository.ErrNotFound):
				ch = model.Challenge{ID: sub.ChallengeID}
			case err != nil:
				return fmt.Errorf("load challenge %s: %w", sub.ChallengeID, err)
			}
			challenges[sub.ChallengeID] = ch
		}
		if err := s.evaluateOne(ctx, owner, run, sub, ch); err != nil {
			return err
		}
	}

	return s.tracker.Finish(ctx, owner.CompetitionID, owner.RunID)
}

func (s *Service) evaluateOne(ctx context.Context, owner model.Owner, run *RunSummary, sub model.Submission, ch model.Challenge) error {
	if err := usable(ch); err != nil {
		metrics.RecordSubmissionSkipped()
		s.update(run, func(r *RunSummary) { r.Skipped++ })
		s.log.Warn(ctx, "skipping submission",
			logger.String("submission_id", sub.ID),
			logger.String("challenge_id", sub.ChallengeID),
			logger.Error(err))
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "service.submission",
		trace.WithAttributes(attribute.String("submission.id", sub.ID)))
	defer span.End()

	score := s.evaluator.Evaluate(ctx, sub.Text, ch.Rubric, ch.Brief)
	score.SubmissionID = sub.ID
	if score.AggregateScore != nil {
		if err := s.store.SaveSubmissionScore(ctx, sub.ID, score, s.now()); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("save score for %s: %w", sub.ID, err)
		}
		metrics.RecordSubmissionEvaluated()
		s.update(run, func(r *RunSummary) { r.Scored++ })
	} else {
		metrics.RecordSubmissionUnscored()
		s.update(run, func(r *RunSummary) { r.Unscored++ })
	}

	if err := s.tracker.Advance(ctx, owner.CompetitionID, owner.RunID, 1); err != nil {
		return err
	}
	var evaluated, total int
	s.update(run, func(r *RunSummary) {
		r.Evaluated++
		evaluated, total = r.Evaluated, r.Total
	})
	metrics.UpdateRunProgress(evaluated, total)
	return nil
}

func (s *Service) update(run *RunSummary, fn func(*RunSummary)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(run)
}

// usable checks that a challenge carries a brief and a valid rubric.
func usable(ch model.Challenge) error {
	if strings.TrimSpace(ch.Brief) == "" {
		return fmt.Errorf("%w: challenge %s has no brief", ErrMissingRubricOrBrief, ch.ID)
	}
	if err := scoring.ValidateRubric(ch.Rubric); err != nil {
		return fmt.Errorf("%w: challenge %s: %w", ErrMissingRubricOrBrief, ch.ID, err)
	}
	return nil
}

// Progress returns the competition's run progress, or nil when no run was recorded.
func (s *Service) Progress(ctx context.Context, competitionID string) (*model.RunProgress, error) {
	return s.tracker.Get(ctx, competitionID)
}

// Lease returns the global lease, or nil when none was ever written.
func (s *Service) Lease(ctx context.Context) (*model.Lease, error) {
	l, found, err := s.lock.Current(ctx)
	if err != nil || !found {
		return nil, err
	}
	return &l, nil
}

// State returns the orchestrator's current state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastRun returns the summary of the most recent finished run, if any.
func (s *Service) LastRun() (RunSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return RunSummary{}, false
	}
	return *s.last, true
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"state":           string(s.state),
		"stopped":         s.stopped,
		"leaseStaleAfter": s.lock.StaleAfter().String(),
	}
	if a, ok := s.evaluator.(interface{ Backends() []string }); ok {
		stats["backends"] = a.Backends()
	}
	if s.current != nil {
		stats["currentRun"] = *s.current
	}
	if s.last != nil {
		stats["lastRun"] = *s.last
	}
	return stats
}
