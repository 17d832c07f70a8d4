// Package lease implements the deployment-wide bulk evaluation lock.
//
// The lock is a single document mutated only through the store's atomic
// UpdateLease. A holder that stops renewing is not detected by any sweeper;
// the next Acquire after staleAfter takes the lease over and marks the
// previous run's progress paused in the same transaction.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/okian/evalbench/internal/adapters/repository"
	"github.com/okian/evalbench/internal/domain/model"
	"github.com/okian/evalbench/pkg/logger"
	"github.com/okian/evalbench/pkg/metrics"
)

// Lock guards bulk evaluation runs.
type Lock struct {
	store           repository.LeaseStore
	staleAfter      time.Duration
	conflictRetries int
	conflictBackoff time.Duration
	now             func() time.Time
	log             logger.Logger
}

// New returns a Lock over store.
func New(store repository.LeaseStore, opts ...Option) *Lock {
	l := &Lock{
		store:           store,
		staleAfter:      DefaultStaleAfter,
		conflictRetries: DefaultConflictRetries,
		conflictBackoff: DefaultConflictBackoff,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logger.Get().Named("lease")
	}
	return l
}

// StaleAfter returns the configured staleness threshold.
func (l *Lock) StaleAfter() time.Duration { return l.staleAfter }

// Acquire locks the lease for owner. A fresh lease held by anyone, owner
// included, yields ErrBusy. A missing owner.RunID is generated.
func (l *Lock) Acquire(ctx context.Context, owner model.Owner, userID, reason string) (model.Lease, error) {
	if owner.RunID == "" {
		owner.RunID = uuid.NewString()
	}

	var (
		acquired  *model.Lease
		recovered *model.Lease
		holder    model.Lease
	)
	decide := func(cur *model.Lease) (repository.LeaseUpdate, error) {
		recovered = nil
		now := l.now()
		next := &model.Lease{
			IsLocked:     true,
			LockedBy:     owner.CompetitionID,
			LockedByUser: userID,
			LockedAt:     now,
			Reason:       reason,
			RunID:        owner.RunID,
		}
		switch {
		case cur == nil || !cur.IsLocked:
			return repository.LeaseUpdate{Lease: next}, nil
		case cur.StaleAt(now, l.staleAfter):
			prev := *cur
			recovered = &prev
			return repository.LeaseUpdate{Lease: next, PauseProgressOf: cur.LockedBy}, nil
		default:
			holder = *cur
			return repository.LeaseUpdate{}, ErrBusy
		}
	}

	err := l.retryConflicts(ctx, func() error {
		res, err := l.store.UpdateLease(ctx, decide)
		if err != nil {
			return err
		}
		acquired = res
		return nil
	})
	switch {
	case errors.Is(err, ErrBusy):
		metrics.RecordLeaseAcquisition("busy")
		l.log.Debug(ctx, "lease busy",
			logger.String("competition_id", owner.CompetitionID),
			logger.String("held_by", holder.LockedBy),
			logger.String("held_run_id", holder.RunID))
		return holder, ErrBusy
	case err != nil:
		metrics.RecordLeaseAcquisition("error")
		return model.Lease{}, fmt.Errorf("acquire lease: %w", err)
	}

	if recovered != nil {
		metrics.RecordLeaseRecovery()
		metrics.RecordLeaseAcquisition("recovered")
		l.log.Warn(ctx, "taking over abandoned lease",
			logger.Error(ErrStaleLeaseRecovered),
			logger.String("previous_owner", recovered.LockedBy),
			logger.String("previous_run_id", recovered.RunID),
			logger.String("locked_at", recovered.LockedAt.Format(time.RFC3339)),
			logger.Duration("stale_after", l.staleAfter),
			logger.String("new_owner", owner.CompetitionID))
	} else {
		metrics.RecordLeaseAcquisition("acquired")
	}
	metrics.UpdateLeaseHeld(true)
	l.log.Info(ctx, "lease acquired",
		logger.String("competition_id", owner.CompetitionID),
		logger.String("run_id", owner.RunID),
		logger.String("user_id", userID))
	return *acquired, nil
}

// Release unlocks the lease if owner still holds it. A release by anyone
// else is a no-op.
func (l *Lock) Release(ctx context.Context, owner model.Owner) error {
	var matched bool
	err := l.retryConflicts(ctx, func() error {
		_, err := l.store.UpdateLease(ctx, func(cur *model.Lease) (repository.LeaseUpdate, error) {
			matched = cur != nil && cur.HeldBy(owner)
			if !matched {
				return repository.LeaseUpdate{}, nil
			}
			return repository.LeaseUpdate{Lease: &model.Lease{IsLocked: false}}, nil
		})
		return err
	})
	if err != nil {
		metrics.RecordLeaseRelease("error")
		return fmt.Errorf("release lease: %w", err)
	}
	if !matched {
		metrics.RecordLeaseRelease("mismatch")
		l.log.Debug(ctx, "release ignored, lease not held by caller",
			logger.String("competition_id", owner.CompetitionID),
			logger.String("run_id", owner.RunID))
		return nil
	}
	metrics.RecordLeaseRelease("released")
	metrics.UpdateLeaseHeld(false)
	l.log.Info(ctx, "lease released",
		logger.String("competition_id", owner.CompetitionID),
		logger.String("run_id", owner.RunID))
	return nil
}

// Current returns the stored lease; found is false when none was ever written.
func (l *Lock) Current(ctx context.Context) (model.Lease, bool, error) {
	cur, err := l.store.GetLease(ctx)
	if err != nil {
		return model.Lease{}, false, fmt.Errorf("read lease: %w", err)
	}
	if cur == nil {
		return model.Lease{}, false, nil
	}
	return *cur, true, nil
}

// retryConflicts re-runs op while it fails with repository.ErrConflict.
func (l *Lock) retryConflicts(ctx context.Context, op func() error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(l.conflictBackoff), uint64(l.conflictRetries)),
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
