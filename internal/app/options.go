package service

import (
	"time"

	"github.com/okian/evalbench/internal/domain/lease"
	"github.com/okian/evalbench/internal/domain/progress"
	"github.com/okian/evalbench/pkg/logger"
)

// DefaultReleaseTimeout bounds the lease release issued when a run ends.
const DefaultReleaseTimeout = 10 * time.Second

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithLock replaces the lease lock built over the store.
func WithLock(l *lease.Lock) Option {
	return func(s *Service) {
		if l != nil {
			s.lock = l
		}
	}
}

// WithTracker replaces the progress tracker built over the store.
func WithTracker(t *progress.Tracker) Option {
	return func(s *Service) {
		if t != nil {
			s.tracker = t
		}
	}
}

// WithClock overrides time.Now for score and leaderboard timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithReleaseTimeout bounds the lease release at the end of a run.
func WithReleaseTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.releaseTimeout = d
		}
	}
}
