package lease

import (
	"time"

	"github.com/okian/evalbench/pkg/logger"
)

// Defaults.
const (
	DefaultStaleAfter      = 30 * time.Minute
	DefaultConflictRetries = 3
	DefaultConflictBackoff = 50 * time.Millisecond
)

// Option configures a Lock.
type Option func(*Lock)

// WithStaleAfter sets how long a lease may be held before it is considered abandoned.
func WithStaleAfter(d time.Duration) Option {
	return func(l *Lock) {
		if d > 0 {
			l.staleAfter = d
		}
	}
}

// WithConflictRetries bounds re-decisions after a transaction conflict.
func WithConflictRetries(n int) Option {
	return func(l *Lock) {
		if n >= 0 {
			l.conflictRetries = n
		}
	}
}

// WithConflictBackoff sets the constant wait between conflict retries.
func WithConflictBackoff(d time.Duration) Option {
	return func(l *Lock) {
		if d >= 0 {
			l.conflictBackoff = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Lock) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Lock) {
		if lg != nil {
			l.log = lg
		}
	}
}
