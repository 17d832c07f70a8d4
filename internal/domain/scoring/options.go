package scoring

import (
	"time"

	"github.com/okian/evalbench/pkg/logger"
)

// Defaults for the per-backend retry policy.
const (
	DefaultMaxAttempts  = 2
	DefaultRetryBackoff = 500 * time.Millisecond
)

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithMaxAttempts sets the attempts per backend, first call included.
func WithMaxAttempts(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the fixed wait between attempts.
func WithRetryBackoff(d time.Duration) Option {
	return func(a *Aggregator) {
		if d >= 0 {
			a.retryBackoff = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}
