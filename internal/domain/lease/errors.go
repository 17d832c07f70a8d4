package lease

import "errors"

var (
	// ErrBusy reports a fresh lease held by another run.
	ErrBusy = errors.New("bulk evaluation already running")
	// ErrStaleLeaseRecovered tags the log record written when a crashed run's
	// lease is taken over. It is never returned to callers.
	ErrStaleLeaseRecovered = errors.New("stale lease recovered")
)
