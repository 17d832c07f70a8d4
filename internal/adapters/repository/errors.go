package repository

import "errors"

// Sentinel kinds for store errors.
var (
	// ErrNotFound reports a missing competition, challenge or submission.
	ErrNotFound = errors.New("record not found")
	// ErrConflict reports an optimistic transaction aborted by a concurrent writer.
	ErrConflict = errors.New("concurrent modification")
	// ErrStaleRun reports a progress write from a run that no longer owns the
	// competition's progress document, or whose document is no longer running.
	ErrStaleRun = errors.New("progress belongs to another run")
	// ErrStoreUnavailable wraps transport or driver failures of the backing store.
	ErrStoreUnavailable = errors.New("store unavailable")
)
