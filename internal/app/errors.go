package service

import "errors"

var (
	// ErrMissingRubricOrBrief marks a submission whose challenge cannot be scored.
	// The submission is skipped and the run continues.
	ErrMissingRubricOrBrief = errors.New("challenge has no usable rubric or brief")
	// ErrSuperseded fails a run whose competition was taken over by another
	// run after its lease went stale.
	ErrSuperseded = errors.New("run superseded by another run")
	// ErrStopped is returned by StartBulkRun after Stop.
	ErrStopped = errors.New("service stopped")
)
