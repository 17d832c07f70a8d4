package scoring

import "errors"

var (
	// ErrBackendInvalidResponse reports a reply that failed the schema gate.
	ErrBackendInvalidResponse = errors.New("backend returned an invalid response")
	// ErrAllBackendsFailed tags the log record of a panel with no valid verdict.
	// Evaluate never returns it.
	ErrAllBackendsFailed = errors.New("all scoring backends failed")
	// ErrInvalidRubric reports a rubric that cannot be scored against.
	ErrInvalidRubric = errors.New("invalid rubric")
)
