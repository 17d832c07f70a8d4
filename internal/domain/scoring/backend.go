package scoring

import (
	"context"

	"github.com/okian/evalbench/internal/domain/model"
)

// Request is what every backend in a panel receives for one submission.
type Request struct {
	// Instruction carries the brief, the rubric and the reply schema.
	Instruction string
	// Submission is the participant's text.
	Submission string
	// Rubric is the structured form of the criteria in Instruction.
	Rubric []model.RubricCriterion
}

// Backend is one independent scorer in the panel. Complete returns the raw
// reply text; validating it is the aggregator's job.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}
