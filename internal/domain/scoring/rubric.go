package scoring

import (
	"fmt"
	"strings"

	"github.com/okian/evalbench/internal/domain/model"
)

// JustificationKey is the reply field carrying the free-text justification.
const JustificationKey = "description"

// ValidateRubric reports whether rubric can be scored against.
func ValidateRubric(rubric []model.RubricCriterion) error {
	if len(rubric) == 0 {
		return fmt.Errorf("%w: no criteria", ErrInvalidRubric)
	}
	seen := make(map[string]struct{}, len(rubric))
	for i, c := range rubric {
		name := strings.TrimSpace(c.Name)
		switch {
		case name == "":
			return fmt.Errorf("%w: criterion %d has no name", ErrInvalidRubric, i)
		case name == JustificationKey:
			return fmt.Errorf("%w: criterion name %q is reserved", ErrInvalidRubric, name)
		case c.Weight < 0:
			return fmt.Errorf("%w: criterion %q has negative weight", ErrInvalidRubric, name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate criterion %q", ErrInvalidRubric, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// FinalScore weights scores by their criterion; criteria with weight <= 0
// are scored but do not contribute.
func FinalScore(rubric []model.RubricCriterion, scores map[string]int) float64 {
	var total float64
	for _, c := range rubric {
		if c.Weight <= 0 {
			continue
		}
		total += float64(scores[c.Name]) * c.Weight
	}
	return total
}
