package model

// RubricCriterion is a named, weighted dimension a submission is scored on (0-100).
type RubricCriterion struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}

// ModelScore is one scoring backend's verdict on one submission.
type ModelScore struct {
	Scores      map[string]int `json:"scores"`
	FinalScore  float64        `json:"finalScore"`
	Description string         `json:"description"`
}

// SubmissionScore is the panel result for one submission. A nil entry in
// PerBackendScores marks a backend whose result is absent; a nil
// AggregateScore means no backend produced a valid verdict.
type SubmissionScore struct {
	SubmissionID     string                 `json:"submissionId"`
	PerBackendScores map[string]*ModelScore `json:"perBackendScores"`
	AggregateScore   *float64               `json:"aggregateScore"`
}

// ValidBackends counts backends with a present verdict.
func (s SubmissionScore) ValidBackends() int {
	n := 0
	for _, ms := range s.PerBackendScores {
		if ms != nil {
			n++
		}
	}
	return n
}
