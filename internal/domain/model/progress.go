package model

import "time"

// RunStatus is the lifecycle status of a bulk evaluation run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
)

// Terminal reports whether pollers should stop watching a run in this status.
func (s RunStatus) Terminal() bool {
	return s == RunStatusPaused || s == RunStatusCompleted
}

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusPaused, RunStatusCompleted:
		return true
	}
	return false
}

// RunProgress describes an in-flight or finished bulk evaluation run. RunID
// names the run that owns the document; only that run may advance it.
type RunProgress struct {
	CompetitionID        string    `json:"competitionId"`
	RunID                string    `json:"runId,omitempty"`
	TotalSubmissions     int       `json:"totalSubmissions"`
	EvaluatedSubmissions int       `json:"evaluatedSubmissions"`
	StartTime            time.Time `json:"startTime"`
	LastUpdateTime       time.Time `json:"lastUpdateTime"`
	Status               RunStatus `json:"evaluationStatus"`
}

// Ratio returns evaluated/total in [0,1].
func (p RunProgress) Ratio() float64 {
	if p.TotalSubmissions <= 0 {
		return 0
	}
	r := float64(p.EvaluatedSubmissions) / float64(p.TotalSubmissions)
	if r > 1 {
		return 1
	}
	return r
}
