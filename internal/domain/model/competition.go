package model

import "time"

// Competition is the subset of the competition record this service reads and marks.
type Competition struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	TopN   int    `json:"topN"`
	LeaderboardMarker
}

// Challenge carries the brief and rubric submissions are scored against.
type Challenge struct {
	ID            string            `json:"id"`
	CompetitionID string            `json:"competitionId"`
	Brief         string            `json:"brief"`
	Rubric        []RubricCriterion `json:"rubric"`
}

// Submission is a participant's entry for one challenge. It is unscored while Score is nil.
type Submission struct {
	ID            string           `json:"id"`
	CompetitionID string           `json:"competitionId"`
	ChallengeID   string           `json:"challengeId"`
	ParticipantID string           `json:"participantId"`
	Text          string           `json:"text"`
	Score         *SubmissionScore `json:"score,omitempty"`
	EvaluatedAt   *time.Time       `json:"evaluatedAt,omitempty"`
}

// Participant identifies a competitor.
type Participant struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}
