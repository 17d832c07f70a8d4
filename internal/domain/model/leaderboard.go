package model

import "time"

// LeaderboardEntry is a row of the automated-score leaderboard.
type LeaderboardEntry struct {
	ParticipantID  string  `json:"participantId"`
	FullName       string  `json:"fullName"`
	Email          string  `json:"email"`
	AutomatedScore float64 `json:"automatedScore"`
}

// FinalEntry is one participant's row in a generated final leaderboard.
type FinalEntry struct {
	ParticipantID  string  `json:"participantId"`
	FullName       string  `json:"fullName,omitempty"`
	Email          string  `json:"email,omitempty"`
	AutomatedScore float64 `json:"automatedScore"`
	HumanScore     float64 `json:"humanScore"`
	FinalScore     float64 `json:"finalScore"`
	Rank           int     `json:"rank"`
}

// HumanEvaluation is one judge's score for one submission.
type HumanEvaluation struct {
	SubmissionID  string  `json:"submissionId"`
	ParticipantID string  `json:"participantId"`
	JudgeID       string  `json:"judgeId"`
	Score         float64 `json:"score"`
}

// LeaderboardTrack names which ranking produced a final leaderboard.
type LeaderboardTrack string

// Leaderboard tracks.
const (
	// TrackFinal blends automated and human scores.
	TrackFinal LeaderboardTrack = "final"
	// TrackLevel1 ranks by automated score only.
	TrackLevel1 LeaderboardTrack = "level1"
)

// LeaderboardMarker is written on the competition record after a generation.
type LeaderboardMarker struct {
	HasFinalLeaderboard bool             `json:"hasFinalLeaderboard"`
	GeneratedAt         time.Time        `json:"finalLeaderboardGeneratedAt"`
	Track               LeaderboardTrack `json:"finalLeaderboardTrack"`
}

// JudgeStatus reports whether judging of a competition's top entries is done.
type JudgeStatus struct {
	Complete              bool `json:"complete"`
	EvaluatedParticipants int  `json:"evaluatedParticipants"`
	TopN                  int  `json:"topN"`
}
