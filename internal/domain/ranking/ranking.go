// Package ranking merges automated and human scores into final leaderboards.
package ranking

import (
	"sort"

	"github.com/okian/evalbench/internal/domain/model"
)

// SumHumanScores totals judge scores per participant.
func SumHumanScores(evals []model.HumanEvaluation) map[string]float64 {
	out := make(map[string]float64)
	for _, ev := range evals {
		out[ev.ParticipantID] += ev.Score
	}
	return out
}

// ComputeFinalLeaderboard blends automated and human scores.
//
// Participants with a positive human score (group A) get finalScore =
// (automated + human) / 2 and are ordered by it; the rest (group B) keep
// their automated score. The list is the first topN of A, the remainder of
// A, then all of B, without a global re-sort. Ranks are assigned in one
// scan: an entry scoring strictly below its predecessor takes rank
// index+1, otherwise it shares the predecessor's rank.
func ComputeFinalLeaderboard(automated []model.LeaderboardEntry, human map[string]float64, topN int) []model.FinalEntry {
	var groupA, groupB []model.FinalEntry
	for _, e := range automated {
		fe := model.FinalEntry{
			ParticipantID:  e.ParticipantID,
			FullName:       e.FullName,
			Email:          e.Email,
			AutomatedScore: e.AutomatedScore,
			HumanScore:     human[e.ParticipantID],
		}
		if fe.HumanScore > 0 {
			fe.FinalScore = (fe.AutomatedScore + fe.HumanScore) / 2
			groupA = append(groupA, fe)
		} else {
			fe.HumanScore = 0
			fe.FinalScore = fe.AutomatedScore
			groupB = append(groupB, fe)
		}
	}

	sort.SliceStable(groupA, func(i, j int) bool { return groupA[i].FinalScore > groupA[j].FinalScore })
	sort.SliceStable(groupB, func(i, j int) bool { return groupB[i].AutomatedScore > groupB[j].AutomatedScore })

	if topN < 0 {
		topN = 0
	}
	head := min(topN, len(groupA))
	out := make([]model.FinalEntry, 0, len(groupA)+len(groupB))
	out = append(out, groupA[:head]...)
	out = append(out, groupA[head:]...)
	out = append(out, groupB...)

	assignRanks(out, scoreForRank)
	return out
}

// ComputeSingleTrackLeaderboard ranks by automated score alone.
func ComputeSingleTrackLeaderboard(automated []model.LeaderboardEntry) []model.FinalEntry {
	out := make([]model.FinalEntry, len(automated))
	for i, e := range automated {
		out[i] = model.FinalEntry{
			ParticipantID:  e.ParticipantID,
			FullName:       e.FullName,
			Email:          e.Email,
			AutomatedScore: e.AutomatedScore,
			FinalScore:     e.AutomatedScore,
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AutomatedScore > out[j].AutomatedScore })
	assignRanks(out, func(e model.FinalEntry) float64 { return e.AutomatedScore })
	return out
}

// AreJudgeEvaluationsComplete reports whether exactly topN participants have a
// recorded human score.
func AreJudgeEvaluationsComplete(human map[string]float64, topN int) bool {
	return EvaluatedParticipants(human) == topN
}

// EvaluatedParticipants counts participants with a recorded human score.
func EvaluatedParticipants(human map[string]float64) int {
	return len(human)
}

func scoreForRank(e model.FinalEntry) float64 {
	if e.HumanScore > 0 {
		return e.FinalScore
	}
	return e.AutomatedScore
}

func assignRanks(entries []model.FinalEntry, score func(model.FinalEntry) float64) {
	var prev float64
	for i := range entries {
		s := score(entries[i])
		if i == 0 || s < prev {
			entries[i].Rank = i + 1
		} else {
			entries[i].Rank = entries[i-1].Rank
		}
		prev = s
	}
}
