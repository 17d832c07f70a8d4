package memstore

import (
	"fmt"

	"github.com/okian/evalbench/internal/domain/model"
)

// PutCompetition stores or replaces a competition.
func (s *Store) PutCompetition(c model.Competition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.competitions[c.ID] = c
}

// PutChallenge stores or replaces a challenge.
func (s *Store) PutChallenge(c model.Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[c.ID] = c
}

// PutParticipant stores or replaces a participant.
func (s *Store) PutParticipant(p model.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[p.ID] = p
}

// PutSubmission stores or replaces a submission, keeping first-insert order.
func (s *Store) PutSubmission(sub model.Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.submissions[sub.ID]; !ok {
		s.order = append(s.order, sub.ID)
	}
	s.submissions[sub.ID] = sub
}

// AddHumanEvaluation records a judge score under a competition.
func (s *Store) AddHumanEvaluation(competitionID string, ev model.HumanEvaluation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.human[competitionID] = append(s.human[competitionID], ev)
}

// Submission returns a copy of a stored submission.
func (s *Store) Submission(id string) (model.Submission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	return sub, ok
}

// SetLease overwrites the lease document. Tests use it to plant stale leases.
func (s *Store) SetLease(l *model.Lease) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l == nil {
		s.lease = nil
		return
	}
	c := *l
	s.lease = &c
}

// SeedDemo loads a small competition for local runs: two challenges, four
// participants with one submission each, and judge scores for the top two.
func (s *Store) SeedDemo(competitionID string) {
	rubric := []model.RubricCriterion{
		{Name: "Correctness", Weight: 0.5},
		{Name: "Clarity", Weight: 0.3},
		{Name: "Originality", Weight: 0.2},
	}
	s.PutCompetition(model.Competition{ID: competitionID, Title: "Demo cup", TopN: 2})
	s.PutChallenge(model.Challenge{ID: competitionID + "-ch1", CompetitionID: competitionID, Brief: "Explain recursion to a ten year old.", Rubric: rubric})
	s.PutChallenge(model.Challenge{ID: competitionID + "-ch2", CompetitionID: competitionID, Brief: "Summarise the water cycle in three sentences.", Rubric: rubric})

	names := []string{"Ada", "Grace", "Linus", "Barbara"}
	for i, name := range names {
		pid := fmt.Sprintf("%s-p%d", competitionID, i+1)
		s.PutParticipant(model.Participant{ID: pid, FullName: name})
		s.PutSubmission(model.Submission{
			ID:            fmt.Sprintf("%s-s%d", competitionID, i+1),
			CompetitionID: competitionID,
			ChallengeID:   fmt.Sprintf("%s-ch%d", competitionID, i%2+1),
			ParticipantID: pid,
			Text:          name + "'s answer",
		})
	}
	s.AddHumanEvaluation(competitionID, model.HumanEvaluation{SubmissionID: competitionID + "-s1", ParticipantID: competitionID + "-p1", JudgeID: "judge-1", Score: 80})
	s.AddHumanEvaluation(competitionID, model.HumanEvaluation{SubmissionID: competitionID + "-s2", ParticipantID: competitionID + "-p2", JudgeID: "judge-1", Score: 70})
}
