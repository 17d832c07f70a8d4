// Package memstore is an in-process implementation of repository.Store used for
// local development and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/evalbench/internal/adapters/repository"
	"github.com/okian/evalbench/internal/domain/model"
)

// Store keeps every document in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	lease        *model.Lease
	progress     map[string]model.RunProgress
	competitions map[string]model.Competition
	challenges   map[string]model.Challenge
	submissions  map[string]model.Submission
	order        []string // submission ids in insertion order
	participants map[string]model.Participant
	human        map[string][]model.HumanEvaluation
	final        map[string][]model.FinalEntry

	fault func(op string) error
}

// Option configures a Store.
type Option func(*Store)

// WithFault installs a hook called at the start of every operation with the
// operation name. A non-nil return fails the operation with that error.
func WithFault(fn func(op string) error) Option {
	return func(s *Store) { s.fault = fn }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		progress:     make(map[string]model.RunProgress),
		competitions: make(map[string]model.Competition),
		challenges:   make(map[string]model.Challenge),
		submissions:  make(map[string]model.Submission),
		participants: make(map[string]model.Participant),
		human:        make(map[string][]model.HumanEvaluation),
		final:        make(map[string][]model.FinalEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ repository.Store = (*Store)(nil)

func (s *Store) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, repository.ErrStoreUnavailable, err)
	}
	if s.fault != nil {
		if err := s.fault(op); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// GetLease implements repository.LeaseStore.
func (s *Store) GetLease(ctx context.Context) (*model.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "GetLease"); err != nil {
		return nil, err
	}
	if s.lease == nil {
		return nil, nil
	}
	l := *s.lease
	return &l, nil
}

// UpdateLease implements repository.LeaseStore. The mutex serialises callers,
// so it never reports ErrConflict.
func (s *Store) UpdateLease(ctx context.Context, fn repository.LeaseMutation) (*model.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "UpdateLease"); err != nil {
		return nil, err
	}
	var current *model.Lease
	if s.lease != nil {
		l := *s.lease
		current = &l
	}
	upd, err := fn(current)
	if err != nil {
		return nil, err
	}
	if upd.Lease == nil {
		return current, nil
	}
	next := *upd.Lease
	s.lease = &next
	if upd.PauseProgressOf != "" {
		if p, ok := s.progress[upd.PauseProgressOf]; ok {
			p.Status = model.RunStatusPaused
			p.LastUpdateTime = next.LockedAt
			s.progress[upd.PauseProgressOf] = p
		}
	}
	out := next
	return &out, nil
}

// PutProgress implements repository.ProgressStore.
func (s *Store) PutProgress(ctx context.Context, p model.RunProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "PutProgress"); err != nil {
		return err
	}
	s.progress[p.CompetitionID] = p
	return nil
}

// IncrementProgress implements repository.ProgressStore.
func (s *Store) IncrementProgress(ctx context.Context, competitionID, runID string, n int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "IncrementProgress"); err != nil {
		return err
	}
	p, err := s.ownedProgress(competitionID, runID)
	if err != nil {
		return err
	}
	p.EvaluatedSubmissions += n
	p.LastUpdateTime = at
	s.progress[competitionID] = p
	return nil
}

// SetProgressStatus implements repository.ProgressStore.
func (s *Store) SetProgressStatus(ctx context.Context, competitionID, runID string, status model.RunStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "SetProgressStatus"); err != nil {
		return err
	}
	p, err := s.ownedProgress(competitionID, runID)
	if err != nil {
		return err
	}
	p.Status = status
	p.LastUpdateTime = at
	s.progress[competitionID] = p
	return nil
}

// ownedProgress returns the document when runID owns it and it is running.
// Callers hold s.mu.
func (s *Store) ownedProgress(competitionID, runID string) (model.RunProgress, error) {
	p, ok := s.progress[competitionID]
	if !ok || p.RunID != runID || p.Status != model.RunStatusRunning {
		return model.RunProgress{}, fmt.Errorf("progress %s run %s: %w", competitionID, runID, repository.ErrStaleRun)
	}
	return p, nil
}

// GetProgress implements repository.ProgressStore.
func (s *Store) GetProgress(ctx context.Context, competitionID string) (*model.RunProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "GetProgress"); err != nil {
		return nil, err
	}
	p, ok := s.progress[competitionID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// GetCompetition implements repository.CompetitionStore.
func (s *Store) GetCompetition(ctx context.Context, competitionID string) (model.Competition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "GetCompetition"); err != nil {
		return model.Competition{}, err
	}
	c, ok := s.competitions[competitionID]
	if !ok {
		return model.Competition{}, fmt.Errorf("competition %s: %w", competitionID, repository.ErrNotFound)
	}
	return c, nil
}

// GetChallenge implements repository.CompetitionStore.
func (s *Store) GetChallenge(ctx context.Context, challengeID string) (model.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "GetChallenge"); err != nil {
		return model.Challenge{}, err
	}
	c, ok := s.challenges[challengeID]
	if !ok {
		return model.Challenge{}, fmt.Errorf("challenge %s: %w", challengeID, repository.ErrNotFound)
	}
	c.Rubric = append([]model.RubricCriterion(nil), c.Rubric...)
	return c, nil
}

// ListUnscoredSubmissions implements repository.CompetitionStore.
func (s *Store) ListUnscoredSubmissions(ctx context.Context, competitionID string) ([]model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "ListUnscoredSubmissions"); err != nil {
		return nil, err
	}
	var out []model.Submission
	for _, id := range s.order {
		sub := s.submissions[id]
		if sub.CompetitionID == competitionID && sub.Score == nil {
			out = append(out, sub)
		}
	}
	return out, nil
}

// SaveSubmissionScore implements repository.CompetitionStore.
func (s *Store) SaveSubmissionScore(ctx context.Context, submissionID string, score model.SubmissionScore, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "SaveSubmissionScore"); err != nil {
		return err
	}
	sub, ok := s.submissions[submissionID]
	if !ok {
		return fmt.Errorf("submission %s: %w", submissionID, repository.ErrNotFound)
	}
	sc := score
	ts := at
	sub.Score = &sc
	sub.EvaluatedAt = &ts
	s.submissions[submissionID] = sub
	return nil
}

// AutomatedLeaderboard implements repository.CompetitionStore.
func (s *Store) AutomatedLeaderboard(ctx context.Context, competitionID string) ([]model.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "AutomatedLeaderboard"); err != nil {
		return nil, err
	}
	byID := make(map[string]*model.LeaderboardEntry)
	var out []*model.LeaderboardEntry
	for _, id := range s.order {
		sub := s.submissions[id]
		if sub.CompetitionID != competitionID {
			continue
		}
		e, ok := byID[sub.ParticipantID]
		if !ok {
			p := s.participants[sub.ParticipantID]
			e = &model.LeaderboardEntry{ParticipantID: sub.ParticipantID, FullName: p.FullName, Email: p.Email}
			byID[sub.ParticipantID] = e
			out = append(out, e)
		}
		if sub.Score != nil && sub.Score.AggregateScore != nil {
			e.AutomatedScore += *sub.Score.AggregateScore
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AutomatedScore != out[j].AutomatedScore {
			return out[i].AutomatedScore > out[j].AutomatedScore
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	res := make([]model.LeaderboardEntry, len(out))
	for i, e := range out {
		res[i] = *e
	}
	return res, nil
}

// ListHumanEvaluations implements repository.CompetitionStore.
func (s *Store) ListHumanEvaluations(ctx context.Context, competitionID string) ([]model.HumanEvaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "ListHumanEvaluations"); err != nil {
		return nil, err
	}
	return append([]model.HumanEvaluation(nil), s.human[competitionID]...), nil
}

// ReplaceFinalLeaderboard implements repository.CompetitionStore.
func (s *Store) ReplaceFinalLeaderboard(ctx context.Context, competitionID string, entries []model.FinalEntry, marker model.LeaderboardMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "ReplaceFinalLeaderboard"); err != nil {
		return err
	}
	c, ok := s.competitions[competitionID]
	if !ok {
		return fmt.Errorf("competition %s: %w", competitionID, repository.ErrNotFound)
	}
	c.LeaderboardMarker = marker
	s.competitions[competitionID] = c
	s.final[competitionID] = append([]model.FinalEntry(nil), entries...)
	return nil
}

// FinalLeaderboard implements repository.CompetitionStore.
func (s *Store) FinalLeaderboard(ctx context.Context, competitionID string) ([]model.FinalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "FinalLeaderboard"); err != nil {
		return nil, err
	}
	entries, ok := s.final[competitionID]
	if !ok {
		return nil, fmt.Errorf("final leaderboard %s: %w", competitionID, repository.ErrNotFound)
	}
	return append([]model.FinalEntry(nil), entries...), nil
}
