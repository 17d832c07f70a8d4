package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/evalbench/internal/domain/model"
	"github.com/okian/evalbench/internal/domain/ranking"
	"github.com/okian/evalbench/pkg/logger"
	"github.com/okian/evalbench/pkg/metrics"
)

// GenerateFinalLeaderboard blends automated and human scores, persists one
// entry per participant and marks the competition. Repeating it overwrites
// the previous result.
func (s *Service) GenerateFinalLeaderboard(ctx context.Context, competitionID string) ([]model.FinalEntry, error) {
	return s.generate(ctx, competitionID, model.TrackFinal, func(ctx context.Context, c model.Competition, automated []model.LeaderboardEntry) ([]model.FinalEntry, error) {
		evals, err := s.store.ListHumanEvaluations(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("list human evaluations: %w", err)
		}
		return ranking.ComputeFinalLeaderboard(automated, ranking.SumHumanScores(evals), c.TopN), nil
	})
}

// GenerateLevel1Leaderboard ranks by automated score only.
func (s *Service) GenerateLevel1Leaderboard(ctx context.Context, competitionID string) ([]model.FinalEntry, error) {
	return s.generate(ctx, competitionID, model.TrackLevel1, func(_ context.Context, _ model.Competition, automated []model.LeaderboardEntry) ([]model.FinalEntry, error) {
		return ranking.ComputeSingleTrackLeaderboard(automated), nil
	})
}

type computeFunc func(ctx context.Context, c model.Competition, automated []model.LeaderboardEntry) ([]model.FinalEntry, error)

func (s *Service) generate(ctx context.Context, competitionID string, track model.LeaderboardTrack, compute computeFunc) (entries []model.FinalEntry, err error) {
	ctx, span := s.tracer.Start(ctx, "service.generate_leaderboard",
		trace.WithAttributes(
			attribute.String("competition.id", competitionID),
			attribute.String("leaderboard.track", string(track)),
		))
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.RecordLeaderboardGeneration(string(track), outcome, len(entries))
		span.End()
	}()

	c, err := s.store.GetCompetition(ctx, competitionID)
	if err != nil {
		return nil, fmt.Errorf("load competition %s: %w", competitionID, err)
	}
	automated, err := s.store.AutomatedLeaderboard(ctx, competitionID)
	if err != nil {
		return nil, fmt.Errorf("automated leaderboard: %w", err)
	}
	entries, err = compute(ctx, c, automated)
	if err != nil {
		return nil, err
	}

	marker := model.LeaderboardMarker{HasFinalLeaderboard: true, GeneratedAt: s.now(), Track: track}
	if err := s.store.ReplaceFinalLeaderboard(ctx, competitionID, entries, marker); err != nil {
		return nil, fmt.Errorf("store final leaderboard: %w", err)
	}
	s.log.Info(ctx, "final leaderboard generated",
		logger.String("competition_id", competitionID),
		logger.String("track", string(track)),
		logger.Int("entries", len(entries)))
	return entries, nil
}

// FinalLeaderboard returns the persisted final entries.
func (s *Service) FinalLeaderboard(ctx context.Context, competitionID string) ([]model.FinalEntry, error) {
	entries, err := s.store.FinalLeaderboard(ctx, competitionID)
	if err != nil {
		return nil, fmt.Errorf("final leaderboard %s: %w", competitionID, err)
	}
	return entries, nil
}

// JudgeStatus reports whether exactly topN participants carry a human score.
func (s *Service) JudgeStatus(ctx context.Context, competitionID string) (model.JudgeStatus, error) {
	c, err := s.store.GetCompetition(ctx, competitionID)
	if err != nil {
		return model.JudgeStatus{}, fmt.Errorf("load competition %s: %w", competitionID, err)
	}
	evals, err := s.store.ListHumanEvaluations(ctx, competitionID)
	if err != nil {
		return model.JudgeStatus{}, fmt.Errorf("list human evaluations: %w", err)
	}
	human := ranking.SumHumanScores(evals)
	return model.JudgeStatus{
		Complete:              ranking.AreJudgeEvaluationsComplete(human, c.TopN),
		EvaluatedParticipants: ranking.EvaluatedParticipants(human),
		TopN:                  c.TopN,
	}, nil
}
