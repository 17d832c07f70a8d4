// Package pgstore keeps competition records in PostgreSQL.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/evalbench/internal/adapters/repository"
	"github.com/okian/evalbench/internal/domain/model"
	"github.com/okian/evalbench/pkg/metrics"
)

const storeName = "postgres"

//go:embed schema.sql
var schema string

// Schema returns the DDL applied by Migrate.
func Schema() string { return schema }

// Store implements repository.CompetitionStore.
type Store struct {
	pool *pgxpool.Pool
}

var _ repository.CompetitionStore = (*Store)(nil)

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w: %w", repository.ErrStoreUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w: %w", repository.ErrStoreUnavailable, err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return wrap("ping", err)
	}
	return nil
}

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return wrap("migrate", err)
	}
	return nil
}

// wrap classifies driver errors. Server-side SQL errors are returned as-is,
// everything else (dial, timeout, closed pool) is ErrStoreUnavailable.
func wrap(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("postgres %s: %w", op, err)
	}
	return fmt.Errorf("postgres %s: %w: %w", op, repository.ErrStoreUnavailable, err)
}

func observe(op string, start time.Time, err error) {
	if !errors.Is(err, repository.ErrStoreUnavailable) {
		err = nil
	}
	metrics.RecordStoreOperation(storeName, op, float64(time.Since(start).Milliseconds()), err)
}

// GetCompetition implements repository.CompetitionStore.
func (s *Store) GetCompetition(ctx context.Context, competitionID string) (c model.Competition, err error) {
	start := time.Now()
	defer func() { observe("get_competition", start, err) }()

	var generatedAt *time.Time
	var track string
	err = s.pool.QueryRow(ctx,
		`SELECT id, title, top_n, has_final_leaderboard, final_leaderboard_generated_at, final_leaderboard_track
		 FROM competitions WHERE id = $1`, competitionID,
	).Scan(&c.ID, &c.Title, &c.TopN, &c.HasFinalLeaderboard, &generatedAt, &track)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Competition{}, fmt.Errorf("competition %s: %w", competitionID, repository.ErrNotFound)
	}
	if err != nil {
		return model.Competition{}, wrap("get competition", err)
	}
	if generatedAt != nil {
		c.GeneratedAt = *generatedAt
	}
	c.Track = model.LeaderboardTrack(track)
	return c, nil
}

// GetChallenge implements repository.CompetitionStore.
func (s *Store) GetChallenge(ctx context.Context, challengeID string) (ch model.Challenge, err error) {
	start := time.Now()
	defer func() { observe("get_challenge", start, err) }()

	var rubric []byte
	err = s.pool.QueryRow(ctx,
		`SELECT id, competition_id, brief, rubric FROM challenges WHERE id = $1`, challengeID,
	).Scan(&ch.ID, &ch.CompetitionID, &ch.Brief, &rubric)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Challenge{}, fmt.Errorf("challenge %s: %w", challengeID, repository.ErrNotFound)
	}
	if err != nil {
		return model.Challenge{}, wrap("get challenge", err)
	}
	if len(rubric) > 0 {
		if err := json.Unmarshal(rubric, &ch.Rubric); err != nil {
			return model.Challenge{}, fmt.Errorf("decode rubric of %s: %w", challengeID, err)
		}
	}
	return ch, nil
}

// ListUnscoredSubmissions implements repository.CompetitionStore.
func (s *Store) ListUnscoredSubmissions(ctx context.Context, competitionID string) (out []model.Submission, err error) {
	start := time.Now()
	defer func() { observe("list_unscored", start, err) }()

	rows, err := s.pool.Query(ctx,
		`SELECT id, competition_id, challenge_id, participant_id, body
		 FROM submissions
		 WHERE competition_id = $1 AND score IS NULL
		 ORDER BY created_at, id`, competitionID)
	if err != nil {
		return nil, wrap("list unscored submissions", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sub model.Submission
		if err := rows.Scan(&sub.ID, &sub.CompetitionID, &sub.ChallengeID, &sub.ParticipantID, &sub.Text); err != nil {
			return nil, wrap("scan submission", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list unscored submissions", err)
	}
	return out, nil
}

// SaveSubmissionScore implements repository.CompetitionStore.
func (s *Store) SaveSubmissionScore(ctx context.Context, submissionID string, score model.SubmissionScore, at time.Time) (err error) {
	start := time.Now()
	defer func() { observe("save_score", start, err) }()

	payload, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("encode score: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE submissions SET score = $1, aggregate_score = $2, evaluated_at = $3 WHERE id = $4`,
		payload, score.AggregateScore, at, submissionID)
	if err != nil {
		return wrap("save submission score", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("submission %s: %w", submissionID, repository.ErrNotFound)
	}
	return nil
}

// AutomatedLeaderboard implements repository.CompetitionStore.
func (s *Store) AutomatedLeaderboard(ctx context.Context, competitionID string) (out []model.LeaderboardEntry, err error) {
	start := time.Now()
	defer func() { observe("automated_leaderboard", start, err) }()

	rows, err := s.pool.Query(ctx,
		`SELECT s.participant_id,
		        COALESCE(p.full_name, ''),
		        COALESCE(p.email, ''),
		        COALESCE(SUM(s.aggregate_score), 0) AS automated
		 FROM submissions s
		 LEFT JOIN participants p ON p.id = s.participant_id
		 WHERE s.competition_id = $1
		 GROUP BY s.participant_id, p.full_name, p.email
		 ORDER BY automated DESC, s.participant_id`, competitionID)
	if err != nil {
		return nil, wrap("automated leaderboard", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.ParticipantID, &e.FullName, &e.Email, &e.AutomatedScore); err != nil {
			return nil, wrap("scan leaderboard row", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("automated leaderboard", err)
	}
	return out, nil
}

// ListHumanEvaluations implements repository.CompetitionStore.
func (s *Store) ListHumanEvaluations(ctx context.Context, competitionID string) (out []model.HumanEvaluation, err error) {
	start := time.Now()
	defer func() { observe("list_human_evaluations", start, err) }()

	rows, err := s.pool.Query(ctx,
		`SELECT submission_id, participant_id, judge_id, score
		 FROM human_evaluations WHERE competition_id = $1
		 ORDER BY participant_id, submission_id, judge_id`, competitionID)
	if err != nil {
		return nil, wrap("list human evaluations", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ev model.HumanEvaluation
		if err := rows.Scan(&ev.SubmissionID, &ev.ParticipantID, &ev.JudgeID, &ev.Score); err != nil {
			return nil, wrap("scan human evaluation", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list human evaluations", err)
	}
	return out, nil
}

// ReplaceFinalLeaderboard implements repository.CompetitionStore in one transaction.
func (s *Store) ReplaceFinalLeaderboard(ctx context.Context, competitionID string, entries []model.FinalEntry, marker model.LeaderboardMarker) (err error) {
	start := time.Now()
	defer func() { observe("replace_final_leaderboard", start, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrap("begin", err)
	}
	defer func() {
		if rErr := tx.Rollback(ctx); rErr != nil && !errors.Is(rErr, pgx.ErrTxClosed) && err == nil {
			err = wrap("rollback", rErr)
		}
	}()

	tag, err := tx.Exec(ctx,
		`UPDATE competitions
		 SET has_final_leaderboard = $2, final_leaderboard_generated_at = $3, final_leaderboard_track = $4
		 WHERE id = $1`,
		competitionID, marker.HasFinalLeaderboard, marker.GeneratedAt, string(marker.Track))
	if err != nil {
		return wrap("mark competition", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("competition %s: %w", competitionID, repository.ErrNotFound)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM final_leaderboard_entries WHERE competition_id = $1`, competitionID); err != nil {
		return wrap("clear final leaderboard", err)
	}

	batch := &pgx.Batch{}
	for i, e := range entries {
		batch.Queue(
			`INSERT INTO final_leaderboard_entries
			 (competition_id, participant_id, full_name, email, automated_score, human_score, final_score, rank, position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			competitionID, e.ParticipantID, e.FullName, e.Email, e.AutomatedScore, e.HumanScore, e.FinalScore, e.Rank, i)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return wrap("insert final leaderboard", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return wrap("commit", err)
	}
	return nil
}

// FinalLeaderboard implements repository.CompetitionStore.
func (s *Store) FinalLeaderboard(ctx context.Context, competitionID string) (out []model.FinalEntry, err error) {
	start := time.Now()
	defer func() { observe("final_leaderboard", start, err) }()

	rows, err := s.pool.Query(ctx,
		`SELECT participant_id, full_name, email, automated_score, human_score, final_score, rank
		 FROM final_leaderboard_entries WHERE competition_id = $1
		 ORDER BY position`, competitionID)
	if err != nil {
		return nil, wrap("final leaderboard", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e model.FinalEntry
		if err := rows.Scan(&e.ParticipantID, &e.FullName, &e.Email, &e.AutomatedScore, &e.HumanScore, &e.FinalScore, &e.Rank); err != nil {
			return nil, wrap("scan final entry", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("final leaderboard", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("final leaderboard %s: %w", competitionID, repository.ErrNotFound)
	}
	return out, nil
}
