// Package redisstore keeps the global lease and run progress documents in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/okian/evalbench/internal/adapters/repository"
	"github.com/okian/evalbench/internal/domain/model"
	"github.com/okian/evalbench/pkg/logger"
	"github.com/okian/evalbench/pkg/metrics"
)

const storeName = "redis"

// Progress hash fields.
const (
	fieldCompetitionID = "competitionId"
	fieldRunID         = "runId"
	fieldTotal         = "totalSubmissions"
	fieldEvaluated     = "evaluatedSubmissions"
	fieldStartTime     = "startTime"
	fieldLastUpdate    = "lastUpdateTime"
	fieldStatus        = "evaluationStatus"
)

// Store implements repository.LeaseStore and repository.ProgressStore.
type Store struct {
	pool   *redis.Pool
	prefix string
	log    logger.Logger
}

var (
	_ repository.LeaseStore    = (*Store)(nil)
	_ repository.ProgressStore = (*Store)(nil)
)

// New returns a store over pool. Keys are namespaced with the configured prefix.
func New(pool *redis.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, prefix: "evalbench:"}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("redisstore")
	}
	return s
}

func (s *Store) leaseKey() string { return s.prefix + "lease:" + model.GlobalLeaseKey }

func (s *Store) progressKey(competitionID string) string {
	return s.prefix + "progress:" + competitionID
}

func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, repository.ErrStoreUnavailable, err)
}

func (s *Store) conn(ctx context.Context, op string) (redis.Conn, error) {
	c, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, unavailable(op, err)
	}
	return c, nil
}

// observe records latency. Only transport failures count as store errors.
func observe(op string, start time.Time, err error) {
	if !errors.Is(err, repository.ErrStoreUnavailable) {
		err = nil
	}
	metrics.RecordStoreOperation(storeName, op, float64(time.Since(start).Milliseconds()), err)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	c, err := s.conn(ctx, "ping")
	if err != nil {
		return err
	}
	defer c.Close()
	if _, err := c.Do("PING"); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// GetLease implements repository.LeaseStore.
func (s *Store) GetLease(ctx context.Context) (l *model.Lease, err error) {
	start := time.Now()
	defer func() { observe("get_lease", start, err) }()
	c, err := s.conn(ctx, "get lease")
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return readLease(c, s.leaseKey())
}

func readLease(c redis.Conn, key string) (*model.Lease, error) {
	raw, err := redis.Bytes(c.Do("GET", key))
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get lease", err)
	}
	var l model.Lease
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("decode lease: %w", err)
	}
	return &l, nil
}

// UpdateLease implements repository.LeaseStore with WATCH/MULTI/EXEC. The
// lease key and, when a pause is requested, the paused progress hash are
// watched so a concurrent writer aborts EXEC and yields ErrConflict.
func (s *Store) UpdateLease(ctx context.Context, fn repository.LeaseMutation) (committed *model.Lease, err error) {
	start := time.Now()
	defer func() { observe("update_lease", start, err) }()
	c, err := s.conn(ctx, "update lease")
	if err != nil {
		return nil, err
	}
	defer c.Close()

	key := s.leaseKey()
	if _, err := c.Do("WATCH", key); err != nil {
		return nil, unavailable("watch lease", err)
	}
	current, err := readLease(c, key)
	if err != nil {
		_, _ = c.Do("UNWATCH")
		return nil, err
	}
	upd, err := fn(current)
	if err != nil {
		_, _ = c.Do("UNWATCH")
		return nil, err
	}
	if upd.Lease == nil {
		_, _ = c.Do("UNWATCH")
		return current, nil
	}
	payload, err := json.Marshal(upd.Lease)
	if err != nil {
		_, _ = c.Do("UNWATCH")
		return nil, fmt.Errorf("encode lease: %w", err)
	}

	pause := false
	if upd.PauseProgressOf != "" {
		pk := s.progressKey(upd.PauseProgressOf)
		if _, err := c.Do("WATCH", pk); err != nil {
			return nil, unavailable("watch progress", err)
		}
		exists, err := redis.Bool(c.Do("EXISTS", pk))
		if err != nil {
			_, _ = c.Do("UNWATCH")
			return nil, unavailable("exists progress", err)
		}
		pause = exists
	}

	if err := c.Send("MULTI"); err != nil {
		return nil, unavailable("multi", err)
	}
	if err := c.Send("SET", key, payload); err != nil {
		return nil, unavailable("set lease", err)
	}
	if pause {
		err := c.Send("HSET", s.progressKey(upd.PauseProgressOf),
			fieldStatus, string(model.RunStatusPaused),
			fieldLastUpdate, formatTime(upd.Lease.LockedAt))
		if err != nil {
			return nil, unavailable("pause progress", err)
		}
	}
	if _, err := redis.Values(c.Do("EXEC")); err != nil {
		if errors.Is(err, redis.ErrNil) {
			s.log.Debug(ctx, "lease transaction aborted by concurrent writer")
			return nil, repository.ErrConflict
		}
		return nil, unavailable("exec", err)
	}
	out := *upd.Lease
	return &out, nil
}

// PutProgress implements repository.ProgressStore.
func (s *Store) PutProgress(ctx context.Context, p model.RunProgress) (err error) {
	start := time.Now()
	defer func() { observe("put_progress", start, err) }()
	c, err := s.conn(ctx, "put progress")
	if err != nil {
		return err
	}
	defer c.Close()
	key := s.progressKey(p.CompetitionID)
	_ = c.Send("MULTI")
	_ = c.Send("DEL", key)
	_ = c.Send("HSET", key,
		fieldCompetitionID, p.CompetitionID,
		fieldRunID, p.RunID,
		fieldTotal, p.TotalSubmissions,
		fieldEvaluated, p.EvaluatedSubmissions,
		fieldStartTime, formatTime(p.StartTime),
		fieldLastUpdate, formatTime(p.LastUpdateTime),
		fieldStatus, string(p.Status),
	)
	if _, err := c.Do("EXEC"); err != nil {
		return unavailable("put progress", err)
	}
	return nil
}

// IncrementProgress implements repository.ProgressStore.
func (s *Store) IncrementProgress(ctx context.Context, competitionID, runID string, n int, at time.Time) (err error) {
	start := time.Now()
	defer func() { observe("increment_progress", start, err) }()
	return s.writeOwnedProgress(ctx, "increment progress", competitionID, runID, func(c redis.Conn, key string) error {
		if err := c.Send("HINCRBY", key, fieldEvaluated, n); err != nil {
			return err
		}
		return c.Send("HSET", key, fieldLastUpdate, formatTime(at))
	})
}

// SetProgressStatus implements repository.ProgressStore.
func (s *Store) SetProgressStatus(ctx context.Context, competitionID, runID string, status model.RunStatus, at time.Time) (err error) {
	start := time.Now()
	defer func() { observe("set_progress_status", start, err) }()
	return s.writeOwnedProgress(ctx, "set progress status", competitionID, runID, func(c redis.Conn, key string) error {
		return c.Send("HSET", key, fieldStatus, string(status), fieldLastUpdate, formatTime(at))
	})
}

// writeOwnedProgress watches the progress hash, checks that runID owns it and
// that it is still running, then queues write inside MULTI/EXEC. A lease
// takeover pausing the hash between the check and EXEC aborts the transaction
// with ErrConflict.
func (s *Store) writeOwnedProgress(ctx context.Context, op, competitionID, runID string, write func(c redis.Conn, key string) error) error {
	c, err := s.conn(ctx, op)
	if err != nil {
		return err
	}
	defer c.Close()

	key := s.progressKey(competitionID)
	if _, err := c.Do("WATCH", key); err != nil {
		return unavailable("watch progress", err)
	}
	vals, err := redis.Values(c.Do("HMGET", key, fieldRunID, fieldStatus))
	if err != nil {
		_, _ = c.Do("UNWATCH")
		return unavailable(op, err)
	}
	var owner, status string
	if len(vals) == 2 {
		owner, _ = redis.String(vals[0], nil)
		status, _ = redis.String(vals[1], nil)
	}
	if owner != runID || model.RunStatus(status) != model.RunStatusRunning {
		_, _ = c.Do("UNWATCH")
		return fmt.Errorf("progress %s run %s: %w", competitionID, runID, repository.ErrStaleRun)
	}

	if err := c.Send("MULTI"); err != nil {
		return unavailable("multi", err)
	}
	if err := write(c, key); err != nil {
		return unavailable(op, err)
	}
	if _, err := redis.Values(c.Do("EXEC")); err != nil {
		if errors.Is(err, redis.ErrNil) {
			s.log.Debug(ctx, "progress transaction aborted by concurrent writer",
				logger.String("competition_id", competitionID))
			return repository.ErrConflict
		}
		return unavailable("exec", err)
	}
	return nil
}

// GetProgress implements repository.ProgressStore.
func (s *Store) GetProgress(ctx context.Context, competitionID string) (p *model.RunProgress, err error) {
	start := time.Now()
	defer func() { observe("get_progress", start, err) }()
	c, err := s.conn(ctx, "get progress")
	if err != nil {
		return nil, err
	}
	defer c.Close()
	fields, err := redis.StringMap(c.Do("HGETALL", s.progressKey(competitionID)))
	if err != nil {
		return nil, unavailable("get progress", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeProgress(competitionID, fields)
}

func decodeProgress(competitionID string, fields map[string]string) (*model.RunProgress, error) {
	p := &model.RunProgress{
		CompetitionID: competitionID,
		RunID:         fields[fieldRunID],
		Status:        model.RunStatus(fields[fieldStatus]),
	}
	var err error
	if v, ok := fields[fieldTotal]; ok {
		if p.TotalSubmissions, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", fieldTotal, err)
		}
	}
	if v, ok := fields[fieldEvaluated]; ok {
		if p.EvaluatedSubmissions, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", fieldEvaluated, err)
		}
	}
	if p.StartTime, err = parseTime(fields[fieldStartTime]); err != nil {
		return nil, fmt.Errorf("decode %s: %w", fieldStartTime, err)
	}
	if p.LastUpdateTime, err = parseTime(fields[fieldLastUpdate]); err != nil {
		return nil, fmt.Errorf("decode %s: %w", fieldLastUpdate, err)
	}
	return p, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}
