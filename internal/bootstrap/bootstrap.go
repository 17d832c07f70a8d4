// Package bootstrap assembles the service from configuration. The server
// binary and the operator CLI's local mode share it.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/okian/evalbench/internal/adapters/backends"
	"github.com/okian/evalbench/internal/adapters/http/api"
	"github.com/okian/evalbench/internal/adapters/repository"
	"github.com/okian/evalbench/internal/adapters/repository/memstore"
	"github.com/okian/evalbench/internal/adapters/repository/pgstore"
	"github.com/okian/evalbench/internal/adapters/repository/redisstore"
	service "github.com/okian/evalbench/internal/app"
	"github.com/okian/evalbench/internal/config"
	"github.com/okian/evalbench/internal/domain/lease"
	"github.com/okian/evalbench/internal/domain/progress"
	"github.com/okian/evalbench/internal/domain/scoring"
	"github.com/okian/evalbench/pkg/logger"
)

// DemoCompetitionID is the competition loaded when seeding is enabled.
const DemoCompetitionID = "demo"

// Runtime holds the assembled components.
type Runtime struct {
	Store   repository.Store
	Service *service.Service
	Auth    *api.Authenticator
	Panel   []string

	closers []func()
}

// Close stops the service and releases store connections, newest first.
func (r *Runtime) Close() {
	if r.Service != nil {
		r.Service.Stop()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// New builds the store, the scoring panel and the service described by cfg.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*Runtime, error) {
	rt := &Runtime{}
	store, closers, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	rt.Store = store
	rt.closers = closers

	panel, err := backends.Build(ctx, BackendConfigs(cfg))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("build scoring panel: %w", err)
	}
	aggregator := scoring.NewAggregator(panel,
		scoring.WithMaxAttempts(cfg.BackendMaxAttempts),
		scoring.WithRetryBackoff(cfg.BackendRetryBackoff),
		scoring.WithLogger(log.Named("scoring")),
	)
	rt.Panel = aggregator.Backends()

	rt.Service = service.New(store, aggregator,
		service.WithLogger(log.Named("service")),
		service.WithLock(lease.New(store,
			lease.WithStaleAfter(cfg.LeaseStaleAfter),
			lease.WithConflictRetries(cfg.LeaseConflictRetries),
			lease.WithLogger(log.Named("lease")),
		)),
		service.WithTracker(progress.NewTracker(store, progress.WithTrackerLogger(log.Named("progress")))),
	)
	rt.Auth = api.NewAuthenticator(cfg.JWTSecret, cfg.PrivilegedRoles)

	log.Info(ctx, "runtime assembled",
		logger.String("store_driver", cfg.StoreDriver),
		logger.Any("panel", rt.Panel),
		logger.Duration("lease_stale_after", cfg.LeaseStaleAfter))
	return rt, nil
}

// OpenStore connects the configured store driver. The returned closers
// release its connections.
func OpenStore(ctx context.Context, cfg *config.Config, log logger.Logger) (repository.Store, []func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn(ctx, "using in-memory store; state is lost on restart")
		store := memstore.New()
		if cfg.SeedDemo {
			store.SeedDemo(DemoCompetitionID)
			log.Info(ctx, "demo competition seeded", logger.String("competition_id", DemoCompetitionID))
		}
		return store, nil, nil

	case config.StoreDriverRedisPostgres:
		pool := redisstore.NewPool(redisstore.PoolConfig{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			MaxIdle:     cfg.RedisMaxIdle,
			MaxActive:   cfg.RedisMaxActive,
			IdleTimeout: cfg.RedisIdleTimeout,
		})
		closers := []func(){func() { _ = pool.Close() }}
		rs := redisstore.New(pool,
			redisstore.WithKeyPrefix(cfg.RedisKeyPrefix),
			redisstore.WithLogger(log.Named("redisstore")))
		if err := rs.Ping(ctx); err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}

		pg, err := pgstore.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		closers = append(closers, pg.Close)
		if cfg.PostgresMigrate {
			if err := pg.Migrate(ctx); err != nil {
				closeAll(closers)
				return nil, nil, fmt.Errorf("postgres migrate: %w", err)
			}
			log.Info(ctx, "postgres schema applied")
		}
		return repository.Composite{LeaseStore: rs, ProgressStore: rs, CompetitionStore: pg}, closers, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown store driver %q", config.ErrInvalidConfig, cfg.StoreDriver)
	}
}

// BackendConfigs converts the configured panel into adapter configs.
func BackendConfigs(cfg *config.Config) []backends.Config {
	out := make([]backends.Config, len(cfg.Backends))
	for i, b := range cfg.Backends {
		timeout := b.Timeout
		if timeout <= 0 {
			timeout = cfg.BackendTimeout
		}
		out[i] = backends.Config{
			Name:        b.Name,
			Kind:        b.Kind,
			Model:       b.Model,
			BaseURL:     b.BaseURL,
			APIKey:      b.APIKey,
			MaxTokens:   b.MaxTokens,
			Temperature: b.Temperature,
			Timeout:     timeout,
			RPS:         b.RPS,
			Burst:       b.Burst,
			MinLatency:  b.MinLatency,
			MaxLatency:  b.MaxLatency,
		}
	}
	return out
}

func closeAll(closers []func()) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
