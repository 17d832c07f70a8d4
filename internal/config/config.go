// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) initializer to build a Config with defaults.
// - Functions accept context.Context as the first parameter.
// - External errors are wrapped with this package's sentinel errors.
package config

import (
	"context"
	"time"
)

// Store drivers.
const (
	StoreDriverMemory        = "memory"
	StoreDriverRedisPostgres = "redis+postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn warning error"`
	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr" validate:"required"`

	// StoreDriver picks where leases, progress and competitions live.
	StoreDriver string `koanf:"store_driver" validate:"oneof=memory redis+postgres"`

	RedisAddr        string        `koanf:"redis_addr" validate:"required_if=StoreDriver redis+postgres"`
	RedisPassword    string        `koanf:"redis_password"`
	RedisDB          int           `koanf:"redis_db" validate:"gte=0"`
	RedisKeyPrefix   string        `koanf:"redis_key_prefix"`
	RedisMaxIdle     int           `koanf:"redis_max_idle" validate:"gte=0"`
	RedisMaxActive   int           `koanf:"redis_max_active" validate:"gte=0"`
	RedisIdleTimeout time.Duration `koanf:"redis_idle_timeout"`

	// PostgresDSN holds competition records when StoreDriver is redis+postgres.
	PostgresDSN string `koanf:"postgres_dsn" validate:"required_if=StoreDriver redis+postgres"`
	// PostgresMigrate applies the embedded schema at startup.
	PostgresMigrate bool `koanf:"postgres_migrate"`
	// SeedDemo loads a sample competition into the in-memory store.
	SeedDemo bool `koanf:"seed_demo"`

	// LeaseStaleAfter is how long a lease may go untouched before another run takes it over.
	LeaseStaleAfter time.Duration `koanf:"lease_stale_after" validate:"gt=0"`
	// LeaseConflictRetries bounds re-runs of a lease transaction that lost a race.
	LeaseConflictRetries int `koanf:"lease_conflict_retries" validate:"gte=0"`

	BackendMaxAttempts  int           `koanf:"backend_max_attempts" validate:"gte=1"`
	BackendRetryBackoff time.Duration `koanf:"backend_retry_backoff" validate:"gte=0"`
	// BackendTimeout is the per-call HTTP timeout used when a backend sets none.
	BackendTimeout time.Duration `koanf:"backend_timeout" validate:"gt=0"`
	// Backends is the scoring panel. It is usually set from the YAML file.
	Backends []BackendConfig `koanf:"backends" validate:"min=1,dive"`

	// JWTSecret signs and verifies the HS256 tokens of the role gate.
	JWTSecret string `koanf:"jwt_secret" validate:"required"`
	// PrivilegedRoles may start runs and generate leaderboards.
	PrivilegedRoles []string `koanf:"privileged_roles" validate:"min=1"`

	ProgressPollInterval time.Duration `koanf:"progress_poll_interval" validate:"gt=0"`
	ProgressDebounce     time.Duration `koanf:"progress_debounce" validate:"gte=0"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// BackendConfig describes one scoring panel member.
type BackendConfig struct {
	Name    string `koanf:"name" validate:"required"`
	Kind    string `koanf:"kind" validate:"oneof=openai anthropic gemini http simulated"`
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url" validate:"omitempty,url"`
	APIKey  string `koanf:"api_key"`
	// APIKeyEnv names an environment variable holding the key. It wins over APIKey.
	APIKeyEnv   string        `koanf:"api_key_env"`
	MaxTokens   int           `koanf:"max_tokens" validate:"gte=0"`
	Temperature float64       `koanf:"temperature" validate:"gte=0,lte=2"`
	Timeout     time.Duration `koanf:"timeout"`
	RPS         float64       `koanf:"rps" validate:"gte=0"`
	Burst       int           `koanf:"burst" validate:"gte=0"`
	MinLatency  time.Duration `koanf:"min_latency"`
	MaxLatency  time.Duration `koanf:"max_latency"`
}

// New creates a Config with defaults. It runs with the in-memory store and a
// simulated two-member panel so the service starts without external systems.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 ":9080",
		StoreDriver:          StoreDriverMemory,
		RedisAddr:            "localhost:6379",
		RedisKeyPrefix:       "evalbench:",
		RedisMaxIdle:         8,
		RedisMaxActive:       32,
		RedisIdleTimeout:     5 * time.Minute,
		LeaseStaleAfter:      30 * time.Minute,
		LeaseConflictRetries: 3,
		BackendMaxAttempts:   2,
		BackendRetryBackoff:  500 * time.Millisecond,
		BackendTimeout:       60 * time.Second,
		Backends: []BackendConfig{
			{Name: "sim-a", Kind: "simulated", MinLatency: 50 * time.Millisecond, MaxLatency: 150 * time.Millisecond},
			{Name: "sim-b", Kind: "simulated", MinLatency: 50 * time.Millisecond, MaxLatency: 150 * time.Millisecond},
		},
		JWTSecret:            "dev-secret-change-me",
		PrivilegedRoles:      []string{"admin", "organizer"},
		ProgressPollInterval: 5 * time.Second,
		ProgressDebounce:     500 * time.Millisecond,
		ShutdownTimeout:      15 * time.Second,
	}
}
