package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment names read by Load.
const (
	EnvPrefix  = "EVALBENCH_"
	EnvConfig  = "EVALBENCH_CONFIG"
	EnvDotFile = "EVALBENCH_ENV_FILE"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. a .env file (or EVALBENCH_ENV_FILE) merged into the process env
//  3. file (YAML) if EVALBENCH_CONFIG is set
//  4. env (prefix EVALBENCH_)
func Load(ctx context.Context) (*Config, error) {
	base := New(ctx)

	dotenv := os.Getenv(EnvDotFile)
	if dotenv == "" {
		dotenv = ".env"
	}
	// godotenv.Load never overrides variables that are already set.
	if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, dotenv, err)
	}

	k := koanf.New(".")

	if path := os.Getenv(EnvConfig); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// EVALBENCH_LEASE_STALE_AFTER -> lease_stale_after (flat keys).
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, strings.ToLower(EnvPrefix))
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if k.Exists("backends") {
		// a configured panel replaces the default one instead of merging into it
		cfg.Backends = nil
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	cfg.resolveSecrets()

	if err := cfg.Validate(ctx); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints and wraps failures in ErrInvalidConfig.
func (c *Config) Validate(_ context.Context) error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if _, dup := seen[b.Name]; dup {
			return fmt.Errorf("%w: duplicate backend name %q", ErrInvalidConfig, b.Name)
		}
		seen[b.Name] = struct{}{}
	}
	return nil
}

func (c *Config) resolveSecrets() {
	for i := range c.Backends {
		if name := c.Backends[i].APIKeyEnv; name != "" {
			if v := os.Getenv(name); v != "" {
				c.Backends[i].APIKey = v
			}
		}
		if c.Backends[i].Timeout <= 0 {
			c.Backends[i].Timeout = c.BackendTimeout
		}
	}
}
