package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/evalbench/internal/config"
)

var configEnvVars = []string{
	"EVALBENCH_CONFIG",
	"EVALBENCH_ENV_FILE",
	"EVALBENCH_ADDR",
	"EVALBENCH_LOG_LEVEL",
	"EVALBENCH_STORE_DRIVER",
	"EVALBENCH_REDIS_ADDR",
	"EVALBENCH_POSTGRES_DSN",
	"EVALBENCH_LEASE_STALE_AFTER",
	"EVALBENCH_LEASE_CONFLICT_RETRIES",
	"EVALBENCH_BACKEND_MAX_ATTEMPTS",
	"EVALBENCH_JWT_SECRET",
	"EVALBENCH_PROGRESS_DEBOUNCE",
	"TEST_PANEL_KEY",
}

func clearConfigEnvVars() {
	for _, name := range configEnvVars {
		_ = os.Unsetenv(name)
	}
}

func writeTemp(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		_ = os.Setenv("EVALBENCH_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, "memory")
				convey.So(cfg.Backends[0].Timeout, convey.ShouldEqual, 60*time.Second)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("EVALBENCH_ADDR", ":8080")
			_ = os.Setenv("EVALBENCH_LEASE_STALE_AFTER", "45m")
			_ = os.Setenv("EVALBENCH_LEASE_CONFLICT_RETRIES", "5")
			_ = os.Setenv("EVALBENCH_PROGRESS_DEBOUNCE", "250ms")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.LeaseStaleAfter, convey.ShouldEqual, 45*time.Minute)
				convey.So(cfg.LeaseConflictRetries, convey.ShouldEqual, 5)
				convey.So(cfg.ProgressDebounce, convey.ShouldEqual, 250*time.Millisecond)
			})
		})

		convey.Convey("When loading config with a YAML panel", func() {
			path := writeTemp(t, "evalbench.yaml", `
addr: ":9090"
backend_timeout: 20s
backends:
  - name: gpt
    kind: openai
    model: gpt-4o-mini
    api_key_env: TEST_PANEL_KEY
    rps: 2
    burst: 4
  - name: judge
    kind: http
    base_url: http://scorer.internal/v1/score
    timeout: 5s
`)
			_ = os.Setenv("EVALBENCH_CONFIG", path)
			_ = os.Setenv("TEST_PANEL_KEY", "sk-test")

			cfg, err := config.Load(ctx)

			convey.Convey("Then the panel replaces the default one", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.Backends, convey.ShouldHaveLength, 2)
				convey.So(cfg.Backends[0].Name, convey.ShouldEqual, "gpt")
				convey.So(cfg.Backends[0].APIKey, convey.ShouldEqual, "sk-test")
				convey.So(cfg.Backends[0].Timeout, convey.ShouldEqual, 20*time.Second)
				convey.So(cfg.Backends[0].RPS, convey.ShouldEqual, 2)
				convey.So(cfg.Backends[0].MinLatency, convey.ShouldEqual, 0)
				convey.So(cfg.Backends[1].Timeout, convey.ShouldEqual, 5*time.Second)
			})
		})

		convey.Convey("When both file and environment variables are set", func() {
			path := writeTemp(t, "evalbench.yaml", "addr: \":9090\"\nlease_stale_after: 10m\n")
			_ = os.Setenv("EVALBENCH_CONFIG", path)
			_ = os.Setenv("EVALBENCH_ADDR", ":7070")

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.LeaseStaleAfter, convey.ShouldEqual, 10*time.Minute)
			})
		})

		convey.Convey("When a .env file is present", func() {
			path := writeTemp(t, "test.env", "EVALBENCH_JWT_SECRET=from-dotenv\n")
			_ = os.Setenv("EVALBENCH_ENV_FILE", path)

			cfg, err := config.Load(ctx)

			convey.Convey("Then its variables are applied", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.JWTSecret, convey.ShouldEqual, "from-dotenv")
			})
		})

		convey.Convey("When the config file does not exist", func() {
			_ = os.Setenv("EVALBENCH_CONFIG", "/non/existent/file.yaml")

			_, err := config.Load(ctx)

			convey.Convey("Then it should fail to load", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a value fails validation", func() {
			_ = os.Setenv("EVALBENCH_STORE_DRIVER", "mongo")

			_, err := config.Load(ctx)

			convey.Convey("Then it should be reported as invalid", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When redis+postgres is selected without a DSN", func() {
			_ = os.Setenv("EVALBENCH_STORE_DRIVER", "redis+postgres")

			_, err := config.Load(ctx)

			convey.Convey("Then the missing DSN is rejected", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the address is empty", func() {
			_ = os.Setenv("EVALBENCH_ADDR", "")

			_, err := config.Load(ctx)

			convey.Convey("Then it should be rejected", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func TestConfigValidate(t *testing.T) {
	convey.Convey("Given a config with duplicate backend names", t, func() {
		cfg := config.New(context.Background())
		cfg.Backends = []config.BackendConfig{
			{Name: "x", Kind: "simulated"},
			{Name: "x", Kind: "simulated"},
		}

		convey.So(errors.Is(cfg.Validate(context.Background()), config.ErrInvalidConfig), convey.ShouldBeTrue)
	})

	convey.Convey("Given a backend of an unknown kind", t, func() {
		cfg := config.New(context.Background())
		cfg.Backends = []config.BackendConfig{{Name: "x", Kind: "carrier-pigeon"}}

		convey.So(errors.Is(cfg.Validate(context.Background()), config.ErrInvalidConfig), convey.ShouldBeTrue)
	})
}
