// Package backends adapts scoring providers to scoring.Backend.
package backends

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/evalbench/internal/domain/scoring"
)

// Backend kinds.
const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
	KindGemini    = "gemini"
	KindHTTP      = "http"
	KindSimulated = "simulated"
)

// Defaults applied when a Config leaves a field empty.
const (
	DefaultTimeout     = 60 * time.Second
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.0
)

var (
	// ErrUnknownKind reports an unsupported backend kind.
	ErrUnknownKind = errors.New("unknown backend kind")
	// ErrMissingAPIKey reports a provider configured without credentials.
	ErrMissingAPIKey = errors.New("missing API key")
	// ErrEmptyReply reports a provider answer with no text.
	ErrEmptyReply = errors.New("empty reply")
	// ErrDuplicateName reports two backends sharing a name.
	ErrDuplicateName = errors.New("duplicate backend name")
)

// Config describes one panel member.
type Config struct {
	Name        string
	Kind        string
	Model       string
	BaseURL     string
	APIKey      string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	// RPS and Burst pace calls when RPS > 0.
	RPS   float64
	Burst int
	// MinLatency and MaxLatency bound the simulated backend's delay.
	MinLatency time.Duration
	MaxLatency time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Name == "" {
		c.Name = c.Kind
	}
	return c
}

func (c Config) httpClient() *http.Client {
	return &http.Client{Timeout: c.Timeout}
}

// New builds a single backend without middleware.
func New(ctx context.Context, cfg Config) (scoring.Backend, error) {
	cfg = cfg.withDefaults()
	switch cfg.Kind {
	case KindOpenAI:
		return NewOpenAI(cfg)
	case KindAnthropic:
		return NewAnthropic(cfg)
	case KindGemini:
		return NewGemini(ctx, cfg)
	case KindHTTP:
		return NewHTTP(cfg)
	case KindSimulated:
		return NewSimulated(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

// Build constructs the panel in order, wrapping each backend with tracing
// and, when configured, rate limiting.
func Build(ctx context.Context, cfgs []Config) ([]scoring.Backend, error) {
	seen := make(map[string]struct{}, len(cfgs))
	out := make([]scoring.Backend, 0, len(cfgs))
	for _, cfg := range cfgs {
		cfg = cfg.withDefaults()
		if _, dup := seen[cfg.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, cfg.Name)
		}
		seen[cfg.Name] = struct{}{}

		b, err := New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", cfg.Name, err)
		}
		mws := []Middleware{TracingMiddleware(cfg.Kind, cfg.Model)}
		if cfg.RPS > 0 {
			burst := cfg.Burst
			if burst <= 0 {
				burst = 1
			}
			mws = append(mws, RateLimitMiddleware(rate.Limit(cfg.RPS), burst))
		}
		out = append(out, Chain(b, mws...))
	}
	return out, nil
}
