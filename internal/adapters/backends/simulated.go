package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/okian/evalbench/internal/domain/scoring"
)

const (
	defaultMinLatency = 80 * time.Millisecond
	defaultMaxLatency = 150 * time.Millisecond
	defaultRandomSeed = 42
	maxCriterionScore = 100
)

// Simulated scores submissions locally to model an external judge. Scores
// are a stable hash of backend name, criterion and submission, so reruns
// agree. Used for local runs without provider credentials.
type Simulated struct {
	name       string
	minLatency time.Duration
	maxLatency time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated builds a simulated backend.
func NewSimulated(cfg Config) *Simulated {
	s := &Simulated{
		name:       cfg.Name,
		minLatency: defaultMinLatency,
		maxLatency: defaultMaxLatency,
		rng:        rand.New(rand.NewSource(defaultRandomSeed)), //nolint:gosec // deterministic seed for reproducible runs
	}
	if cfg.MinLatency >= 0 && cfg.MaxLatency > cfg.MinLatency {
		s.minLatency = cfg.MinLatency
		s.maxLatency = cfg.MaxLatency
	}
	return s
}

// Name implements scoring.Backend.
func (s *Simulated) Name() string { return s.name }

// Complete waits a simulated latency and replies with a schema-conforming verdict.
func (s *Simulated) Complete(ctx context.Context, req scoring.Request) (string, error) {
	s.mu.Lock()
	latency := s.minLatency + time.Duration(s.rng.Int63n(int64(s.maxLatency-s.minLatency)))
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	case <-time.After(latency):
	}

	reply := make(map[string]any, len(req.Rubric)+1)
	for _, c := range req.Rubric {
		reply[c.Name] = s.score(c.Name, req.Submission)
	}
	reply[scoring.JustificationKey] = fmt.Sprintf("simulated verdict from %s", s.name)
	out, err := json.Marshal(reply)
	if err != nil {
		return "", fmt.Errorf("encode verdict: %w", err)
	}
	return string(out), nil
}

func (s *Simulated) score(criterion, submission string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s.name))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(criterion))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(submission))
	return int(h.Sum32() % (maxCriterionScore + 1))
}
