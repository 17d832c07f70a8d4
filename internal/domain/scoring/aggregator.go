// Package scoring fans a submission out to a panel of scoring backends and
// folds their validated verdicts into one aggregate score.
package scoring

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/okian/evalbench/internal/domain/model"
	"github.com/okian/evalbench/pkg/logger"
	"github.com/okian/evalbench/pkg/metrics"
)

const tracerName = "github.com/okian/evalbench/internal/domain/scoring"

// Aggregator scores submissions with a fixed panel of backends.
type Aggregator struct {
	backends     []Backend
	maxAttempts  int
	retryBackoff time.Duration
	log          logger.Logger
	tracer       trace.Tracer
}

// NewAggregator returns an Aggregator over backends.
func NewAggregator(backends []Backend, opts ...Option) *Aggregator {
	a := &Aggregator{
		backends:     backends,
		maxAttempts:  DefaultMaxAttempts,
		retryBackoff: DefaultRetryBackoff,
		tracer:       otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logger.Get().Named("scoring")
	}
	return a
}

// Backends returns the panel's backend names in order.
func (a *Aggregator) Backends() []string {
	names := make([]string, len(a.backends))
	for i, b := range a.backends {
		names[i] = b.Name()
	}
	return names
}

// Evaluate scores one submission. It never fails: backends that cannot
// produce a valid verdict are recorded as absent, and AggregateScore is nil
// when every backend is absent or the rubric is unusable.
func (a *Aggregator) Evaluate(ctx context.Context, submission string, rubric []model.RubricCriterion, brief string) model.SubmissionScore {
	ctx, span := a.tracer.Start(ctx, "scoring.evaluate",
		trace.WithAttributes(
			attribute.Int("scoring.backends", len(a.backends)),
			attribute.Int("scoring.criteria", len(rubric)),
		))
	defer span.End()

	out := model.SubmissionScore{PerBackendScores: make(map[string]*model.ModelScore, len(a.backends))}
	for _, b := range a.backends {
		out.PerBackendScores[b.Name()] = nil
	}

	panel, err := NewPanel(rubric, brief)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		a.log.Warn(ctx, "cannot score against rubric", logger.Error(err))
		return out
	}

	req := Request{Instruction: panel.Instruction, Submission: submission, Rubric: panel.Rubric}
	results := make([]*model.ModelScore, len(a.backends))
	var g errgroup.Group
	for i, b := range a.backends {
		g.Go(func() error {
			results[i] = a.scoreWith(ctx, b, panel, req)
			return nil
		})
	}
	_ = g.Wait()

	var sum float64
	valid := 0
	for i, b := range a.backends {
		out.PerBackendScores[b.Name()] = results[i]
		if results[i] != nil {
			sum += results[i].FinalScore
			valid++
		}
	}
	if valid > 0 {
		mean := sum / float64(valid)
		out.AggregateScore = &mean
		span.SetAttributes(attribute.Float64("scoring.aggregate", mean))
	} else {
		span.SetStatus(codes.Error, ErrAllBackendsFailed.Error())
		a.log.Error(ctx, "no backend produced a valid score",
			logger.Error(ErrAllBackendsFailed),
			logger.Int("backends", len(a.backends)))
	}
	span.SetAttributes(attribute.Int("scoring.valid", valid))
	metrics.RecordPanelResult(valid, out.AggregateScore)
	return out
}

// scoreWith calls one backend with retries and returns nil once attempts are exhausted.
func (a *Aggregator) scoreWith(ctx context.Context, b Backend, panel *Panel, req Request) *model.ModelScore {
	ctx, span := a.tracer.Start(ctx, "scoring.backend",
		trace.WithAttributes(attribute.String("scoring.backend", b.Name())))
	defer span.End()

	var (
		verdict *model.ModelScore
		attempt int
	)
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(a.retryBackoff), uint64(a.maxAttempts-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		attempt++
		start := time.Now()
		reply, err := b.Complete(ctx, req)
		metrics.RecordBackendAttempt(b.Name(), float64(time.Since(start).Milliseconds()))
		if err != nil {
			metrics.RecordBackendFailure(b.Name(), "call")
			a.log.Debug(ctx, "backend call failed",
				logger.String("backend", b.Name()),
				logger.Int("attempt", attempt),
				logger.Error(err))
			return err
		}
		ms, err := panel.Parse(reply)
		if err != nil {
			metrics.RecordBackendFailure(b.Name(), "invalid_response")
			a.log.Debug(ctx, "backend reply rejected",
				logger.String("backend", b.Name()),
				logger.Int("attempt", attempt),
				logger.Error(err))
			return err
		}
		verdict = ms
		return nil
	}, policy)

	span.SetAttributes(attribute.Int("scoring.attempts", attempt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		reason := "call_failed"
		if errors.Is(err, ErrBackendInvalidResponse) {
			reason = "invalid_response"
		}
		a.log.Warn(ctx, "backend dropped from panel",
			logger.String("backend", b.Name()),
			logger.String("reason", reason),
			logger.Int("attempts", attempt),
			logger.Error(err))
		return nil
	}
	return verdict
}
