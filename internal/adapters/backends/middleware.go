package backends

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/okian/evalbench/internal/domain/scoring"
)

// Middleware wraps a backend with additional behavior.
type Middleware func(scoring.Backend) scoring.Backend

// Chain applies middlewares so the first one is outermost.
func Chain(b scoring.Backend, mws ...Middleware) scoring.Backend {
	for i := len(mws) - 1; i >= 0; i-- {
		b = mws[i](b)
	}
	return b
}

type rateLimited struct {
	next    scoring.Backend
	limiter *rate.Limiter
}

// RateLimitMiddleware paces calls with a token bucket. Each attempt takes a token.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)
	return func(next scoring.Backend) scoring.Backend {
		return &rateLimited{next: next, limiter: limiter}
	}
}

func (r *rateLimited) Name() string { return r.next.Name() }

func (r *rateLimited) Complete(ctx context.Context, req scoring.Request) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}
	return r.next.Complete(ctx, req)
}

type traced struct {
	next   scoring.Backend
	kind   string
	model  string
	tracer trace.Tracer
}

// TracingMiddleware records a span per provider call.
func TracingMiddleware(kind, model string) Middleware {
	tracer := otel.Tracer("github.com/okian/evalbench/internal/adapters/backends")
	return func(next scoring.Backend) scoring.Backend {
		return &traced{next: next, kind: kind, model: model, tracer: tracer}
	}
}

func (t *traced) Name() string { return t.next.Name() }

func (t *traced) Complete(ctx context.Context, req scoring.Request) (string, error) {
	ctx, span := t.tracer.Start(ctx, "backend.complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("backend.name", t.next.Name()),
			attribute.String("backend.kind", t.kind),
			attribute.String("backend.model", t.model),
			attribute.Int("backend.instruction.length", len(req.Instruction)),
			attribute.Int("backend.submission.length", len(req.Submission)),
		))
	defer span.End()

	out, err := t.next.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("backend.reply.length", len(out)))
	return out, nil
}
