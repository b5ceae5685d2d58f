package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/docsift/internal/core/failure"
	"github.com/markdave123-py/docsift/internal/telemetry"
)

// GuardConfig bounds every call made to one provider.
type GuardConfig struct {
	// Timeout applies to each individual call.
	Timeout time.Duration
	// RequestsPerMinute caps the client-side call rate. Zero disables limiting.
	RequestsPerMinute int
	// BreakerFailures consecutive transient failures open the breaker.
	BreakerFailures uint32
	// BreakerCooldown is how long an open breaker rejects calls.
	BreakerCooldown time.Duration
	Metrics         *telemetry.Metrics
	Logger          *slog.Logger
}

// callGuard wraps provider calls with a rate limiter, a circuit breaker, a
// per-call timeout, a span and error classification.
type callGuard struct {
	provider string
	timeout  time.Duration
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

func newCallGuard(provider string, cfg GuardConfig) *callGuard {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "llm", "provider", provider)

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	g := &callGuard{
		provider: provider,
		timeout:  cfg.Timeout,
		metrics:  cfg.Metrics,
		logger:   logger,
	}
	if cfg.RequestsPerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), max(1, cfg.RequestsPerMinute/10))
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Only transient failures say anything about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || !failure.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
			g.metrics.RecordCircuitBreakerState(name, to.String())
		},
	})
	return g
}

// guardedCall runs fn under g. Errors come back as *failure.ProviderError.
func guardedCall[T any](ctx context.Context, g *callGuard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	ctx, span := otel.Tracer("docsift/llm").Start(ctx, g.provider+"."+op)
	defer span.End()
	span.SetAttributes(attribute.String("llm.provider", g.provider), attribute.String("llm.op", op))

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return zero, g.fail(ctx, span, op, &failure.ProviderError{
				Provider: g.provider, Op: op, Class: failure.ClassTransient, Err: err,
			})
		}
	}

	res, err := g.breaker.Execute(func() (any, error) {
		callCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		v, err := fn(callCtx)
		if err != nil {
			return nil, failure.FromProvider(g.provider, op, err)
		}
		return v, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &failure.ProviderError{Provider: g.provider, Op: op, Class: failure.ClassTransient, Err: err}
		}
		return zero, g.fail(ctx, span, op, failure.FromProvider(g.provider, op, err))
	}

	g.metrics.RecordProviderCall(ctx, g.provider, op, "ok")
	return res.(T), nil
}

func (g *callGuard) fail(ctx context.Context, span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	g.metrics.RecordProviderCall(ctx, g.provider, op, failure.Classify(err).String())
	return err
}
