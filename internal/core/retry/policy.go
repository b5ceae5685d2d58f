// Package retry provides the backoff policy applied to every external provider call.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/markdave123-py/docsift/internal/core/failure"
)

// Policy describes how a call is retried. The zero value is not useful; start from Default.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	Retryable      func(error) bool
	Logger         *slog.Logger

	// OnRetry, when set, is called before each backoff sleep.
	OnRetry func(op string, attempt int, err error)
}

// Default returns 3 attempts with exponential backoff from 1s capped at 10s,
// retrying only transient provider errors.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Retryable:   failure.IsTransient,
	}
}

// Backoff is the delay before attempt n+1 (n starts at 1).
func (p Policy) Backoff(n int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, returns a non-retryable error, or attempts run out.
// The last error is returned unchanged.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do is the value-returning form of Policy.Do.
func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = failure.IsTransient
	}
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		v, err := callOnce(ctx, p.AttemptTimeout, fn)
		if err == nil {
			if attempt > 1 {
				log.Debug("call succeeded after retry", "op", op, "attempt", attempt)
			}
			return v, nil
		}
		lastErr = err

		if !retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		delay := p.Backoff(attempt)
		log.Warn("transient failure, backing off", "op", op, "attempt", attempt, "delay", delay, "err", err)
		if p.OnRetry != nil {
			p.OnRetry(op, attempt, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}

	log.Warn("retries exhausted", "op", op, "attempts", attempts, "err", lastErr)
	return zero, lastErr
}

func callOnce[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
