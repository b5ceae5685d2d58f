package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docsift/internal/core/failure"
)

func fastPolicy() Policy {
	p := Default()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 5 * time.Millisecond
	return p
}

var errFlaky = fmt.Errorf("rate limited: %w", failure.ErrTransient)

func TestDo_SucceedsFirstTry(t *testing.T) {
	attempts := 0
	err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	attempts := 0
	v, err := Do(context.Background(), fastPolicy(), "op", func(context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errFlaky
		}
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.Equal(t, 3, attempts)
}

func TestDo_AtMostMaxAttempts(t *testing.T) {
	attempts := 0
	retries := 0
	p := fastPolicy()
	p.OnRetry = func(string, int, error) { retries++ }

	err := p.Do(context.Background(), "op", func(context.Context) error {
		attempts++
		return errFlaky
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky, "the last error is returned unchanged")
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, retries)
}

func TestDo_FatalShortCircuits(t *testing.T) {
	attempts := 0
	fatal := fmt.Errorf("bad key: %w", failure.ErrFatal)
	err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
		attempts++
		return fatal
	})
	require.ErrorIs(t, err, failure.ErrFatal)
	assert.Equal(t, 1, attempts)
}

func TestDo_FormatErrorNotRetried(t *testing.T) {
	attempts := 0
	err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
		attempts++
		return fmt.Errorf("decode: %w", failure.ErrResponseFormat)
	})
	require.ErrorIs(t, err, failure.ErrResponseFormat)
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCanceledStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := fastPolicy()
	p.BaseDelay = time.Hour
	p.MaxDelay = time.Hour

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, "op", func(context.Context) error {
			attempts++
			return errFlaky
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	case <-time.After(time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
}

func TestDo_AttemptTimeoutApplied(t *testing.T) {
	p := fastPolicy()
	p.AttemptTimeout = 5 * time.Millisecond

	attempts := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		attempts++
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 3, attempts, "deadline exceeded is transient")
}

func TestDo_CustomPredicate(t *testing.T) {
	p := fastPolicy()
	p.Retryable = func(err error) bool { return errors.Is(err, errFlaky) }
	attempts := 0
	_ = p.Do(context.Background(), "op", func(context.Context) error {
		attempts++
		return errors.New("never retried")
	})
	assert.Equal(t, 1, attempts)
}

func TestBackoff(t *testing.T) {
	p := Default()
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 8*time.Second, p.Backoff(4))
	assert.Equal(t, 10*time.Second, p.Backoff(5))
	assert.Equal(t, 10*time.Second, p.Backoff(12))
}
