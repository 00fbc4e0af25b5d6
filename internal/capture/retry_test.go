package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetryAlwaysFailingUsesExactBudget(t *testing.T) {
	t.Parallel()

	calls := 0
	attempts, err := WithRetry(context.Background(), 3, nil, func(_ context.Context, _ int) error {
		calls++
		return NewError(KindNavigationFailed, "nope", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "an always-failing operation runs exactly maxAttempts times")
	assert.Equal(t, 3, attempts)
	assert.Equal(t, KindRetriesExhausted, KindOf(err))
	assert.Equal(t, KindNavigationFailed, KindOf(errors.Unwrap(err)))
}

func TestWithRetrySucceedsMidway(t *testing.T) {
	t.Parallel()

	calls := 0
	attempts, err := WithRetry(context.Background(), 5, nil, func(_ context.Context, _ int) error {
		calls++
		if calls < 3 {
			return NewError(KindRenderTimeout, "slow", nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls, "no attempts after the first success")
}

func TestWithRetryHookObservesEveryAttempt(t *testing.T) {
	t.Parallel()

	type observed struct {
		attempt int
		failed  bool
	}
	var seen []observed
	hook := func(attempt int, _ time.Duration, err error) {
		seen = append(seen, observed{attempt: attempt, failed: err != nil})
	}

	calls := 0
	_, err := WithRetry(context.Background(), 4, hook, func(_ context.Context, _ int) error {
		calls++
		if calls < 2 {
			return NewError(KindNavigationFailed, "nope", nil)
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, []observed{{1, true}, {2, false}}, seen)
}

func TestWithRetryStopsOnNonRetryableError(t *testing.T) {
	t.Parallel()

	calls := 0
	attempts, err := WithRetry(context.Background(), 5, nil, func(_ context.Context, _ int) error {
		calls++
		return NewError(KindInvalidInput, "bad id", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "invalid input never retries")
	assert.Equal(t, 1, attempts)
}

func TestWithRetryRecoversPanics(t *testing.T) {
	t.Parallel()

	calls := 0
	attempts, err := WithRetry(context.Background(), 2, nil, func(_ context.Context, _ int) error {
		calls++
		panic("renderer blew up")
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls, "a faulting attempt is a failed attempt, not a crash")
	assert.Equal(t, 2, attempts)
}

func TestWithRetryStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := WithRetry(ctx, 5, nil, func(_ context.Context, _ int) error {
		calls++
		cancel()
		return NewError(KindRenderTimeout, "slow", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "no further attempts once the caller gives up")
}

func TestWithRetryClampsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	attempts, err := WithRetry(context.Background(), 0, nil, func(_ context.Context, _ int) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}
