package capture

import (
	"context"
	"fmt"
	"time"
)

// AttemptHook observes every attempt, successful or not, for logging and
// telemetry. err is nil on success.
type AttemptHook func(attempt int, duration time.Duration, err error)

// WithRetry runs op up to maxAttempts times, numbering attempts from 1.
// It returns the number of attempts made and, after the final failure, a
// RetriesExhausted error wrapping the last underlying error. A panic
// inside op counts as a failed attempt. Retries within one call are
// strictly sequential; there is no backoff between attempts.
func WithRetry(
	ctx context.Context,
	maxAttempts int,
	hook AttemptHook,
	op func(ctx context.Context, attempt int) error,
) (int, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		start := time.Now()
		err := runAttempt(ctx, attempt, op)
		if hook != nil {
			hook(attempt, time.Since(start), err)
		}
		if err == nil {
			return attempts, nil
		}
		lastErr = err
		if ctx.Err() != nil || !Retryable(err) {
			break
		}
	}

	return attempts, NewError(
		KindRetriesExhausted,
		fmt.Sprintf("gave up after %d attempts", attempts),
		lastErr,
	)
}

// runAttempt invokes op, converting a panic into an ordinary error so one
// faulting attempt never takes down the dispatcher.
func runAttempt(ctx context.Context, attempt int, op func(ctx context.Context, attempt int) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("attempt %d panicked: %v", attempt, rec)
		}
	}()
	return op(ctx, attempt)
}
