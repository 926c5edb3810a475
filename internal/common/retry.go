package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/smeta/internal/service"
)

// ErrMaxRetries is returned once every attempt of WithRetry has failed with a
// retryable error.
var ErrMaxRetries = errors.New("max retries exceeded")

// RetryableError marks an error as worth retrying (or explicitly not).
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string { return e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// backoff yields the wait before each retry: Initial, then growing by
// Multiplier up to Max.
type backoff struct {
	next       time.Duration
	max        time.Duration
	multiplier float64
}

func newBackoff(opts service.RetryOptions) *backoff {
	b := &backoff{next: opts.InitialDelay, max: opts.MaxDelay, multiplier: opts.Multiplier}
	if b.next <= 0 {
		b.next = 100 * time.Millisecond
	}
	if b.max <= 0 {
		b.max = 30 * time.Second
	}
	if b.multiplier < 1 {
		b.multiplier = 2
	}
	return b
}

func (b *backoff) wait() time.Duration {
	d := b.next
	b.next = min(time.Duration(float64(b.next)*b.multiplier), b.max)
	return min(d, b.max)
}

// WithRetry runs operation until it succeeds, fails with an error IsRetryable
// rejects, or runs out of attempts. A batch write that hits a locked database
// is the typical caller.
func WithRetry(ctx context.Context, operation func() error, opts service.RetryOptions) error {
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	b := newBackoff(opts)

	var err error
	for attempt := 1; ; attempt++ {
		if err = operation(); err == nil || !IsRetryable(err) {
			return err
		}
		if attempt >= attempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, attempts, err)
		}

		delay := b.wait()
		slog.Warn("Retrying after transient failure",
			"attempt", attempt,
			"of", attempts,
			"delay", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
