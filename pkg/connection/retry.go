package connection

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAttemptsExhausted is wrapped by Retry when every attempt failed.
var ErrAttemptsExhausted = errors.New("connection attempts exhausted")

// RetryConfig configures Retry.
type RetryConfig struct {
	// Attempts bounds the number of calls. Zero or less retries until the
	// context ends.
	Attempts int

	// Backoff shapes the delays between attempts.
	Backoff BackoffConfig

	// Retryable reports whether a failure is worth another attempt.
	// Nil retries every failure.
	Retryable func(error) bool

	// OnRetry is called before each wait with the failed attempt number
	// (starting at 1), the delay and the failure.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Retry calls fn until it succeeds, a failure is not retryable, the
// attempts are used up or ctx ends. It returns nil on success and the last
// failure otherwise.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	b := NewBackoffWithConfig(cfg.Backoff)

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if cfg.Attempts > 0 && attempt >= cfg.Attempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempt, err)
		}

		delay := b.Next()
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), err)
		case <-timer.C:
		}
	}
}
