package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/catalog-scraper/pkg/utils"
)

// RetryPolicy bounds how a caller retries transient fetch errors
type RetryPolicy struct {
	MaxAttempts int           // Total attempts including the first; <= 0 means 1
	Cooldown    time.Duration // Fixed sleep between attempts

	// OnRetry is called before each cooldown. Optional.
	OnRetry func(attempt int, err error)
}

// Retry runs op until it succeeds, fails permanently, or the attempt ceiling is hit.
// Only errors for which IsTransient is true are retried. Exhaustion returns
// utils.ErrRetryFailed joined with the last error.
func Retry[T any](ctx context.Context, policy RetryPolicy, log *logrus.Entry, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) || ctx.Err() != nil {
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}

		log.WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": maxAttempts,
			"cooldown":     policy.Cooldown,
			"error_type":   utils.CategorizeError(err),
		}).Warnf("Transient error, cooling down before retry: %v", err)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err)
		}

		if err := Sleep(ctx, policy.Cooldown); err != nil {
			return zero, fmt.Errorf("cancelled during cooldown after error (%v): %w", lastErr, err)
		}
	}

	log.Errorf("All %d attempts failed. Last error: %v", maxAttempts, lastErr)
	return zero, fmt.Errorf("%w: %d attempts: %w", utils.ErrRetryFailed, maxAttempts, lastErr)
}

// Sleep waits for d or until ctx is done, whichever comes first
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
