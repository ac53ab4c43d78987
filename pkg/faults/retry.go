package faults

import (
	"context"
	"fmt"
	"time"
)

// Retry re-invokes op until it succeeds or maxAttempts is exhausted,
// waiting baseDelay×attempt between attempts (linear backoff). The last
// failure is returned once the budget is spent.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, op func() error) error {
	if maxAttempts < 1 {
		return fmt.Errorf("retry: maxAttempts must be at least 1, got %d", maxAttempts)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(baseDelay * time.Duration(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	return lastErr
}
