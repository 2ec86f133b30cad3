package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy configures Do. The zero value runs fn exactly once.
type Policy struct {
	MaxRetries  int
	InitialWait time.Duration
	// Retryable filters which errors are worth another attempt. Nil retries
	// every error.
	Retryable func(error) bool
}

// Do calls fn up to MaxRetries+1 times with exponential backoff starting at
// InitialWait. fn receives the 0-indexed attempt number. Errors rejected by
// Retryable are returned as is; exhausting the attempts wraps the last error.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}

		if attempt == p.MaxRetries {
			break
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		backoff := time.Duration(1<<attempt) * p.InitialWait
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	if p.MaxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("failed after %d retries: %w", p.MaxRetries, lastErr)
}
