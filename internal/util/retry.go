package util

import (
	"context"
	"time"
)

// Retry invokes fn until it succeeds or maxAttempts calls have failed,
// doubling the pause between calls starting from baseDelay. Cancellation
// during a pause returns ctx.Err(); otherwise the error from the final
// attempt comes back.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay << (attempt - 1)):
		}
	}
	return lastErr
}
