package resilience

import (
	"context"
	"time"
)

// Backoff is an exponential schedule: attempt n waits InitialDelay << n.
type Backoff struct {
	InitialDelay time.Duration
	MaxAttempts  int
}

func (b Backoff) Delay(attempt int) time.Duration {
	return b.InitialDelay << attempt
}

// Retry runs op until it succeeds, returns an error retryable rejects, or
// MaxAttempts is used up. The last error is returned as-is.
func Retry(ctx context.Context, b Backoff, retryable func(error) bool, op func(ctx context.Context) error) error {
	attempts := max(b.MaxAttempts, 1)

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if !retryable(err) || attempt == attempts-1 {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Delay(attempt)):
		}
	}
	return err
}
