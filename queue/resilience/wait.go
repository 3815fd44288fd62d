// Package resilience holds the connectivity gate and backoff helpers the
// consumer loop uses before it starts polling.
package resilience

import (
	"context"
	"fmt"
	"time"

	"streamq/errors"
)

// Pinger is anything that can report connectivity to the stream store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WaitForConnection pings p every interval until it answers, the timeout
// elapses or ctx is cancelled. Running out of time yields a fatal startup
// error wrapping the last ping failure.
func WaitForConnection(ctx context.Context, p Pinger, timeout, interval time.Duration) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var lastErr error
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, interval)
		lastErr = p.Ping(pingCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errors.NewFatalStartupError(
				fmt.Sprintf("stream store not reachable after %s (%d attempts)", timeout, attempt), lastErr)
		case <-time.After(interval):
		}
	}
}
