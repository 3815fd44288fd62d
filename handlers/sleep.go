package handlers

import (
	"context"
	"strconv"
	"time"

	"streamq/errors"
	"streamq/logger"
	"streamq/queue"
)

// Sleeper abstracts waiting so tests don't incur real wait time.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ queue.Handler = (*SleepHandler)(nil)

// SleepHandler simulates slow work by pausing for the entry's "seconds"
// field. It gives up early when the consumer is stopping, leaving the entry
// pending for another attempt.
type SleepHandler struct {
	sleeper Sleeper
	logger  *logger.Logger
}

func NewSleepHandler(lg *logger.Logger) *SleepHandler {
	return &SleepHandler{sleeper: realSleeper{}, logger: lg}
}

func (h *SleepHandler) Handle(ctx context.Context, env queue.Envelope) (bool, error) {
	raw, ok := env.Fields["seconds"]
	if !ok {
		return false, errors.NewValidationError("missing 'seconds' field", map[string]any{
			"entry_id": env.EntryID,
		})
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return false, errors.NewValidationError("invalid sleep duration: must be a positive integer", map[string]any{
			"entry_id": env.EntryID,
			"seconds":  raw,
		})
	}

	h.logger.Message(env.StreamKey, env.EntryID, "executing sleep", map[string]any{
		"seconds": seconds,
	})
	if err := h.sleeper.Sleep(ctx, time.Duration(seconds)*time.Second); err != nil {
		return false, err
	}
	return true, nil
}
