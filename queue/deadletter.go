package queue

import (
	"context"
	stderrors "errors"
	"maps"
	"strconv"
	"time"

	"streamq/logger"
	"streamq/queue/stream"
)

const deadLetterSuffix = ":dead"

// DeadLetterKey returns the companion stream that receives entries which
// exhausted their retries.
func DeadLetterKey(streamKey string) string {
	return streamKey + deadLetterSuffix
}

// DeadLetterRouter moves poisoned entries out of a stream.
type DeadLetterRouter struct {
	store  stream.Store
	logger *logger.Logger
	now    func() time.Time
}

func NewDeadLetterRouter(store stream.Store, logger *logger.Logger) *DeadLetterRouter {
	return &DeadLetterRouter{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// MoveToDeadLetter copies entry into the dead-letter stream, then
// acknowledges and deletes the original. It returns the id of the
// dead-letter record. When the copy fails nothing else happens and the id is
// empty, so the entry stays pending and is retried later. Acknowledge and
// delete failures are reported alongside a non-empty id.
func (r *DeadLetterRouter) MoveToDeadLetter(ctx context.Context, streamKey, group string, entry stream.Entry, attempts int64, cause error) (string, error) {
	deadKey := DeadLetterKey(streamKey)

	fields := maps.Clone(entry.Fields)
	if fields == nil {
		fields = make(map[string]string, 4)
	}
	fields["original_id"] = entry.ID
	fields["failed_at"] = r.now().UTC().Format(time.RFC3339)
	fields["attempts"] = strconv.FormatInt(attempts, 10)
	if cause != nil {
		fields["error"] = cause.Error()
	}

	deadID, err := r.store.Add(ctx, deadKey, fields)
	if err != nil {
		r.logger.Message(streamKey, entry.ID, "failed to append dead-letter record, entry left pending", map[string]any{
			"group":       group,
			"dead_stream": deadKey,
			"error":       err.Error(),
		})
		return "", err
	}

	var errs []error
	if _, err := r.store.Acknowledge(ctx, streamKey, group, entry.ID); err != nil {
		r.logger.Error("failed to acknowledge dead-lettered entry", map[string]any{
			"stream":   streamKey,
			"group":    group,
			"entry_id": entry.ID,
			"error":    err.Error(),
		})
		errs = append(errs, err)
	}
	if _, err := r.store.Delete(ctx, streamKey, entry.ID); err != nil {
		r.logger.Error("failed to delete dead-lettered entry", map[string]any{
			"stream":   streamKey,
			"entry_id": entry.ID,
			"error":    err.Error(),
		})
		errs = append(errs, err)
	}

	r.logger.Message(streamKey, entry.ID, "entry moved to dead-letter stream", map[string]any{
		"group":       group,
		"dead_stream": deadKey,
		"dead_id":     deadID,
		"attempts":    attempts,
	})

	return deadID, stderrors.Join(errs...)
}
