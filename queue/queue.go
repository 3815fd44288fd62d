// Package queue implements an at-least-once work queue over an append-only
// stream store with consumer groups.
//
// Producers append entries with Add. Consumers call Listen with a Handler;
// each Listen call runs one background loop that reads batches for its
// consumer, processes them with bounded parallelism, acknowledges successes,
// and moves entries that keep failing to the "<stream>:dead" companion
// stream.
package queue

import (
	"context"
	"strings"
	"time"

	"streamq/errors"
	"streamq/logger"
	"streamq/queue/stream"

	"golang.org/x/sync/semaphore"
)

const defaultStopTimeout = 10 * time.Second

// Info describes the backlog of a stream and, optionally, one of its groups.
type Info struct {
	Length             int64            `json:"length"`
	TotalPending       int64            `json:"total_pending"`
	PerConsumerPending map[string]int64 `json:"per_consumer_pending"`
}

type Queue struct {
	store       stream.Store
	logger      *logger.Logger
	stopTimeout time.Duration
}

type Option func(*Queue)

// WithStopTimeout sets how long StopListen waits for a loop to exit.
func WithStopTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.stopTimeout = d
		}
	}
}

func New(store stream.Store, logger *logger.Logger, opts ...Option) *Queue {
	q := &Queue{
		store:       store,
		logger:      logger,
		stopTimeout: defaultStopTimeout,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Add appends one entry and returns the id the store assigned to it.
func (q *Queue) Add(ctx context.Context, streamKey string, fields map[string]string) (string, error) {
	if streamKey == "" {
		return "", errors.NewValidationError("stream key is required")
	}
	if len(fields) == 0 {
		return "", errors.NewValidationError("at least one field is required", map[string]any{
			"stream": streamKey,
		})
	}

	id, err := q.store.Add(ctx, streamKey, fields)
	if err != nil {
		q.logger.Error("failed to add entry", map[string]any{
			"stream": streamKey,
			"error":  err.Error(),
		})
		return "", err
	}

	q.logger.Message(streamKey, id, "entry added", map[string]any{
		"field_count": len(fields),
	})
	return id, nil
}

// Listen starts a background consumer loop and returns immediately. A nil
// opts uses DefaultListenOptions. Startup failures do not surface here; they
// end the loop and are reported through the handle's Err.
func (q *Queue) Listen(ctx context.Context, streamKey, group, consumerName string, handler Handler, opts *ListenOptions) *ListenHandle {
	return q.listen(ctx, streamKey, group, consumerName, handler, opts, NewRetryLedger())
}

func (q *Queue) listen(ctx context.Context, streamKey, group, consumerName string, handler Handler, opts *ListenOptions, ledger *RetryLedger) *ListenHandle {
	o := DefaultListenOptions()
	if opts != nil {
		o = *opts
	}
	o = o.normalize()

	loopCtx, cancel := context.WithCancel(ctx)
	h := newListenHandle(streamKey, group, consumerName, cancel, ledger)

	c := &consumer{
		store:     q.store,
		logger:    q.logger,
		ledger:    ledger,
		router:    NewDeadLetterRouter(q.store, q.logger),
		handler:   handler,
		opts:      o,
		handle:    h,
		sem:       semaphore.NewWeighted(int64(o.Concurrency)),
		streamKey: streamKey,
		group:     group,
		name:      consumerName,
	}

	go func() {
		defer close(h.done)
		defer cancel()

		h.err = c.run(loopCtx)
		c.setState(StateStopped)
	}()

	return h
}

// StopListen cancels the loop behind h and waits for it to finish its
// current batch. It is safe to call more than once and with a nil handle.
func (q *Queue) StopListen(h *ListenHandle) error {
	if h == nil {
		return nil
	}

	err := h.Stop(q.stopTimeout)
	if err != nil {
		q.logger.Warn("consumer did not stop within timeout", map[string]any{
			"stream":   h.StreamKey,
			"group":    h.Group,
			"consumer": h.ConsumerName,
			"timeout":  q.stopTimeout.String(),
		})
	}
	return err
}

// Info reports the stream length and, when group is set, the group's
// pending entries.
func (q *Queue) Info(ctx context.Context, streamKey, group string) (*Info, error) {
	if streamKey == "" {
		return nil, errors.NewValidationError("stream key is required")
	}

	length, err := q.store.Length(ctx, streamKey)
	if err != nil {
		return nil, err
	}

	info := &Info{
		Length:             length,
		PerConsumerPending: map[string]int64{},
	}
	if group == "" {
		return info, nil
	}

	summary, err := q.store.PendingSummary(ctx, streamKey, group)
	if err != nil {
		if isNoGroup(err) {
			return nil, errors.NewNotFoundError("consumer group " + group + " not found on stream " + streamKey)
		}
		return nil, err
	}

	info.TotalPending = summary.Total
	for name, n := range summary.PerConsumer {
		info.PerConsumerPending[name] = n
	}
	return info, nil
}

// Trim caps the stream at roughly maxLen entries. The store may keep more.
func (q *Queue) Trim(ctx context.Context, streamKey string, maxLen int64) (int64, error) {
	if streamKey == "" {
		return 0, errors.NewValidationError("stream key is required")
	}
	if maxLen < 0 {
		return 0, errors.NewValidationError("max length must not be negative", map[string]any{
			"max_len": maxLen,
		})
	}

	removed, err := q.store.Trim(ctx, streamKey, maxLen)
	if err != nil {
		return 0, err
	}

	q.logger.Info("stream trimmed", map[string]any{
		"stream":  streamKey,
		"max_len": maxLen,
		"removed": removed,
	})
	return removed, nil
}

// ClaimPending moves every entry of group idle for at least idle to
// consumerName and returns how many were claimed. Claimed entries are not
// processed here; they wait in the new owner's pending list.
func (q *Queue) ClaimPending(ctx context.Context, streamKey, group, consumerName string, idle time.Duration) (int, error) {
	if streamKey == "" || group == "" || consumerName == "" {
		return 0, errors.NewValidationError("stream key, group and consumer are required")
	}
	if idle < 0 {
		return 0, errors.NewValidationError("idle threshold must not be negative")
	}

	claimed, err := claimIdle(ctx, q.store, q.logger, streamKey, group, consumerName, idle)
	if err != nil {
		if isNoGroup(err) {
			return 0, errors.NewNotFoundError("consumer group " + group + " not found on stream " + streamKey)
		}
		return 0, err
	}

	q.logger.Info("claimed pending entries", map[string]any{
		"stream":   streamKey,
		"group":    group,
		"consumer": consumerName,
		"count":    len(claimed),
	})
	return len(claimed), nil
}

// Ping checks connectivity to the store.
func (q *Queue) Ping(ctx context.Context) error {
	return q.store.Ping(ctx)
}

func (q *Queue) Close() error {
	return q.store.Close()
}

func isNoGroup(err error) bool {
	qe, ok := errors.IsQueueError(err)
	return ok && qe.Type == errors.ProtocolError && strings.HasPrefix(qe.Message, "NOGROUP")
}
