package queue

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"streamq/errors"
	"streamq/logger"
	"streamq/queue/resilience"
	"streamq/queue/stream"

	"golang.org/x/sync/semaphore"
)

const connectPollInterval = 500 * time.Millisecond

// consumer is the loop behind one Listen call.
type consumer struct {
	store   stream.Store
	logger  *logger.Logger
	ledger  *RetryLedger
	router  *DeadLetterRouter
	handler Handler
	opts    ListenOptions
	handle  *ListenHandle
	sem     *semaphore.Weighted

	streamKey string
	group     string
	name      string

	lastReclaim time.Time
}

func (c *consumer) fields(extra map[string]any) map[string]any {
	f := map[string]any{
		"stream":   c.streamKey,
		"group":    c.group,
		"consumer": c.name,
	}
	maps.Copy(f, extra)
	return f
}

func (c *consumer) setState(s State) {
	if prev := c.handle.setState(s); prev != s {
		c.logger.Debug("consumer state changed", c.fields(map[string]any{
			"from": prev.String(),
			"to":   s.String(),
		}))
	}
}

// run drives the loop until ctx is cancelled. It only returns an error when
// startup failed and polling never began.
func (c *consumer) run(ctx context.Context) error {
	c.logger.Info("consumer starting", c.fields(map[string]any{
		"batch_size":  c.opts.BatchSize,
		"concurrency": c.opts.Concurrency,
		"max_retries": c.opts.MaxRetries,
	}))
	defer c.logger.Info("consumer stopped", c.fields(nil))

	c.setState(StateWaitingForConnection)
	if err := resilience.WaitForConnection(ctx, c.store, c.opts.ConnectTimeout, connectPollInterval); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Error("stream store not reachable, consumer not started", c.fields(map[string]any{
			"timeout": c.opts.ConnectTimeout.String(),
			"error":   err.Error(),
		}))
		return err
	}

	if c.opts.CreateStreamIfMissing {
		c.setState(StateEnsuringGroup)
		if err := c.ensureGroup(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to create consumer group, consumer not started", c.fields(map[string]any{
				"error": err.Error(),
			}))
			return errors.NewFatalStartupError("consumer group creation failed", err)
		}
	}

	if c.opts.ClaimPendingOnStartup {
		c.reclaim(ctx)
	}
	c.lastReclaim = time.Now()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping due to context cancellation", c.fields(nil))
			return nil
		default:
			c.poll(ctx)
		}
	}
}

func (c *consumer) ensureGroup(ctx context.Context) error {
	backoff := resilience.Backoff{
		InitialDelay: c.opts.GroupCreateDelay,
		MaxAttempts:  c.opts.GroupCreateAttempts,
	}

	return resilience.Retry(ctx, backoff, errors.IsTransient, func(ctx context.Context) error {
		res, err := c.store.EnsureGroup(ctx, c.streamKey, c.group, true)
		if err != nil {
			c.logger.Warn("consumer group creation attempt failed", c.fields(map[string]any{
				"error": err.Error(),
			}))
			return err
		}
		c.logger.Info("consumer group ready", c.fields(map[string]any{
			"result": res.String(),
		}))
		return nil
	})
}

// poll runs one cycle: an optional reclaim pass, a read, and dispatch.
func (c *consumer) poll(ctx context.Context) {
	if c.opts.ReclaimInterval > 0 && time.Since(c.lastReclaim) >= c.opts.ReclaimInterval {
		c.reclaim(ctx)
		c.lastReclaim = time.Now()
	}

	c.setState(StatePolling)
	entries, err := c.store.ReadGroup(ctx, c.streamKey, c.group, c.name, c.opts.BatchSize)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Error("failed to read from stream", c.fields(map[string]any{
			"error":    err.Error(),
			"cooldown": c.opts.ErrorCooldown.String(),
		}))
		sleep(ctx, c.opts.ErrorCooldown)
		return
	}

	if len(entries) == 0 {
		sleep(ctx, c.opts.PollDelay)
		return
	}

	c.dispatch(ctx, entries)
}

// reclaim takes over entries that sat unacknowledged for at least the idle
// threshold, including this consumer's own failed ones, and processes them.
func (c *consumer) reclaim(ctx context.Context) {
	c.setState(StateReclaimingPending)

	claimed, err := claimIdle(ctx, c.store, c.logger, c.streamKey, c.group, c.name, c.opts.ClaimIdleThreshold)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("failed to inspect pending entries", c.fields(map[string]any{
				"error": err.Error(),
			}))
		}
		return
	}
	if len(claimed) == 0 {
		return
	}

	c.logger.Info("reclaimed idle pending entries", c.fields(map[string]any{
		"count": len(claimed),
	}))
	c.dispatch(ctx, claimed)
}

// dispatch processes a batch with at most Concurrency handlers in flight and
// returns once all of them finished. Entries not yet started when ctx is
// cancelled stay pending.
func (c *consumer) dispatch(ctx context.Context, entries []stream.Entry) {
	c.setState(StateDispatching)

	var wg sync.WaitGroup
	for i, entry := range entries {
		if !c.acquire(ctx) {
			c.logger.Info("dispatch interrupted, remaining entries stay pending", c.fields(map[string]any{
				"skipped": len(entries) - i,
			}))
			break
		}

		wg.Add(1)
		go func(e stream.Entry) {
			defer wg.Done()
			defer c.sem.Release(1)
			c.process(ctx, e)
		}(entry)
	}
	wg.Wait()
}

// acquire takes a handler slot unless ctx is cancelled. Acquire may succeed
// on an already cancelled context, so the check runs on both sides.
func (c *consumer) acquire(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	if ctx.Err() != nil {
		c.sem.Release(1)
		return false
	}
	return true
}

func (c *consumer) process(ctx context.Context, entry stream.Entry) {
	env := NewEnvelope(c.streamKey, entry)
	key := LedgerKey(c.streamKey, entry.ID)

	ok, handlerErr := c.invoke(ctx, env)

	// acknowledgements must land even when the loop is shutting down
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.OperationTimeout)
	defer cancel()

	if ok && handlerErr == nil {
		if _, err := c.store.Acknowledge(opCtx, c.streamKey, c.group, entry.ID); err != nil {
			c.logger.Error("failed to acknowledge entry", c.fields(map[string]any{
				"entry_id": entry.ID,
				"error":    err.Error(),
			}))
		}
		c.ledger.Clear(key)
		c.logger.Message(c.streamKey, entry.ID, "entry processed", map[string]any{
			"group":    c.group,
			"consumer": c.name,
		})
		return
	}

	attempts := c.ledger.Increment(key)
	failure := map[string]any{
		"group":       c.group,
		"consumer":    c.name,
		"attempts":    attempts,
		"max_retries": c.opts.MaxRetries,
	}
	if handlerErr != nil {
		failure["error"] = handlerErr.Error()
	}

	if attempts < int64(c.opts.MaxRetries) {
		c.logger.Warn("entry processing failed, will retry", c.fields(map[string]any{
			"entry_id":    entry.ID,
			"attempts":    attempts,
			"max_retries": c.opts.MaxRetries,
			"error":       failure["error"],
		}))
		return
	}

	c.logger.Message(c.streamKey, entry.ID, "retries exhausted, dead-lettering entry", failure)
	deadID, err := c.router.MoveToDeadLetter(opCtx, c.streamKey, c.group, entry, attempts, handlerErr)
	if deadID != "" {
		c.ledger.Clear(key)
	}
	if err != nil {
		c.logger.Error("dead-letter move incomplete", c.fields(map[string]any{
			"entry_id": entry.ID,
			"dead_id":  deadID,
			"error":    err.Error(),
		}))
	}
}

// invoke calls the handler, turning a panic into a handler failure.
func (c *consumer) invoke(ctx context.Context, env Envelope) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = errors.NewHandlerFailure(fmt.Sprintf("handler panicked: %v", r), nil)
		}
	}()
	return c.handler.Handle(ctx, env)
}

// claimIdle claims every pending entry idle for at least minIdle under
// consumer. Per-entry claim failures are logged and skipped.
func claimIdle(ctx context.Context, store stream.Store, lg *logger.Logger, streamKey, group, consumer string, minIdle time.Duration) ([]stream.Entry, error) {
	summary, err := store.PendingSummary(ctx, streamKey, group)
	if err != nil {
		return nil, err
	}
	if summary.Total == 0 {
		return nil, nil
	}

	pending, err := store.PendingDetail(ctx, streamKey, group, int(summary.Total))
	if err != nil {
		return nil, err
	}

	var claimed []stream.Entry
	for _, p := range pending {
		if p.Idle < minIdle {
			continue
		}
		entries, err := store.Claim(ctx, streamKey, group, consumer, minIdle, p.ID)
		if err != nil {
			if ctx.Err() != nil {
				return claimed, nil
			}
			lg.Warn("failed to claim pending entry", map[string]any{
				"stream":   streamKey,
				"group":    group,
				"consumer": consumer,
				"entry_id": p.ID,
				"error":    err.Error(),
			})
			continue
		}
		claimed = append(claimed, entries...)
	}
	return claimed, nil
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
