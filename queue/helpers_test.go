package queue

import (
	"context"
	stderrors "errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"streamq/errors"
	"streamq/logger"
	"streamq/queue/stream"

	"github.com/stretchr/testify/require"
)

func newTestQueue(store stream.Store, opts ...Option) *Queue {
	return New(store, logger.New("DEBUG", io.Discard), opts...)
}

// fastOptions keeps every loop delay in the millisecond range.
func fastOptions() *ListenOptions {
	return &ListenOptions{
		BatchSize:             10,
		Concurrency:           5,
		MaxRetries:            3,
		PollDelay:             5 * time.Millisecond,
		ClaimIdleThreshold:    20 * time.Millisecond,
		CreateStreamIfMissing: true,
		ClaimPendingOnStartup: true,
		ReclaimInterval:       10 * time.Millisecond,
		ErrorCooldown:         5 * time.Millisecond,
		ConnectTimeout:        time.Second,
		GroupCreateAttempts:   5,
		GroupCreateDelay:      time.Millisecond,
		OperationTimeout:      time.Second,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out after %s: %s", timeout, msg)
}

func addEntries(t *testing.T, store stream.Store, key string, n int) []string {
	t.Helper()

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := store.Add(context.Background(), key, map[string]string{"chatId": "12345"})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func streamLength(t *testing.T, store stream.Store, key string) int64 {
	t.Helper()

	n, err := store.Length(context.Background(), key)
	require.NoError(t, err)
	return n
}

func pendingTotal(t *testing.T, store stream.Store, key, group string) int64 {
	t.Helper()

	s, err := store.PendingSummary(context.Background(), key, group)
	require.NoError(t, err)
	return s.Total
}

// deadLetterFailingStore refuses appends to dead-letter streams.
type deadLetterFailingStore struct {
	*stream.MemoryStore
}

func (s *deadLetterFailingStore) Add(ctx context.Context, streamKey string, fields map[string]string) (string, error) {
	if strings.HasSuffix(streamKey, deadLetterSuffix) {
		return "", errors.NewConnectionError("XADD", stderrors.New("connection reset by peer"))
	}
	return s.MemoryStore.Add(ctx, streamKey, fields)
}

// unreachableStore never answers pings.
type unreachableStore struct {
	*stream.MemoryStore
}

func (s *unreachableStore) Ping(ctx context.Context) error {
	return errors.NewConnectionError("PING", stderrors.New("dial tcp 127.0.0.1:6379: connect: connection refused"))
}

// groupFaultStore fails EnsureGroup the first failures times with err.
type groupFaultStore struct {
	*stream.MemoryStore
	failures int32
	err      error
	calls    atomic.Int32
}

func (s *groupFaultStore) EnsureGroup(ctx context.Context, streamKey, group string, mkStream bool) (stream.GroupResult, error) {
	if s.calls.Add(1) <= s.failures {
		return stream.GroupFailed, s.err
	}
	return s.MemoryStore.EnsureGroup(ctx, streamKey, group, mkStream)
}

// readFaultStore fails ReadGroup the first failures times.
type readFaultStore struct {
	*stream.MemoryStore
	failures int32
	calls    atomic.Int32
}

func (s *readFaultStore) ReadGroup(ctx context.Context, streamKey, group, consumer string, count int) ([]stream.Entry, error) {
	if s.calls.Add(1) <= s.failures {
		return nil, errors.NewConnectionError("XREADGROUP", stderrors.New("i/o timeout"))
	}
	return s.MemoryStore.ReadGroup(ctx, streamKey, group, consumer, count)
}

var (
	errAckRejected    = stderrors.New("XACK rejected: READONLY You can't write against a read only replica")
	errDeleteRejected = stderrors.New("XDEL rejected: READONLY You can't write against a read only replica")
)

// settleFaultStore fails Acknowledge, and Delete when failDelete is set, so
// a dead-letter move can only complete its first step.
type settleFaultStore struct {
	*stream.MemoryStore
	failDelete bool
}

func (s *settleFaultStore) Acknowledge(ctx context.Context, streamKey, group string, entryIDs ...string) (int64, error) {
	return 0, errors.NewProtocolError("XACK", errAckRejected)
}

func (s *settleFaultStore) Delete(ctx context.Context, streamKey string, entryIDs ...string) (int64, error) {
	if s.failDelete {
		return 0, errors.NewProtocolError("XDEL", errDeleteRejected)
	}
	return s.MemoryStore.Delete(ctx, streamKey, entryIDs...)
}
