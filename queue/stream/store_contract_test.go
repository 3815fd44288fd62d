package stream

import (
	"context"
	"testing"
	"time"

	"streamq/errors"

	"github.com/stretchr/testify/require"
	"gotest.tools/v3/assert"
)

// Shared behaviour every Store implementation must satisfy. Each helper gets
// a fresh stream key so implementations can share one backing server.

func testStoreAddMonotonic(t *testing.T, store Store, key string) {
	ctx := context.Background()

	first, err := store.Add(ctx, key, map[string]string{"chatId": "12345"})
	require.NoError(t, err)
	assert.Assert(t, first != "")

	second, err := store.Add(ctx, key, map[string]string{"chatId": "67890"})
	require.NoError(t, err)
	assert.Assert(t, CompareIDs(first, second) < 0, "ids must grow: %s then %s", first, second)

	n, err := store.Length(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func testStoreEnsureGroupIdempotent(t *testing.T, store Store, key string) {
	ctx := context.Background()

	res, err := store.EnsureGroup(ctx, key, "executor", true)
	require.NoError(t, err)
	assert.Equal(t, GroupCreated, res)

	res, err = store.EnsureGroup(ctx, key, "executor", true)
	require.NoError(t, err)
	assert.Equal(t, GroupExists, res)
}

func testStoreEnsureGroupMissingStream(t *testing.T, store Store, key string) {
	res, err := store.EnsureGroup(context.Background(), key, "executor", false)
	assert.Equal(t, GroupFailed, res)
	assert.Assert(t, errors.IsType(err, errors.ProtocolError), "got %v", err)
}

func testStoreReadAckPending(t *testing.T, store Store, key string) {
	ctx := context.Background()

	_, err := store.EnsureGroup(ctx, key, "executor", true)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := store.Add(ctx, key, map[string]string{"n": string(rune('a' + i))})
		require.NoError(t, err)
	}

	entries, err := store.ReadGroup(ctx, key, "executor", "worker-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, "a", entries[0].Fields["n"])
	assert.Equal(t, "e", entries[4].Fields["n"])

	summary, err := store.PendingSummary(ctx, key, "executor")
	require.NoError(t, err)
	assert.Equal(t, int64(5), summary.Total)
	assert.Equal(t, int64(5), summary.PerConsumer["worker-1"])

	// nothing new for the group
	more, err := store.ReadGroup(ctx, key, "executor", "worker-2", 10)
	require.NoError(t, err)
	assert.Equal(t, 0, len(more))

	acked, err := store.Acknowledge(ctx, key, "executor", entries[0].ID, entries[1].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), acked)

	// acknowledging twice is a no-op
	acked, err = store.Acknowledge(ctx, key, "executor", entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), acked)

	detail, err := store.PendingDetail(ctx, key, "executor", 10)
	require.NoError(t, err)
	require.Len(t, detail, 3)
	assert.Equal(t, entries[2].ID, detail[0].ID)
	assert.Equal(t, "worker-1", detail[0].Consumer)
	assert.Equal(t, int64(1), detail[0].Deliveries)
}

func testStoreReadBatchLimit(t *testing.T, store Store, key string) {
	ctx := context.Background()

	_, err := store.EnsureGroup(ctx, key, "executor", true)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := store.Add(ctx, key, map[string]string{"i": "x"})
		require.NoError(t, err)
	}

	first, err := store.ReadGroup(ctx, key, "executor", "worker-1", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, len(first))

	second, err := store.ReadGroup(ctx, key, "executor", "worker-2", 3)
	require.NoError(t, err)
	require.Len(t, second, 1)
	for _, e := range first {
		assert.Assert(t, e.ID != second[0].ID, "no entry is delivered twice to a group")
	}
}

func testStoreClaim(t *testing.T, store Store, key string, idle time.Duration, wait func()) {
	ctx := context.Background()

	_, err := store.EnsureGroup(ctx, key, "executor", true)
	require.NoError(t, err)
	id, err := store.Add(ctx, key, map[string]string{"job": "reclaim"})
	require.NoError(t, err)

	entries, err := store.ReadGroup(ctx, key, "executor", "consumer-a", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// not idle long enough yet
	claimed, err := store.Claim(ctx, key, "executor", "consumer-b", time.Hour, id)
	require.NoError(t, err)
	assert.Equal(t, 0, len(claimed))

	wait()

	claimed, err = store.Claim(ctx, key, "executor", "consumer-b", idle, id)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].ID)
	assert.Equal(t, "reclaim", claimed[0].Fields["job"])

	summary, err := store.PendingSummary(ctx, key, "executor")
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.PerConsumer["consumer-b"])
	assert.Equal(t, int64(0), summary.PerConsumer["consumer-a"])

	detail, err := store.PendingDetail(ctx, key, "executor", 10)
	require.NoError(t, err)
	require.Len(t, detail, 1)
	assert.Equal(t, int64(2), detail[0].Deliveries)

	// acknowledged entries are skipped
	_, err = store.Acknowledge(ctx, key, "executor", id)
	require.NoError(t, err)
	claimed, err = store.Claim(ctx, key, "executor", "consumer-a", 0, id)
	require.NoError(t, err)
	assert.Equal(t, 0, len(claimed))
}

func testStoreTrimDelete(t *testing.T, store Store, key string) {
	ctx := context.Background()

	var ids []string
	for i := 0; i < 10; i++ {
		id, err := store.Add(ctx, key, map[string]string{"i": "x"})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	deleted, err := store.Delete(ctx, key, ids[0], ids[1])
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = store.Trim(ctx, key, 5)
	require.NoError(t, err)

	n, err := store.Length(ctx, key)
	require.NoError(t, err)
	// approximate trimming may keep more than requested, never more than before
	assert.Assert(t, n >= 5 && n <= 8, "length after trim: %d", n)
}

func testStoreMissingGroup(t *testing.T, store Store, key string) {
	ctx := context.Background()

	_, err := store.Add(ctx, key, map[string]string{"a": "b"})
	require.NoError(t, err)

	_, err = store.ReadGroup(ctx, key, "nobody", "worker-1", 1)
	assert.Assert(t, errors.IsType(err, errors.ProtocolError), "got %v", err)

	_, err = store.PendingSummary(ctx, key, "nobody")
	assert.Assert(t, errors.IsType(err, errors.ProtocolError), "got %v", err)
}
