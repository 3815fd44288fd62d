// Package stream is the client layer over an append-only log store with
// consumer groups. RedisStore talks to Redis Streams; MemoryStore keeps the
// same semantics in process for local runs and tests.
package stream

import (
	"context"
	"time"
)

// Entry is one immutable record of a stream.
type Entry struct {
	ID     string
	Fields map[string]string
}

// GroupResult is the outcome of EnsureGroup. Failures are reported through
// the accompanying error and carry GroupFailed.
type GroupResult int

const (
	GroupFailed GroupResult = iota
	GroupCreated
	GroupExists
)

func (r GroupResult) String() string {
	switch r {
	case GroupCreated:
		return "created"
	case GroupExists:
		return "already_exists"
	default:
		return "failed"
	}
}

// PendingSummary describes a consumer group's pending entry list.
type PendingSummary struct {
	Total       int64
	PerConsumer map[string]int64
}

// PendingEntry is one entry of a group's pending entry list.
type PendingEntry struct {
	ID         string
	Consumer   string
	Idle       time.Duration
	Deliveries int64
}

// Store is the operation set the queue needs from the log store. Every method
// fails with an errors.QueueError of type connection or protocol.
type Store interface {
	// Add appends one entry and returns the id assigned by the store.
	Add(ctx context.Context, streamKey string, fields map[string]string) (string, error)

	// EnsureGroup creates group reading from the start of the stream. An
	// existing group is reported as GroupExists with a nil error. mkStream
	// creates the stream when it does not exist yet.
	EnsureGroup(ctx context.Context, streamKey, group string, mkStream bool) (GroupResult, error)

	// ReadGroup fetches up to count entries never delivered to the group and
	// assigns them to consumer. No entries is an empty slice, not an error.
	ReadGroup(ctx context.Context, streamKey, group, consumer string, count int) ([]Entry, error)

	// Acknowledge removes entryIDs from the group's pending entry list.
	Acknowledge(ctx context.Context, streamKey, group string, entryIDs ...string) (int64, error)

	PendingSummary(ctx context.Context, streamKey, group string) (PendingSummary, error)

	// PendingDetail lists up to count pending entries, oldest id first.
	PendingDetail(ctx context.Context, streamKey, group string, count int) ([]PendingEntry, error)

	// Claim reassigns entries idle for at least minIdle to consumer. Entries
	// not pending, not idle enough or deleted are skipped.
	Claim(ctx context.Context, streamKey, group, consumer string, minIdle time.Duration, entryIDs ...string) ([]Entry, error)

	// Trim caps the stream near maxLen. The store may keep a few more.
	Trim(ctx context.Context, streamKey string, maxLen int64) (int64, error)

	// Delete removes entries from the stream permanently.
	Delete(ctx context.Context, streamKey string, entryIDs ...string) (int64, error)

	Length(ctx context.Context, streamKey string) (int64, error)

	// Ping reports store connectivity.
	Ping(ctx context.Context) error

	Close() error
}
