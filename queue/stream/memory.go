package stream

import (
	"context"
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"streamq/errors"
)

// Compile-time check to ensure MemoryStore implements Store interface
var _ Store = (*MemoryStore)(nil)

var errStoreClosed = stderrors.New("memory store is closed")

// MemoryStore provides an in-process stream store with consumer groups and
// pending entry lists. Nothing is persisted.
type MemoryStore struct {
	mu      sync.Mutex
	streams map[string]*memStream
	now     func() time.Time
	closed  bool
}

type memEntry struct {
	id    ID
	entry Entry
}

type memStream struct {
	entries []memEntry
	last    ID
	groups  map[string]*memGroup
}

type memGroup struct {
	lastDelivered ID
	pending       map[string]*memPending
}

type memPending struct {
	consumer    string
	deliveredAt time.Time
	deliveries  int64
}

type MemoryOption func(*MemoryStore)

// WithClock replaces the clock used for entry ids and idle times.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates and initializes a new MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		streams: make(map[string]*memStream),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Add(ctx context.Context, streamKey string, fields map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "XADD"); err != nil {
		return "", err
	}
	if len(fields) == 0 {
		return "", errors.NewProtocolError("XADD", fmt.Errorf("ERR wrong number of arguments for 'xadd' command"))
	}

	st := s.stream(streamKey, true)
	id := st.nextID(s.now())
	st.entries = append(st.entries, memEntry{
		id:    id,
		entry: Entry{ID: id.String(), Fields: maps.Clone(fields)},
	})
	st.last = id

	return id.String(), nil
}

func (s *MemoryStore) EnsureGroup(ctx context.Context, streamKey, group string, mkStream bool) (GroupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "XGROUP CREATE"); err != nil {
		return GroupFailed, err
	}

	st := s.stream(streamKey, mkStream)
	if st == nil {
		return GroupFailed, errors.NewProtocolError("XGROUP CREATE",
			fmt.Errorf("ERR The XGROUP subcommand requires the key to exist"))
	}
	if _, ok := st.groups[group]; ok {
		return GroupExists, nil
	}

	st.groups[group] = &memGroup{pending: make(map[string]*memPending)}
	return GroupCreated, nil
}

func (s *MemoryStore) ReadGroup(ctx context.Context, streamKey, group, consumer string, count int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "XREADGROUP"); err != nil {
		return nil, err
	}
	st, g, err := s.group(streamKey, group, "XREADGROUP")
	if err != nil {
		return nil, err
	}

	now := s.now()
	entries := make([]Entry, 0, count)
	for _, me := range st.entries {
		if count > 0 && len(entries) >= count {
			break
		}
		if me.id.Compare(g.lastDelivered) <= 0 {
			continue
		}
		g.lastDelivered = me.id
		g.pending[me.entry.ID] = &memPending{
			consumer:    consumer,
			deliveredAt: now,
			deliveries:  1,
		}
		entries = append(entries, copyEntry(me.entry))
	}
	return entries, nil
}

func (s *MemoryStore) Acknowledge(ctx context.Context, streamKey, group string, entryIDs ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "XACK"); err != nil {
		return 0, err
	}
	st := s.stream(streamKey, false)
	if st == nil {
		return 0, nil
	}
	g, ok := st.groups[group]
	if !ok {
		return 0, nil
	}

	var acked int64
	for _, id := range entryIDs {
		if _, ok := g.pending[id]; ok {
			delete(g.pending, id)
			acked++
		}
	}
	return acked, nil
}

func (s *MemoryStore) PendingSummary(ctx context.Context, streamKey, group string) (PendingSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "XPENDING"); err != nil {
		return PendingSummary{}, err
	}
	_, g, err := s.group(streamKey, group, "XPENDING")
	if err != nil {
		return PendingSummary{}, err
	}

	summary := PendingSummary{PerConsumer: make(map[string]int64)}
	for _, p := range g.pending {
		summary.Total++
		summary.PerConsumer[p.consumer]++
	}
	return summary, nil
}

func (s *MemoryStore) PendingDetail(ctx context.Context, streamKey, group string, count int) ([]PendingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "XPENDING"); err != nil {
		return nil, err
	}
	_, g, err := s.group(streamKey, group, "XPENDING")
	if err != nil {
		return nil, err
	}

	ids := slices.SortedFunc(maps.Keys(g.pending), CompareIDs)
	if count > 0 && len(ids) > count {
		ids = ids[:count]
	}

	now := s.now()
	pending := make([]PendingEntry, 0, len(ids))
	for _, id := range ids {
		p := g.pending[id]
		pending = append(pending, PendingEntry{
			ID:         id,
			Consumer:   p.consumer,
			Idle:       now.Sub(p.deliveredAt),
			Deliveries: p.deliveries,
		})
	}
	return pending, nil
}

func (s *MemoryStore) Claim(ctx context.Context, streamKey, group, consumer string, minIdle time.Duration, entryIDs ...string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "XCLAIM"); err != nil {
		return nil, err
	}
	st, g, err := s.group(streamKey, group, "XCLAIM")
	if err != nil {
		return nil, err
	}

	now := s.now()
	claimed := make([]Entry, 0, len(entryIDs))
	for _, id := range entryIDs {
		p, ok := g.pending[id]
		if !ok || now.Sub(p.deliveredAt) < minIdle {
			continue
		}
		me, ok := st.find(id)
		if !ok {
			// deleted entries leave the pending list when claimed
			delete(g.pending, id)
			continue
		}
		p.consumer = consumer
		p.deliveredAt = now
		p.deliveries++
		claimed = append(claimed, copyEntry(me.entry))
	}
	return claimed, nil
}

func (s *MemoryStore) Trim(ctx context.Context, streamKey string, maxLen int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "XTRIM"); err != nil {
		return 0, err
	}
	st := s.stream(streamKey, false)
	if st == nil || int64(len(st.entries)) <= maxLen {
		return 0, nil
	}

	removed := int64(len(st.entries)) - maxLen
	st.entries = slices.Clone(st.entries[removed:])
	return removed, nil
}

func (s *MemoryStore) Delete(ctx context.Context, streamKey string, entryIDs ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "XDEL"); err != nil {
		return 0, err
	}
	st := s.stream(streamKey, false)
	if st == nil {
		return 0, nil
	}

	before := len(st.entries)
	st.entries = slices.DeleteFunc(st.entries, func(me memEntry) bool {
		return slices.Contains(entryIDs, me.entry.ID)
	})
	return int64(before - len(st.entries)), nil
}

func (s *MemoryStore) Length(ctx context.Context, streamKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "XLEN"); err != nil {
		return 0, err
	}
	st := s.stream(streamKey, false)
	if st == nil {
		return 0, nil
	}
	return int64(len(st.entries)), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.check(ctx, "PING")
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// check must be called with s.mu held.
func (s *MemoryStore) check(ctx context.Context, op string) error {
	if s.closed {
		return errors.NewConnectionError(op, errStoreClosed)
	}
	if err := ctx.Err(); err != nil {
		return errors.NewConnectionError(op, err)
	}
	return nil
}

func (s *MemoryStore) stream(key string, create bool) *memStream {
	st, ok := s.streams[key]
	if !ok && create {
		st = &memStream{groups: make(map[string]*memGroup)}
		s.streams[key] = st
	}
	return st
}

func (s *MemoryStore) group(streamKey, group, op string) (*memStream, *memGroup, error) {
	st := s.stream(streamKey, false)
	if st != nil {
		if g, ok := st.groups[group]; ok {
			return st, g, nil
		}
	}
	return nil, nil, errors.NewProtocolError(op,
		fmt.Errorf("NOGROUP No such key '%s' or consumer group '%s'", streamKey, group))
}

func (st *memStream) nextID(now time.Time) ID {
	ms := uint64(now.UnixMilli())
	if ms > st.last.Ms {
		return ID{Ms: ms}
	}
	return ID{Ms: st.last.Ms, Seq: st.last.Seq + 1}
}

func (st *memStream) find(id string) (memEntry, bool) {
	for _, me := range st.entries {
		if me.entry.ID == id {
			return me, true
		}
	}
	return memEntry{}, false
}

func copyEntry(e Entry) Entry {
	return Entry{ID: e.ID, Fields: maps.Clone(e.Fields)}
}
