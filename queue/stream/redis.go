package stream

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"streamq/errors"

	"github.com/redis/go-redis/v9"
)

// Error replies that mean the server is up but cannot serve yet.
var transientReplies = []string{"LOADING", "TRYAGAIN", "MASTERDOWN", "CLUSTERDOWN"}

type RedisStore struct {
	client    *redis.Client
	readBlock time.Duration
}

var _ Store = (*RedisStore)(nil)

type RedisOption func(*RedisStore)

// WithReadBlock makes ReadGroup block up to d for new entries. The default
// is a non-blocking read; the consumer loop does its own idle sleep.
func WithReadBlock(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.readBlock = d
	}
}

// NewRedisStore builds a store for the given redis:// URL. The connection is
// established lazily; use Ping to check connectivity.
func NewRedisStore(url string, opts ...RedisOption) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	return NewRedisStoreFromClient(redis.NewClient(opt), opts...), nil
}

func NewRedisStoreFromClient(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		readBlock: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Add(ctx context.Context, streamKey string, fields map[string]string) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: EncodeFields(fields),
	}).Result()
	if err != nil {
		return "", classify("XADD", err)
	}
	return id, nil
}

func (s *RedisStore) EnsureGroup(ctx context.Context, streamKey, group string, mkStream bool) (GroupResult, error) {
	var err error
	if mkStream {
		err = s.client.XGroupCreateMkStream(ctx, streamKey, group, "0").Err()
	} else {
		err = s.client.XGroupCreate(ctx, streamKey, group, "0").Err()
	}

	switch {
	case err == nil:
		return GroupCreated, nil
	case isBusyGroup(err):
		return GroupExists, nil
	default:
		return GroupFailed, classify("XGROUP CREATE", err)
	}
}

func (s *RedisStore) ReadGroup(ctx context.Context, streamKey, group, consumer string, count int) ([]Entry, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{streamKey, ">"},
		Count:    int64(count),
		Block:    s.readBlock,
	}).Result()
	if stderrors.Is(err, redis.Nil) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, classify("XREADGROUP", err)
	}

	entries := make([]Entry, 0, count)
	for _, st := range res {
		for _, msg := range st.Messages {
			entries = append(entries, toEntry(msg))
		}
	}
	return entries, nil
}

func (s *RedisStore) Acknowledge(ctx context.Context, streamKey, group string, entryIDs ...string) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	n, err := s.client.XAck(ctx, streamKey, group, entryIDs...).Result()
	if err != nil {
		return 0, classify("XACK", err)
	}
	return n, nil
}

func (s *RedisStore) PendingSummary(ctx context.Context, streamKey, group string) (PendingSummary, error) {
	res, err := s.client.XPending(ctx, streamKey, group).Result()
	if err != nil {
		return PendingSummary{}, classify("XPENDING", err)
	}

	summary := PendingSummary{
		Total:       res.Count,
		PerConsumer: make(map[string]int64, len(res.Consumers)),
	}
	for name, n := range res.Consumers {
		summary.PerConsumer[name] = n
	}
	return summary, nil
}

func (s *RedisStore) PendingDetail(ctx context.Context, streamKey, group string, count int) ([]PendingEntry, error) {
	res, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamKey,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  int64(count),
	}).Result()
	if stderrors.Is(err, redis.Nil) {
		return []PendingEntry{}, nil
	}
	if err != nil {
		return nil, classify("XPENDING", err)
	}

	pending := make([]PendingEntry, 0, len(res))
	for _, p := range res {
		pending = append(pending, PendingEntry{
			ID:         p.ID,
			Consumer:   p.Consumer,
			Idle:       p.Idle,
			Deliveries: p.RetryCount,
		})
	}
	return pending, nil
}

func (s *RedisStore) Claim(ctx context.Context, streamKey, group, consumer string, minIdle time.Duration, entryIDs ...string) ([]Entry, error) {
	if len(entryIDs) == 0 {
		return []Entry{}, nil
	}
	msgs, err := s.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   streamKey,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: entryIDs,
	}).Result()
	if stderrors.Is(err, redis.Nil) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, classify("XCLAIM", err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		// deleted entries come back without values
		if len(msg.Values) == 0 {
			continue
		}
		entries = append(entries, toEntry(msg))
	}
	return entries, nil
}

func (s *RedisStore) Trim(ctx context.Context, streamKey string, maxLen int64) (int64, error) {
	n, err := s.client.XTrimMaxLenApprox(ctx, streamKey, maxLen, 0).Result()
	if err != nil {
		return 0, classify("XTRIM", err)
	}
	return n, nil
}

func (s *RedisStore) Delete(ctx context.Context, streamKey string, entryIDs ...string) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	n, err := s.client.XDel(ctx, streamKey, entryIDs...).Result()
	if err != nil {
		return 0, classify("XDEL", err)
	}
	return n, nil
}

func (s *RedisStore) Length(ctx context.Context, streamKey string) (int64, error) {
	n, err := s.client.XLen(ctx, streamKey).Result()
	if err != nil {
		return 0, classify("XLEN", err)
	}
	return n, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return classify("PING", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func toEntry(msg redis.XMessage) Entry {
	return Entry{
		ID:     msg.ID,
		Fields: DecodeValues(msg.Values),
	}
}

func isBusyGroup(err error) bool {
	var rerr redis.Error
	return stderrors.As(err, &rerr) && strings.HasPrefix(rerr.Error(), "BUSYGROUP")
}

// classify maps a client failure onto the queue error taxonomy.
func classify(op string, err error) error {
	var rerr redis.Error
	if stderrors.As(err, &rerr) {
		msg := rerr.Error()
		for _, prefix := range transientReplies {
			if strings.HasPrefix(msg, prefix) {
				return errors.NewConnectionError(op, err)
			}
		}
		return errors.NewProtocolError(op, err)
	}
	return errors.NewConnectionError(op, err)
}
