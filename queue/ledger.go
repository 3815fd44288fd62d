package queue

import (
	"sync"
	"sync/atomic"
)

// LedgerKey names an entry in the retry ledger.
func LedgerKey(streamKey, entryID string) string {
	return streamKey + ":" + entryID
}

// RetryLedger counts consecutive handler failures per entry. It lives only as
// long as the consumer loop that owns it, so a restarted consumer starts
// counting from zero again.
type RetryLedger struct {
	counts sync.Map // string -> *atomic.Int64
}

func NewRetryLedger() *RetryLedger {
	return &RetryLedger{}
}

// Increment records one more failure and returns the new count.
func (l *RetryLedger) Increment(key string) int64 {
	v, _ := l.counts.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64).Add(1)
}

func (l *RetryLedger) Count(key string) (int64, bool) {
	v, ok := l.counts.Load(key)
	if !ok {
		return 0, false
	}
	return v.(*atomic.Int64).Load(), true
}

// Clear removes the counter and reports whether one existed.
func (l *RetryLedger) Clear(key string) bool {
	_, ok := l.counts.LoadAndDelete(key)
	return ok
}

func (l *RetryLedger) Len() int {
	n := 0
	l.counts.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
