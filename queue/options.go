package queue

import "time"

// ListenOptions tunes one consumer loop. Listen copies it, so later changes
// by the caller have no effect on a running loop.
type ListenOptions struct {
	// BatchSize is the most entries fetched per read.
	BatchSize int
	// Concurrency bounds the handlers running at once within a batch.
	Concurrency int
	// MaxRetries is the number of failed attempts after which an entry is
	// dead-lettered.
	MaxRetries int
	// PollDelay is the sleep after a read that returned nothing.
	PollDelay time.Duration
	// ClaimIdleThreshold is how long an entry must sit unacknowledged before
	// the loop takes it over. Failed entries are redelivered this way, so it
	// is never zero after normalization.
	ClaimIdleThreshold    time.Duration
	CreateStreamIfMissing bool
	ClaimPendingOnStartup bool

	// ReclaimInterval spaces the reclaim passes made while polling. Zero
	// falls back to ClaimIdleThreshold; negative disables them.
	ReclaimInterval time.Duration
	// ErrorCooldown is the sleep after a failed read.
	ErrorCooldown  time.Duration
	ConnectTimeout time.Duration
	// GroupCreateAttempts and GroupCreateDelay drive the exponential backoff
	// around consumer group creation.
	GroupCreateAttempts int
	GroupCreateDelay    time.Duration
	// OperationTimeout bounds acknowledge and dead-letter calls, which keep
	// running after the loop is cancelled.
	OperationTimeout time.Duration
}

func DefaultListenOptions() ListenOptions {
	return ListenOptions{
		BatchSize:             10,
		Concurrency:           5,
		MaxRetries:            3,
		PollDelay:             time.Second,
		ClaimIdleThreshold:    60 * time.Second,
		CreateStreamIfMissing: true,
		ClaimPendingOnStartup: true,
		ErrorCooldown:         5 * time.Second,
		ConnectTimeout:        30 * time.Second,
		GroupCreateAttempts:   5,
		GroupCreateDelay:      200 * time.Millisecond,
		OperationTimeout:      5 * time.Second,
	}
}

// normalize fills unset numeric fields with defaults.
func (o ListenOptions) normalize() ListenOptions {
	def := DefaultListenOptions()

	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = def.Concurrency
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = def.MaxRetries
	}
	if o.PollDelay <= 0 {
		o.PollDelay = def.PollDelay
	}
	if o.ClaimIdleThreshold <= 0 {
		o.ClaimIdleThreshold = def.ClaimIdleThreshold
	}
	if o.ReclaimInterval == 0 {
		o.ReclaimInterval = o.ClaimIdleThreshold
	}
	if o.ErrorCooldown <= 0 {
		o.ErrorCooldown = def.ErrorCooldown
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.GroupCreateAttempts <= 0 {
		o.GroupCreateAttempts = def.GroupCreateAttempts
	}
	if o.GroupCreateDelay <= 0 {
		o.GroupCreateDelay = def.GroupCreateDelay
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = def.OperationTimeout
	}
	return o
}
