package queue

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"time"
)

// ErrStopTimeout is returned by StopListen when the loop did not exit within
// the grace period. The loop has still been cancelled and will exit once its
// in-flight handlers return.
var ErrStopTimeout = stderrors.New("timed out waiting for consumer loop to stop")

// State is a consumer loop lifecycle stage.
type State int32

const (
	StateStarting State = iota
	StateWaitingForConnection
	StateEnsuringGroup
	StateReclaimingPending
	StatePolling
	StateDispatching
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateWaitingForConnection:
		return "waiting_for_connection"
	case StateEnsuringGroup:
		return "ensuring_group"
	case StateReclaimingPending:
		return "reclaiming_pending"
	case StatePolling:
		return "polling"
	case StateDispatching:
		return "dispatching"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ListenHandle controls one running consumer loop.
type ListenHandle struct {
	StreamKey    string
	Group        string
	ConsumerName string

	cancel context.CancelFunc
	done   chan struct{}
	err    error
	state  atomic.Int32
	ledger *RetryLedger
}

func newListenHandle(streamKey, group, consumerName string, cancel context.CancelFunc, ledger *RetryLedger) *ListenHandle {
	return &ListenHandle{
		StreamKey:    streamKey,
		Group:        group,
		ConsumerName: consumerName,
		cancel:       cancel,
		done:         make(chan struct{}),
		ledger:       ledger,
	}
}

// Done is closed once the loop has returned.
func (h *ListenHandle) Done() <-chan struct{} {
	return h.done
}

// Err returns the fatal startup error that ended the loop, or nil if the loop
// is still running or was stopped normally.
func (h *ListenHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (h *ListenHandle) State() State {
	return State(h.state.Load())
}

func (h *ListenHandle) setState(s State) State {
	return State(h.state.Swap(int32(s)))
}

// Stop cancels the loop and waits up to timeout for it to exit. Calling it
// again, or after the loop already ended, is a no-op.
func (h *ListenHandle) Stop(timeout time.Duration) error {
	if h == nil {
		return nil
	}
	h.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}
