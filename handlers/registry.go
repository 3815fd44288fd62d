// Package handlers holds the message handlers the worker process runs and
// the registry that routes entries to them by their "type" field.
package handlers

import (
	"context"
	"slices"
	"sync"

	"streamq/errors"
	"streamq/queue"
)

// TypeField is the entry field that selects a handler.
const TypeField = "type"

var _ queue.Handler = (*Registry)(nil)

// Registry maps message types to handlers. It is itself a queue.Handler, so a
// single consumer loop can serve several message types.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]queue.Handler
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]queue.Handler),
	}
}

// Register binds a handler to a message type.
// This should be called during application initialization.
func (r *Registry) Register(messageType string, handler queue.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[messageType] = handler
}

func (r *Registry) Get(messageType string) (queue.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[messageType]
	return h, ok
}

// GetRegisteredTypes returns the registered message types in sorted order.
func (r *Registry) GetRegisteredTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for messageType := range r.handlers {
		types = append(types, messageType)
	}
	slices.Sort(types)
	return types
}

// Handle routes env to the handler registered for its type. Entries with an
// unknown type fail, so they end up in the dead-letter stream.
func (r *Registry) Handle(ctx context.Context, env queue.Envelope) (bool, error) {
	messageType := env.Get(TypeField)

	h, ok := r.Get(messageType)
	if !ok {
		return false, errors.NewValidationError("no handler registered for message type", map[string]any{
			"type":     messageType,
			"entry_id": env.EntryID,
		})
	}
	return h.Handle(ctx, env)
}
