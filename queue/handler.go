package queue

import "context"

// Handler processes one delivered entry. Returning false or a non-nil error
// marks the attempt as failed; the entry stays pending and is retried until
// the retry limit dead-letters it. Handlers may run more than once for the
// same entry.
type Handler interface {
	Handle(ctx context.Context, env Envelope) (bool, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, env Envelope) (bool, error)

func (f HandlerFunc) Handle(ctx context.Context, env Envelope) (bool, error) {
	return f(ctx, env)
}
