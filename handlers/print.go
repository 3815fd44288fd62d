package handlers

import (
	"context"

	"streamq/errors"
	"streamq/logger"
	"streamq/queue"
)

var _ queue.Handler = (*PrintHandler)(nil)

// PrintHandler logs the entry's "message" field.
type PrintHandler struct {
	logger *logger.Logger
}

func NewPrintHandler(lg *logger.Logger) *PrintHandler {
	return &PrintHandler{logger: lg}
}

func (h *PrintHandler) Handle(ctx context.Context, env queue.Envelope) (bool, error) {
	message, ok := env.Fields["message"]
	if !ok {
		return false, errors.NewValidationError("missing 'message' field", map[string]any{
			"entry_id": env.EntryID,
		})
	}

	h.logger.Message(env.StreamKey, env.EntryID, "printed: "+message)
	return true, nil
}
