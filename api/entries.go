package api

import (
	"context"
	"net/http"

	"streamq/errors"
	"streamq/logger"

	"github.com/google/uuid"
)

const (
	maxFields      = 256
	maxFieldKeyLen = 128

	// MessageIDField is assigned to produced entries that do not carry one
	MessageIDField = "message_id"
)

// Producer appends entries to a stream.
type Producer interface {
	Add(ctx context.Context, streamKey string, fields map[string]string) (string, error)
}

// ProduceResponse is returned after an entry has been appended.
type ProduceResponse struct {
	Stream    string `json:"stream"`
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
}

// NewProduceHandler returns a handler for POST /streams/{key}/entries. The
// body is a flat JSON object of string fields.
func NewProduceHandler(producer Producer, lg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamKey := r.PathValue("key")

		var fields map[string]string
		if qErr := decodeBody(w, r, &fields); qErr != nil {
			respondWithError(w, qErr, lg)
			return
		}

		if len(fields) == 0 {
			respondWithError(w, errors.NewValidationError("entry must have at least one field"), lg)
			return
		}
		if len(fields) > maxFields {
			respondWithError(w, errors.NewValidationError("too many fields", map[string]any{
				"max_fields":    maxFields,
				"actual_fields": len(fields),
			}), lg)
			return
		}
		for k := range fields {
			if k == "" || len(k) > maxFieldKeyLen {
				respondWithError(w, errors.NewValidationError("invalid field name", map[string]any{
					"field":      k,
					"max_length": maxFieldKeyLen,
				}), lg)
				return
			}
		}

		if fields[MessageIDField] == "" {
			fields[MessageIDField] = uuid.NewString()
		}

		id, err := producer.Add(r.Context(), streamKey, fields)
		if err != nil {
			respondWithFailure(w, err, lg)
			return
		}

		lg.Message(streamKey, id, "entry produced", map[string]any{
			MessageIDField: fields[MessageIDField],
		})

		respondWithJSON(w, http.StatusCreated, ProduceResponse{
			Stream:    streamKey,
			ID:        id,
			MessageID: fields[MessageIDField],
		}, lg)
	}
}
