package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"streamq/errors"
	"streamq/logger"
)

const maxBodySize = 1024 * 1024 // 1 MB

// ErrorResponse defines the JSON structure for error responses
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    string         `json:"type,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// respondWithJSON writes v with the given status code
func respondWithJSON(w http.ResponseWriter, status int, v any, lg *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// headers are already written, nothing left to send
		lg.Error("failed to encode response", map[string]any{
			"error":       err.Error(),
			"status_code": status,
		})
	}
}

// respondWithError sends a structured error response
func respondWithError(w http.ResponseWriter, queueErr *errors.QueueError, lg *logger.Logger) {
	fields := map[string]any{
		"error_type":    string(queueErr.Type),
		"error_message": queueErr.Message,
		"status_code":   queueErr.Code,
	}
	if queueErr.Op != "" {
		fields["op"] = queueErr.Op
	}
	if queueErr.Details != nil {
		fields["error_details"] = queueErr.Details
	}
	if queueErr.Err != nil {
		fields["cause"] = queueErr.Err.Error()
	}
	lg.Error("HTTP error response", fields)

	respondWithJSON(w, queueErr.Code, ErrorResponse{
		Error:   queueErr.Message,
		Type:    string(queueErr.Type),
		Details: queueErr.Details,
	}, lg)
}

// respondWithFailure maps any error onto a structured error response
func respondWithFailure(w http.ResponseWriter, err error, lg *logger.Logger) {
	if queueErr, ok := errors.IsQueueError(err); ok {
		respondWithError(w, queueErr, lg)
		return
	}
	respondWithError(w, errors.NewInternalError(err.Error()), lg)
}

// decodeBody decodes a size-limited JSON request body into v
func decodeBody(w http.ResponseWriter, r *http.Request, v any) *errors.QueueError {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return errors.NewValidationError("request body too large", map[string]any{
				"max_size_bytes": maxBodySize,
			})
		}
		return errors.NewValidationError("invalid JSON payload", map[string]any{
			"error": err.Error(),
		})
	}
	return nil
}
