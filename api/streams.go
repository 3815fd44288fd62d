package api

import (
	"context"
	"math"
	"net/http"
	"time"

	"streamq/errors"
	"streamq/logger"
	"streamq/queue"
)

// StreamAdmin is the slice of the queue used for stream maintenance.
type StreamAdmin interface {
	Info(ctx context.Context, streamKey, group string) (*queue.Info, error)
	Trim(ctx context.Context, streamKey string, maxLen int64) (int64, error)
	ClaimPending(ctx context.Context, streamKey, group, consumerName string, idle time.Duration) (int, error)
}

type trimRequest struct {
	MaxLen *int64 `json:"max_len"`
}

// TrimResponse reports how many entries a trim removed.
type TrimResponse struct {
	Stream  string `json:"stream"`
	Trimmed int64  `json:"trimmed"`
}

// maxIdleMs keeps idle_ms representable as a time.Duration.
const maxIdleMs = math.MaxInt64 / int64(time.Millisecond)

type claimRequest struct {
	Group    string `json:"group"`
	Consumer string `json:"consumer"`
	IdleMs   int64  `json:"idle_ms"`
}

// ClaimResponse reports how many pending entries changed owner.
type ClaimResponse struct {
	Stream   string `json:"stream"`
	Group    string `json:"group"`
	Consumer string `json:"consumer"`
	Claimed  int    `json:"claimed"`
}

// NewInfoHandler returns a handler for GET /streams/{key}. The optional
// group query parameter adds pending counts for that group.
func NewInfoHandler(admin StreamAdmin, lg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamKey := r.PathValue("key")
		group := r.URL.Query().Get("group")

		info, err := admin.Info(r.Context(), streamKey, group)
		if err != nil {
			respondWithFailure(w, err, lg)
			return
		}

		respondWithJSON(w, http.StatusOK, info, lg)
	}
}

// NewTrimHandler returns a handler for POST /streams/{key}/trim.
func NewTrimHandler(admin StreamAdmin, lg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamKey := r.PathValue("key")

		var req trimRequest
		if qErr := decodeBody(w, r, &req); qErr != nil {
			respondWithError(w, qErr, lg)
			return
		}
		if req.MaxLen == nil {
			respondWithError(w, errors.NewValidationError("max_len is required"), lg)
			return
		}

		trimmed, err := admin.Trim(r.Context(), streamKey, *req.MaxLen)
		if err != nil {
			respondWithFailure(w, err, lg)
			return
		}

		respondWithJSON(w, http.StatusOK, TrimResponse{Stream: streamKey, Trimmed: trimmed}, lg)
	}
}

// NewClaimHandler returns a handler for POST /streams/{key}/claim.
func NewClaimHandler(admin StreamAdmin, lg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamKey := r.PathValue("key")

		var req claimRequest
		if qErr := decodeBody(w, r, &req); qErr != nil {
			respondWithError(w, qErr, lg)
			return
		}
		if req.Group == "" || req.Consumer == "" {
			respondWithError(w, errors.NewValidationError("group and consumer are required"), lg)
			return
		}
		if req.IdleMs < 0 || req.IdleMs > maxIdleMs {
			respondWithError(w, errors.NewValidationError("idle_ms out of range", map[string]any{
				"idle_ms": req.IdleMs,
				"min":     0,
				"max":     maxIdleMs,
			}), lg)
			return
		}

		claimed, err := admin.ClaimPending(r.Context(), streamKey, req.Group, req.Consumer,
			time.Duration(req.IdleMs)*time.Millisecond)
		if err != nil {
			respondWithFailure(w, err, lg)
			return
		}

		respondWithJSON(w, http.StatusOK, ClaimResponse{
			Stream:   streamKey,
			Group:    req.Group,
			Consumer: req.Consumer,
			Claimed:  claimed,
		}, lg)
	}
}
