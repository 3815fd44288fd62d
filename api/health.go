package api

import (
	"context"
	"net/http"
	"time"

	"streamq/logger"
	"streamq/queue"
)

var startTime = time.Now()

const healthPingTimeout = 2 * time.Second

// Pinger checks connectivity to the stream store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TypeLister reports the message types workers can route.
type TypeLister interface {
	GetRegisteredTypes() []string
}

// StateReporter reports the loop state of each running consumer.
type StateReporter interface {
	States() map[string]queue.State
}

// HealthResponse provides detailed health information
type HealthResponse struct {
	Status          string            `json:"status"`
	Timestamp       string            `json:"timestamp"`
	Uptime          string            `json:"uptime"`
	Store           string            `json:"store"`
	StoreError      string            `json:"store_error,omitempty"`
	RegisteredTypes []string          `json:"registered_types"`
	Consumers       map[string]string `json:"consumers,omitempty"`
	Version         string            `json:"version,omitempty"`
}

// NewHealthHandler returns a health check handler. types and consumers may
// be nil when the process runs no workers.
func NewHealthHandler(version string, store Pinger, types TypeLister, consumers StateReporter, lg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()

		response := HealthResponse{
			Status:          "healthy",
			Timestamp:       time.Now().UTC().Format(time.RFC3339),
			Uptime:          time.Since(startTime).String(),
			Store:           "up",
			RegisteredTypes: []string{},
			Version:         version,
		}
		status := http.StatusOK

		if err := store.Ping(ctx); err != nil {
			response.Status = "degraded"
			response.Store = "down"
			response.StoreError = err.Error()
			status = http.StatusServiceUnavailable
			lg.Warn("health check failed", map[string]any{"error": err.Error()})
		}

		if types != nil {
			response.RegisteredTypes = types.GetRegisteredTypes()
		}
		if consumers != nil {
			states := consumers.States()
			response.Consumers = make(map[string]string, len(states))
			for name, state := range states {
				response.Consumers[name] = state.String()
			}
		}

		respondWithJSON(w, status, response, lg)
	}
}
