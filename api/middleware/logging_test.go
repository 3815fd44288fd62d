package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"streamq/logger"

	"github.com/stretchr/testify/require"
	"gotest.tools/v3/assert"
)

type logLine struct {
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields"`
}

func serve(t *testing.T, handler http.HandlerFunc, requestID string) (*httptest.ResponseRecorder, logLine) {
	t.Helper()

	var buf bytes.Buffer
	lg := logger.New("INFO", &buf)

	req := httptest.NewRequest(http.MethodPost, "/streams/jobs/entries", nil)
	req.Header.Set("User-Agent", "streamq-test")
	if requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}
	rr := httptest.NewRecorder()

	LoggingMiddleware(lg)(handler).ServeHTTP(rr, req)

	var line logLine
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &line))
	return rr, line
}

func TestLoggingMiddleware_Status(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
		wantSize   int
	}{
		{
			name: "explicit status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
			},
			wantStatus: http.StatusCreated,
		},
		{
			name: "implicit ok",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("ok"))
			},
			wantStatus: http.StatusOK,
			wantSize:   2,
		},
		{
			name: "error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("down"))
			},
			wantStatus: http.StatusServiceUnavailable,
			wantSize:   4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, line := serve(t, tt.handler, "")

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, "HTTP request completed", line.Message)
			assert.Equal(t, "POST", line.Fields["http_method"])
			assert.Equal(t, "/streams/jobs/entries", line.Fields["http_path"])
			assert.Equal(t, float64(tt.wantStatus), line.Fields["http_status"])
			assert.Equal(t, float64(tt.wantSize), line.Fields["response_size"])
			assert.Equal(t, "streamq-test", line.Fields["user_agent"])
		})
	}
}

func TestLoggingMiddleware_RequestID(t *testing.T) {
	noop := func(w http.ResponseWriter, r *http.Request) {}

	t.Run("generated", func(t *testing.T) {
		rr, line := serve(t, noop, "")

		id := rr.Header().Get(RequestIDHeader)
		assert.Assert(t, id != "")
		assert.Equal(t, id, line.Fields["request_id"])
	})

	t.Run("propagated", func(t *testing.T) {
		rr, line := serve(t, noop, "req-42")

		assert.Equal(t, "req-42", rr.Header().Get(RequestIDHeader))
		assert.Equal(t, "req-42", line.Fields["request_id"])
	})
}

func TestStatusRecorder_Unwrap(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := newStatusRecorder(rr)

	assert.Equal(t, http.ResponseWriter(rr), rec.Unwrap())
	assert.Equal(t, http.StatusOK, rec.status)
}
