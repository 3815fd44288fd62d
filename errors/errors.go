package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// QueueErrorType categorizes failures seen by producers, consumers and the admin API
type QueueErrorType string

const (
	ConnectionError   QueueErrorType = "connection"
	ProtocolError     QueueErrorType = "protocol"
	HandlerFailure    QueueErrorType = "handler"
	FatalStartupError QueueErrorType = "fatal_startup"
	ValidationError   QueueErrorType = "validation"
	NotFoundError     QueueErrorType = "not_found"
	InternalError     QueueErrorType = "internal"
)

// QueueError provides structured error information with HTTP status suggestions
type QueueError struct {
	Type    QueueErrorType `json:"type"`
	Op      string         `json:"op,omitempty"`
	Message string         `json:"message"`
	Code    int            `json:"code"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *QueueError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Type, e.Message)
	if e.Op != "" {
		msg = fmt.Sprintf("[%s] %s: %s", e.Type, e.Op, e.Message)
	}
	if e.Err != nil && e.Err.Error() != e.Message {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *QueueError) Unwrap() error {
	return e.Err
}

// NewConnectionError wraps a transport failure against the stream store.
// Connection errors are the only transient kind.
func NewConnectionError(op string, err error) *QueueError {
	return &QueueError{
		Type:    ConnectionError,
		Op:      op,
		Message: "stream store unreachable",
		Code:    http.StatusServiceUnavailable,
		Err:     err,
	}
}

// NewProtocolError wraps an error reply from the stream store
func NewProtocolError(op string, err error) *QueueError {
	msg := "stream store rejected command"
	if err != nil {
		msg = err.Error()
	}
	return &QueueError{
		Type:    ProtocolError,
		Op:      op,
		Message: msg,
		Code:    http.StatusInternalServerError,
		Err:     err,
	}
}

func NewHandlerFailure(message string, err error) *QueueError {
	return &QueueError{
		Type:    HandlerFailure,
		Message: message,
		Code:    http.StatusUnprocessableEntity,
		Err:     err,
	}
}

func NewFatalStartupError(message string, err error) *QueueError {
	return &QueueError{
		Type:    FatalStartupError,
		Message: message,
		Code:    http.StatusServiceUnavailable,
		Err:     err,
	}
}

func NewValidationError(message string, details ...map[string]any) *QueueError {
	var d map[string]any
	if len(details) > 0 {
		d = details[0]
	}
	return &QueueError{
		Type:    ValidationError,
		Message: message,
		Code:    http.StatusBadRequest,
		Details: d,
	}
}

func NewNotFoundError(message string) *QueueError {
	return &QueueError{
		Type:    NotFoundError,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

func NewInternalError(message string) *QueueError {
	return &QueueError{
		Type:    InternalError,
		Message: message,
		Code:    http.StatusInternalServerError,
	}
}

// IsQueueError checks if an error chain contains a QueueError and returns it
func IsQueueError(err error) (*QueueError, bool) {
	var queueErr *QueueError
	if stderrors.As(err, &queueErr) {
		return queueErr, true
	}
	return nil, false
}

// IsType reports whether err carries a QueueError of the given type
func IsType(err error, t QueueErrorType) bool {
	queueErr, ok := IsQueueError(err)
	return ok && queueErr.Type == t
}

// IsTransient reports whether retrying the failed operation may succeed
func IsTransient(err error) bool {
	return IsType(err, ConnectionError)
}
