package transport

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

// Sentinel errors for the transport package.
var (
	// ErrMissingCredentials indicates neither an API key nor a token source was given.
	ErrMissingCredentials = errors.New("transport: API key or token source is required")

	// ErrMissingModel indicates the model was not provided.
	ErrMissingModel = errors.New("transport: model is required")

	// ErrAlreadyOpen indicates Open was called twice.
	ErrAlreadyOpen = errors.New("transport: already open")

	// ErrClosed indicates the transport has been closed.
	ErrClosed = errors.New("transport: closed")

	// ErrSetupTimeout indicates the provider never acknowledged setup.
	ErrSetupTimeout = errors.New("transport: setup not acknowledged")
)

// APIError is a provider-side rejection, usually carried in a close frame.
type APIError struct {
	// Code is the websocket close code, or 0 when unknown.
	Code int

	// StatusCode is the HTTP status of a rejected upgrade, or 0.
	StatusCode int

	// Message is the provider's reason text.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transport: API error (close %d): %s", e.Code, e.Message)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: API error (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transport: API error: %s", e.Message)
}

// IsRetryable reports whether the same request may succeed later.
// Policy violations (1008) cover bad keys and unknown models.
func (e *APIError) IsRetryable() bool {
	if e.StatusCode != 0 {
		return e.StatusCode == 429 || e.StatusCode >= 500
	}
	switch e.Code {
	case websocket.ClosePolicyViolation, websocket.CloseUnsupportedData, websocket.CloseInvalidFramePayloadData:
		return false
	default:
		return true
	}
}

// ConnectionError represents a websocket connection failure.
type ConnectionError struct {
	// Reason describes why the connection failed.
	Reason string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if reconnection may succeed.
	Retryable bool
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport: connection error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("transport: connection error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true if reconnection may succeed.
func (e *ConnectionError) IsRetryable() bool {
	return e.Retryable
}

// IsRetryable returns true if err describes a condition that may clear on retry.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.IsRetryable()
	}
	return errors.Is(err, ErrSetupTimeout)
}

// closeError converts a read failure into the error reported with EventClosed.
func closeError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == websocket.CloseNormalClosure {
			return &ConnectionError{Reason: "closed by provider", Cause: err, Retryable: true}
		}
		return &APIError{Code: ce.Code, Message: ce.Text}
	}
	return &ConnectionError{Reason: "read failed", Cause: err, Retryable: true}
}
