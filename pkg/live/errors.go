package live

import (
	"errors"
	"fmt"

	"github.com/teslashibe/persona-live/pkg/transport"
)

// Sentinel errors for the live package.
var (
	// ErrMissingAPIKey indicates neither an API key nor a token source was configured.
	ErrMissingAPIKey = errors.New("live: API key is required")

	// ErrUnknownVoice indicates the configured voice is not a prebuilt voice.
	ErrUnknownVoice = errors.New("live: unknown voice")

	// ErrMissingDependency indicates a nil transport factory, source or sink.
	ErrMissingDependency = errors.New("live: transport factory, audio source and audio sink are required")

	// ErrNotActive indicates an operation that needs an ACTIVE session.
	ErrNotActive = errors.New("live: session is not active")

	// ErrStartAborted indicates Stop was called while Start was handshaking.
	ErrStartAborted = errors.New("live: start aborted by stop")

	// ErrTransportDropped indicates the provider connection closed unexpectedly.
	ErrTransportDropped = errors.New("live: connection lost")

	// ErrToolCall indicates a tool collaborator failed. It is logged, never surfaced.
	ErrToolCall = errors.New("live: tool call failed")
)

// Human-readable messages placed in Snapshot.Error.
const (
	msgHandshakeFailed    = "Could not connect to the assistant. Please try again."
	msgHandshakeRejected  = "The assistant service rejected the connection. Check the API key and model."
	msgTransportDropped   = "The connection to the assistant was lost. Press start to reconnect."
	msgAudioDeviceFailure = "Microphone or speaker is unavailable. Check your audio device permissions."
)

// HandshakeError is returned by Start when the connection could not be
// established.
type HandshakeError struct {
	Cause error
}

// Error implements the error interface.
func (e *HandshakeError) Error() string {
	return fmt.Sprintf("live: handshake failed: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *HandshakeError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether trying again may succeed.
func (e *HandshakeError) IsRetryable() bool {
	return !transport.IsHandshakeRejection(e.Cause)
}

// Message returns the text shown to the user.
func (e *HandshakeError) Message() string {
	if e.IsRetryable() {
		return msgHandshakeFailed
	}
	return msgHandshakeRejected
}

// AudioDeviceError reports a microphone or speaker failure. The session
// stays ACTIVE; the error is surfaced through Snapshot.Error.
type AudioDeviceError struct {
	Cause error
}

// Error implements the error interface.
func (e *AudioDeviceError) Error() string {
	return fmt.Sprintf("live: audio device: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *AudioDeviceError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether err describes a condition that may clear on retry.
func IsRetryable(err error) bool {
	var he *HandshakeError
	if errors.As(err, &he) {
		return he.IsRetryable()
	}
	return errors.Is(err, ErrTransportDropped) || transport.IsRetryable(err)
}
