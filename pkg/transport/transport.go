// Package transport carries a live conversational session to the model
// provider: microphone audio and typed text go up, transcripts, synthesized
// audio, tool calls and turn boundaries come back as one ordered event stream.
package transport

import (
	"context"
	"encoding/json"

	"golang.org/x/oauth2"
)

// EventKind identifies an inbound event.
type EventKind int

const (
	// EventUserText carries a partial transcript of the user's speech.
	EventUserText EventKind = iota + 1
	// EventAssistantText carries a partial transcript of the assistant's reply.
	EventAssistantText
	// EventAudio carries one frame of assistant speech (PCM16, 24kHz mono).
	EventAudio
	// EventToolCall carries one function call requested by the model.
	EventToolCall
	// EventTurnEnd marks the end of the model's turn.
	EventTurnEnd
	// EventInterrupted reports that the provider cut off the model's reply.
	EventInterrupted
	// EventError reports a non-fatal provider error.
	EventError
	// EventClosed is always the last event. Err is nil after a local Close.
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventUserText:
		return "user_text"
	case EventAssistantText:
		return "assistant_text"
	case EventAudio:
		return "audio"
	case EventToolCall:
		return "tool_call"
	case EventTurnEnd:
		return "turn_end"
	case EventInterrupted:
		return "interrupted"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one inbound occurrence, delivered in wire order.
type Event struct {
	Kind  EventKind
	Text  string
	Audio []byte
	Call  FunctionCall
	Err   error
}

// FunctionCall is a model-initiated tool invocation.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// FunctionResponse answers exactly one FunctionCall.
type FunctionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// FunctionDeclaration describes a tool the model may call. Parameters is a
// JSON schema object.
type FunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Config is fixed when the transport opens.
type Config struct {
	// Model is the provider model name, e.g. "models/gemini-2.0-flash-live-001".
	Model string

	// Voice is the prebuilt voice used for synthesized speech.
	Voice string

	// SystemInstruction is sent once in the setup message.
	SystemInstruction string

	// Tools are the function declarations offered to the model.
	Tools []FunctionDeclaration

	// APIKey authenticates the connection. Ignored when TokenSource is set.
	APIKey string

	// TokenSource supplies OAuth2 bearer tokens instead of an API key.
	TokenSource oauth2.TokenSource
}

// Transport is one live connection. Implementations must be safe for
// concurrent use.
type Transport interface {
	// Open connects and blocks until the provider acknowledges setup.
	Open(ctx context.Context, cfg Config) error

	// SendAudio sends one PCM16 16kHz mono frame.
	SendAudio(frame []byte) error

	// SendText sends a complete typed user turn.
	SendText(text string) error

	// SendToolResponse answers a function call.
	SendToolResponse(resp FunctionResponse) error

	// Events returns the inbound event stream. It is closed after EventClosed.
	Events() <-chan Event

	// Close tears the connection down. It is idempotent.
	Close() error
}

// Factory creates a fresh, unopened Transport.
type Factory func() Transport
