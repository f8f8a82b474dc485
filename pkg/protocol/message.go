// Package protocol defines the WebSocket messages exchanged between the
// gateway and browser clients.
//
// PCM audio normally travels as binary frames (16kHz mono PCM16 upstream,
// 24kHz mono PCM16 downstream). Every other message is a JSON envelope.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/persona-live/pkg/live"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Browser → Gateway messages
	TypeStart MessageType = "start" // Open the live session
	TypeStop  MessageType = "stop"  // Close the live session
	TypeText  MessageType = "text"  // Typed user message
	TypeAudio MessageType = "audio" // Base64 microphone audio for clients without binary frames

	// Gateway → Browser messages
	TypeStatus MessageType = "status" // Session snapshot
	TypeTurn   MessageType = "turn"   // Finalized turn
	TypeClear  MessageType = "clear"  // Drop buffered playback
	TypeError  MessageType = "error"  // Request failed

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Browser → Gateway Message Types
// =============================================================================

// TextData carries a typed user message
type TextData struct {
	Text string `json:"text"`
}

// AudioData carries microphone audio inside a JSON envelope
type AudioData struct {
	Format     string `json:"format"`      // "pcm16"
	SampleRate int    `json:"sample_rate"` // e.g., 16000
	Channels   int    `json:"channels"`    // 1 for mono
	Data       string `json:"data"`        // base64 encoded
}

// =============================================================================
// Gateway → Browser Message Types
// =============================================================================

// StatusData is a session snapshot
type StatusData = live.Snapshot

// TurnData is one finalized exchange
type TurnData struct {
	SessionID   string    `json:"session_id"`
	AssistantID string    `json:"assistant_id"`
	User        string    `json:"user"`
	Assistant   string    `json:"assistant"`
	Timestamp   time.Time `json:"timestamp"`
}

// ClearData tells the client to discard queued playback
type ClearData struct {
	Reason string `json:"reason"` // "barge_in", "interrupted", "stopped"
}

// ErrorData describes a failed request
type ErrorData struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
