package protocol

import (
	"encoding/base64"
	"time"

	"github.com/teslashibe/persona-live/pkg/live"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewStartMessage creates a start request
func NewStartMessage() (*Message, error) {
	return NewMessage(TypeStart, nil)
}

// NewStopMessage creates a stop request
func NewStopMessage() (*Message, error) {
	return NewMessage(TypeStop, nil)
}

// NewTextMessage creates a typed user message
func NewTextMessage(text string) (*Message, error) {
	return NewMessage(TypeText, TextData{Text: text})
}

// NewAudioMessage creates a microphone audio message
func NewAudioMessage(pcmData []byte, sampleRate int) (*Message, error) {
	return NewMessage(TypeAudio, AudioData{
		Format:     "pcm16",
		SampleRate: sampleRate,
		Channels:   1,
		Data:       base64.StdEncoding.EncodeToString(pcmData),
	})
}

// NewStatusMessage creates a status message from a session snapshot
func NewStatusMessage(snap live.Snapshot) (*Message, error) {
	return NewMessage(TypeStatus, snap)
}

// NewTurnMessage creates a finalized turn message
func NewTurnMessage(sessionID, assistantID, user, assistant string) (*Message, error) {
	return NewMessage(TypeTurn, TurnData{
		SessionID:   sessionID,
		AssistantID: assistantID,
		User:        user,
		Assistant:   assistant,
		Timestamp:   time.Now().UTC(),
	})
}

// NewClearMessage creates a playback clear message
func NewClearMessage(reason string) (*Message, error) {
	return NewMessage(TypeClear, ClearData{Reason: reason})
}

// NewErrorMessage creates an error message
func NewErrorMessage(message string, retryable bool) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Message: message, Retryable: retryable})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetTextData extracts text data from a message
func (m *Message) GetTextData() (*TextData, error) {
	var data TextData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetAudioData extracts audio data from a message
func (m *Message) GetAudioData() (*AudioData, error) {
	var data AudioData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeAudioData decodes the base64 audio data
func (a *AudioData) DecodeAudioData() ([]byte, error) {
	return base64.StdEncoding.DecodeString(a.Data)
}

// GetStatusData extracts a session snapshot from a message
func (m *Message) GetStatusData() (*StatusData, error) {
	var data StatusData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetTurnData extracts turn data from a message
func (m *Message) GetTurnData() (*TurnData, error) {
	var data TurnData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetErrorData extracts error data from a message
func (m *Message) GetErrorData() (*ErrorData, error) {
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
