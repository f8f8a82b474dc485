package live

import "fmt"

// Status is the connection lifecycle state of a Session.
type Status int

const (
	// StatusIdle means no connection exists.
	StatusIdle Status = iota
	// StatusConnecting means a handshake is in progress.
	StatusConnecting
	// StatusActive means audio is flowing in both directions.
	StatusActive
	// StatusError means the last attempt failed or the connection dropped.
	StatusError
)

// String returns the wire name used by status consumers.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusConnecting:
		return "CONNECTING"
	case StatusActive:
		return "ACTIVE"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status by name in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for _, candidate := range []Status{StatusIdle, StatusConnecting, StatusActive, StatusError} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("live: unknown status %q", text)
}

// GroundingSource is a web page cited by a search-backed answer.
type GroundingSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// Snapshot is the observable surface of a Session at one instant.
type Snapshot struct {
	SessionID           string            `json:"session_id"`
	AssistantID         string            `json:"assistant_id"`
	Status              Status            `json:"status"`
	IsSpeaking          bool              `json:"is_speaking"`
	UserTranscript      string            `json:"user_transcript"`
	AssistantTranscript string            `json:"assistant_transcript"`
	GroundingSources    []GroundingSource `json:"grounding_sources"`
	Error               string            `json:"error,omitempty"`
}
