// Package hub fans session status out to dashboard websocket clients using
// the channel-based broadcast pattern.
package hub

// Message is one JSON text frame broadcast to every client.
type Message struct {
	Data []byte
}

// NewJSONMessage creates a message from pre-encoded JSON
func NewJSONMessage(data []byte) Message {
	return Message{Data: data}
}
