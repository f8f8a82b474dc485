package live

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
)

// DefaultModel is the Gemini Live model used when Config.Model is empty.
const DefaultModel = "models/gemini-2.0-flash-live-001"

// DefaultHandshakeTimeout bounds Start when Config.HandshakeTimeout is zero.
const DefaultHandshakeTimeout = 15 * time.Second

// Voice is a prebuilt Gemini voice.
type Voice string

// Prebuilt voices offered to personas.
const (
	VoiceZephyr Voice = "Zephyr"
	VoicePuck   Voice = "Puck"
	VoiceCharon Voice = "Charon"
	VoiceKore   Voice = "Kore"
	VoiceFenrir Voice = "Fenrir"
	VoiceLeda   Voice = "Leda"
	VoiceOrus   Voice = "Orus"
	VoiceAoede  Voice = "Aoede"
)

// DefaultVoice is used when a persona does not pick one.
const DefaultVoice = VoiceZephyr

// Voices lists every supported voice.
var Voices = []Voice{VoiceZephyr, VoicePuck, VoiceCharon, VoiceKore, VoiceFenrir, VoiceLeda, VoiceOrus, VoiceAoede}

// Valid reports whether v is a supported voice.
func (v Voice) Valid() bool {
	for _, known := range Voices {
		if v == known {
			return true
		}
	}
	return false
}

// MemoryWriter persists a fact the model chose to remember.
type MemoryWriter interface {
	Write(ctx context.Context, content string) error
}

// MemoryWriterFunc adapts a function to MemoryWriter.
type MemoryWriterFunc func(ctx context.Context, content string) error

// Write calls f.
func (f MemoryWriterFunc) Write(ctx context.Context, content string) error {
	return f(ctx, content)
}

// SearchResult is the answer to a web_search call.
type SearchResult struct {
	Summary string
	Sources []GroundingSource
}

// Searcher answers web_search calls.
type Searcher interface {
	Search(ctx context.Context, query string) (SearchResult, error)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, query string) (SearchResult, error)

// Search calls f.
func (f SearcherFunc) Search(ctx context.Context, query string) (SearchResult, error) {
	return f(ctx, query)
}

// TurnHandler receives each finalized turn.
type TurnHandler func(userText, assistantText string)

// Config is fixed for the lifetime of a Session.
type Config struct {
	// AssistantID identifies the persona this session speaks as.
	AssistantID string

	// Model is the Gemini Live model. Default: DefaultModel.
	Model string

	// Voice is the prebuilt voice. Default: VoiceZephyr.
	Voice Voice

	// SystemInstruction is sent once per connection.
	SystemInstruction string

	// Instructions, when set, is called on every Start and replaces
	// SystemInstruction, so memories saved in an earlier connection are
	// visible to the next one.
	Instructions func(ctx context.Context) string

	// APIKey authenticates the connection unless TokenSource is set.
	APIKey string

	// TokenSource supplies OAuth2 tokens (Application Default Credentials).
	TokenSource oauth2.TokenSource

	// Memory receives save_to_memory calls. Nil discards them.
	Memory MemoryWriter

	// Search answers web_search calls. Nil makes every search fail softly.
	Search Searcher

	// OnTurnComplete is called once per non-empty finalized turn.
	OnTurnComplete TurnHandler

	// Observer receives lifecycle and latency signals.
	Observer Observer

	// Logger for session diagnostics. Default: slog.Default().
	Logger *slog.Logger

	// BargeInThreshold is the RMS energy that counts as user speech.
	BargeInThreshold float64

	// HandshakeTimeout bounds connection setup.
	HandshakeTimeout time.Duration
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if c.APIKey == "" && c.TokenSource == nil {
		return ErrMissingAPIKey
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if !c.Voice.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownVoice, c.Voice)
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Observer == nil {
		c.Observer = NopObserver{}
	}
	return nil
}
