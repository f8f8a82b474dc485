package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// GeminiLiveURL is the Gemini Live API websocket endpoint.
	GeminiLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// DefaultVoice is used when Config.Voice is empty.
	DefaultVoice = "Zephyr"

	inputMimeType       = "audio/pcm;rate=16000"
	defaultSetupTimeout = 15 * time.Second
	writeTimeout        = 10 * time.Second
	eventBuffer         = 256
)

// GeminiOption configures a Gemini transport.
type GeminiOption func(*Gemini)

// WithEndpoint overrides the websocket endpoint (tests, regional hosts).
func WithEndpoint(endpoint string) GeminiOption {
	return func(g *Gemini) {
		g.endpoint = endpoint
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) GeminiOption {
	return func(g *Gemini) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithSetupTimeout bounds how long Open waits for setupComplete.
func WithSetupTimeout(d time.Duration) GeminiOption {
	return func(g *Gemini) {
		if d > 0 {
			g.setupTimeout = d
		}
	}
}

// Gemini implements Transport over the Gemini Live API.
type Gemini struct {
	endpoint     string
	logger       *slog.Logger
	setupTimeout time.Duration
	dialer       websocket.Dialer

	// WebSocket connection; wsMu serializes writes.
	ws   *websocket.Conn
	wsMu sync.Mutex

	mu      sync.Mutex
	opened  bool
	ready   bool
	closed  bool
	reading bool
	pending []clientMessage

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

var _ Transport = (*Gemini)(nil)

// NewGemini creates an unopened Gemini Live transport.
func NewGemini(opts ...GeminiOption) *Gemini {
	g := &Gemini{
		endpoint:     GeminiLiveURL,
		logger:       slog.Default(),
		setupTimeout: defaultSetupTimeout,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GeminiFactory returns a Factory producing Gemini transports with opts.
func GeminiFactory(opts ...GeminiOption) Factory {
	return func() Transport {
		return NewGemini(opts...)
	}
}

// Open dials the provider, sends setup and waits for setupComplete.
// Frames queued by earlier Send calls are flushed in order once ready.
func (g *Gemini) Open(ctx context.Context, cfg Config) error {
	if cfg.Model == "" {
		return ErrMissingModel
	}
	if cfg.APIKey == "" && cfg.TokenSource == nil {
		return ErrMissingCredentials
	}

	g.mu.Lock()
	switch {
	case g.closed:
		g.mu.Unlock()
		return ErrClosed
	case g.opened:
		g.mu.Unlock()
		return ErrAlreadyOpen
	}
	g.opened = true
	g.mu.Unlock()

	endpoint, header, err := g.authorize(cfg)
	if err != nil {
		g.Close()
		return err
	}

	ws, resp, err := g.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		g.Close()
		return dialError(err, resp)
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		ws.Close()
		return ErrClosed
	}
	g.ws = ws
	g.reading = true
	g.mu.Unlock()

	if err := g.write(clientMessage{Setup: buildSetup(cfg)}); err != nil {
		g.Close()
		return &ConnectionError{Reason: "send setup", Cause: err, Retryable: true}
	}

	ready := make(chan struct{})
	failed := make(chan error, 1)
	go g.readLoop(ready, failed)

	timer := time.NewTimer(g.setupTimeout)
	defer timer.Stop()

	select {
	case <-ready:
	case err := <-failed:
		g.Close()
		return err
	case <-timer.C:
		g.Close()
		return ErrSetupTimeout
	case <-ctx.Done():
		g.Close()
		return ctx.Err()
	case <-g.done:
		return ErrClosed
	}

	return g.flushPending()
}

func (g *Gemini) authorize(cfg Config) (string, http.Header, error) {
	u, err := url.Parse(g.endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("transport: bad endpoint: %w", err)
	}
	header := make(http.Header)

	if cfg.TokenSource != nil {
		tok, err := cfg.TokenSource.Token()
		if err != nil {
			return "", nil, &ConnectionError{Reason: "fetch oauth token", Cause: err, Retryable: true}
		}
		tok.SetAuthHeader(&http.Request{Header: header})
	} else {
		q := u.Query()
		q.Set("key", cfg.APIKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), header, nil
}

func buildSetup(cfg Config) *setupMessage {
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}

	setup := &setupMessage{
		Model: cfg.Model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &speechConfig{
				VoiceConfig: voiceConfig{
					PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice},
				},
			},
		},
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}
	if cfg.SystemInstruction != "" {
		setup.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemInstruction}}}
	}
	if len(cfg.Tools) > 0 {
		setup.Tools = []toolSet{{FunctionDeclarations: cfg.Tools}}
	}
	return setup
}

func (g *Gemini) flushPending() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	for _, msg := range g.pending {
		if err := g.write(msg); err != nil {
			return &ConnectionError{Reason: "flush queued input", Cause: err, Retryable: true}
		}
	}
	if n := len(g.pending); n > 0 {
		g.logger.Debug("flushed queued input", "count", n)
	}
	g.pending = nil
	g.ready = true
	return nil
}

// SendAudio sends a PCM16 16kHz mono frame.
func (g *Gemini) SendAudio(frame []byte) error {
	return g.send(clientMessage{RealtimeInput: &realtimeInput{Audio: &blob{
		MimeType: inputMimeType,
		Data:     base64.StdEncoding.EncodeToString(frame),
	}}})
}

// SendText sends a complete user text turn.
func (g *Gemini) SendText(text string) error {
	return g.send(clientMessage{ClientContent: &clientContent{
		Turns:        []content{{Role: "user", Parts: []part{{Text: text}}}},
		TurnComplete: true,
	}})
}

// SendToolResponse returns a function result to the model.
func (g *Gemini) SendToolResponse(resp FunctionResponse) error {
	return g.send(clientMessage{ToolResponse: &toolResponseMessage{
		FunctionResponses: []FunctionResponse{resp},
	}})
}

func (g *Gemini) send(msg clientMessage) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	if !g.ready {
		g.pending = append(g.pending, msg)
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	if err := g.write(msg); err != nil {
		return &ConnectionError{Reason: "send", Cause: err, Retryable: true}
	}
	return nil
}

func (g *Gemini) write(msg clientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	g.wsMu.Lock()
	defer g.wsMu.Unlock()

	g.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return g.ws.WriteMessage(websocket.TextMessage, data)
}

// Events returns the inbound event stream.
func (g *Gemini) Events() <-chan Event {
	return g.events
}

// Close shuts the connection. Safe to call multiple times and concurrently
// with Open.
func (g *Gemini) Close() error {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		g.closed = true
		g.pending = nil
		ws := g.ws
		reading := g.reading
		close(g.done)
		g.mu.Unlock()

		if ws != nil {
			g.wsMu.Lock()
			ws.SetWriteDeadline(time.Now().Add(time.Second))
			ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			g.wsMu.Unlock()
			ws.Close()
		}
		if !reading {
			g.events <- Event{Kind: EventClosed}
			close(g.events)
		}
	})
	return nil
}

// readLoop owns the events channel once the socket is up.
func (g *Gemini) readLoop(ready chan<- struct{}, failed chan<- error) {
	defer close(g.events)

	isReady := false
	for {
		_, data, err := g.ws.ReadMessage()
		if err != nil {
			if !isReady {
				failed <- closeError(err)
			}
			g.finish(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			g.logger.Warn("gemini: unparseable message", "error", err, "bytes", len(data))
			continue
		}

		if msg.SetupComplete != nil {
			if !isReady {
				isReady = true
				close(ready)
				g.logger.Debug("gemini: setup complete")
			}
			continue
		}
		if !isReady {
			g.logger.Debug("gemini: message before setup complete ignored")
			continue
		}
		g.dispatch(&msg)
	}
}

func (g *Gemini) finish(readErr error) {
	g.mu.Lock()
	local := g.closed
	g.mu.Unlock()

	ev := Event{Kind: EventClosed}
	if !local {
		ev.Err = closeError(readErr)
		g.logger.Warn("gemini: connection lost", "error", ev.Err)
	}
	select {
	case g.events <- ev:
	case <-g.done:
	}
}

func (g *Gemini) dispatch(msg *serverMessage) {
	switch {
	case msg.ServerContent != nil:
		g.handleServerContent(msg.ServerContent)
	case msg.ToolCall != nil:
		for _, fc := range msg.ToolCall.FunctionCalls {
			id := fc.ID
			if id == "" {
				id = uuid.NewString()
			}
			g.emit(Event{Kind: EventToolCall, Call: FunctionCall{ID: id, Name: fc.Name, Args: fc.Args}})
		}
	case msg.ToolCallCancellation != nil:
		g.logger.Info("gemini: tool calls cancelled", "ids", msg.ToolCallCancellation.IDs)
	case msg.GoAway != nil:
		g.logger.Warn("gemini: server going away", "time_left", msg.GoAway.TimeLeft)
	}
}

func (g *Gemini) handleServerContent(sc *serverContent) {
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		g.emit(Event{Kind: EventUserText, Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		g.emit(Event{Kind: EventAssistantText, Text: sc.OutputTranscription.Text})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				g.emit(Event{Kind: EventError, Err: fmt.Errorf("transport: decode audio: %w", err)})
				continue
			}
			g.emit(Event{Kind: EventAudio, Audio: pcm})
		}
	}
	if sc.Interrupted {
		g.emit(Event{Kind: EventInterrupted})
	}
	if sc.TurnComplete {
		g.emit(Event{Kind: EventTurnEnd})
	}
}

func (g *Gemini) emit(ev Event) {
	select {
	case g.events <- ev:
	case <-g.done:
	}
}

func dialError(err error, resp *http.Response) error {
	if resp == nil {
		return &ConnectionError{Reason: "dial", Cause: err, Retryable: true}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("handshake rejected: %s", resp.Status)}
}

// IsHandshakeRejection reports whether err means the provider refused the
// session outright (bad key, unknown model).
func IsHandshakeRejection(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && !apiErr.IsRetryable()
}
