package transport

import (
	"context"
	"sync"
)

// Mock is an in-memory Transport for tests. Outbound traffic is recorded;
// inbound traffic is injected with the Simulate helpers.
type Mock struct {
	// OpenFunc, when set, decides the outcome of Open.
	OpenFunc func(ctx context.Context, cfg Config) error

	mu           sync.Mutex
	cfg          Config
	opened       bool
	closed       bool
	eventsClosed bool
	audio        [][]byte
	texts        []string
	responses    []FunctionResponse

	events chan Event
	sent   chan struct{}
}

var _ Transport = (*Mock)(nil)

// NewMock creates an unopened mock transport.
func NewMock() *Mock {
	return &Mock{
		events: make(chan Event, 256),
		sent:   make(chan struct{}, 256),
	}
}

// Open records cfg and runs OpenFunc if set.
func (m *Mock) Open(ctx context.Context, cfg Config) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.opened {
		m.mu.Unlock()
		return ErrAlreadyOpen
	}
	m.cfg = cfg
	m.opened = true
	m.mu.Unlock()

	if m.OpenFunc != nil {
		return m.OpenFunc(ctx, cfg)
	}
	return nil
}

// SendAudio records a frame.
func (m *Mock) SendAudio(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.audio = append(m.audio, frame)
	m.notify()
	return nil
}

// SendText records a text turn.
func (m *Mock) SendText(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.texts = append(m.texts, text)
	m.notify()
	return nil
}

// SendToolResponse records a function response.
func (m *Mock) SendToolResponse(resp FunctionResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.responses = append(m.responses, resp)
	m.notify()
	return nil
}

func (m *Mock) notify() {
	select {
	case m.sent <- struct{}{}:
	default:
	}
}

// Sent signals after every recorded send.
func (m *Mock) Sent() <-chan struct{} {
	return m.sent
}

// Events returns the injected event stream.
func (m *Mock) Events() <-chan Event {
	return m.events
}

// Close marks the mock closed and ends the event stream.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.endEvents(nil)
	return nil
}

func (m *Mock) endEvents(err error) {
	if m.eventsClosed {
		return
	}
	m.eventsClosed = true
	m.events <- Event{Kind: EventClosed, Err: err}
	close(m.events)
}

func (m *Mock) inject(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.eventsClosed {
		return
	}
	m.events <- ev
}

// SimulateUserText injects a partial user transcript.
func (m *Mock) SimulateUserText(text string) {
	m.inject(Event{Kind: EventUserText, Text: text})
}

// SimulateAssistantText injects a partial assistant transcript.
func (m *Mock) SimulateAssistantText(text string) {
	m.inject(Event{Kind: EventAssistantText, Text: text})
}

// SimulateAudio injects one frame of assistant speech.
func (m *Mock) SimulateAudio(pcm []byte) {
	m.inject(Event{Kind: EventAudio, Audio: pcm})
}

// SimulateToolCall injects a function call.
func (m *Mock) SimulateToolCall(id, name string, args map[string]any) {
	m.inject(Event{Kind: EventToolCall, Call: FunctionCall{ID: id, Name: name, Args: args}})
}

// SimulateInterrupted injects a provider-side interruption.
func (m *Mock) SimulateInterrupted() {
	m.inject(Event{Kind: EventInterrupted})
}

// SimulateTurnEnd injects the end of the model's turn.
func (m *Mock) SimulateTurnEnd() {
	m.inject(Event{Kind: EventTurnEnd})
}

// SimulateDrop ends the stream as if the provider hung up.
func (m *Mock) SimulateDrop(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		err = &ConnectionError{Reason: "closed by provider", Retryable: true}
	}
	m.endEvents(err)
}

// Config returns the configuration passed to Open.
func (m *Mock) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// AudioFrames returns the recorded audio frames.
func (m *Mock) AudioFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.audio...)
}

// Texts returns the recorded text turns.
func (m *Mock) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

// ToolResponses returns the recorded function responses.
func (m *Mock) ToolResponses() []FunctionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FunctionResponse(nil), m.responses...)
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockFactory hands out Mocks and remembers them.
type MockFactory struct {
	// OpenFunc is copied into every Mock created.
	OpenFunc func(ctx context.Context, cfg Config) error

	mu      sync.Mutex
	created []*Mock
}

// New creates a Mock. It satisfies Factory.
func (f *MockFactory) New() Transport {
	m := NewMock()
	f.mu.Lock()
	m.OpenFunc = f.OpenFunc
	f.created = append(f.created, m)
	f.mu.Unlock()
	return m
}

// Created returns every Mock handed out so far.
func (f *MockFactory) Created() []*Mock {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Mock(nil), f.created...)
}

// Last returns the most recent Mock, or nil.
func (f *MockFactory) Last() *Mock {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}
