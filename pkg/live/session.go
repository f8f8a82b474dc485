// Package live runs a duplex conversational session with a hosted
// multimodal model.
//
// A Session owns one provider connection at a time. Microphone frames flow
// up through a transport.Transport while transcripts, synthesized speech and
// tool calls flow back. Inbound traffic is consumed by a single goroutine per
// connection, so turn state, grounding sources and status change in one
// place. Callers drive the session with Start and Stop and observe it through
// Snapshot or Subscribe.
//
// Lifecycle:
//
//	IDLE ──Start──▶ CONNECTING ──setup ok──▶ ACTIVE ──Stop──▶ IDLE
//	                     │                     │
//	                  failure             connection lost
//	                     ▼                     ▼
//	                   ERROR ◀─────────────────┘   (Start retries, Stop resets)
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/persona-live/pkg/audioio"
	"github.com/teslashibe/persona-live/pkg/transport"
)

// inboxItem is work posted to the event loop from other goroutines.
type inboxItem struct {
	result *ToolResult
	typed  string
}

// run is one connection attempt and everything bound to it.
type run struct {
	ctx       context.Context
	cancel    context.CancelFunc
	tr        transport.Transport
	inbox     chan inboxItem
	done      chan struct{}
	startedAt time.Time
	looping   bool

	// hookMu guards inHook, set while the loop runs a caller hook.
	// hookEntered wakes a teardown waiting for the loop to exit.
	hookMu      sync.Mutex
	inHook      bool
	hookEntered chan struct{}
}

// hook runs fn on the loop goroutine, marking the loop as inside caller
// code so that a Stop issued from fn does not wait on the loop itself.
func (r *run) hook(fn func()) {
	r.hookMu.Lock()
	r.inHook = true
	r.hookMu.Unlock()
	select {
	case r.hookEntered <- struct{}{}:
	default:
	}

	defer func() {
		r.hookMu.Lock()
		r.inHook = false
		r.hookMu.Unlock()
	}()
	fn()
}

// wait blocks until the loop exits or is found running a hook. In the
// latter case the loop exits as soon as the hook returns.
func (r *run) wait() {
	for {
		r.hookMu.Lock()
		in := r.inHook
		r.hookMu.Unlock()
		if in {
			return
		}
		select {
		case <-r.done:
			return
		case <-r.hookEntered:
		}
	}
}

// Session is a live conversational session for one assistant.
type Session struct {
	id           string
	cfg          Config
	logger       *slog.Logger
	newTransport transport.Factory
	capture      *audioio.Capture
	player       *audioio.Player
	dispatcher   *Dispatcher
	metrics      *MetricsCollector

	// lifecycle serializes device startup and teardown across Start, Stop
	// and connection-loss handling. It is never held across a handshake.
	lifecycle sync.Mutex

	mu      sync.Mutex
	status  Status
	errMsg  string
	turn    turn
	sources []GroundingSource
	run     *run

	subsMu  sync.Mutex
	subs    map[uint64]chan Snapshot
	nextSub uint64
	closed  bool
}

// New creates an idle session. newTransport is called once per Start; mic
// and speaker are reused across connections.
func New(cfg Config, newTransport transport.Factory, mic audioio.Source, speaker audioio.Sink) (*Session, error) {
	if newTransport == nil || mic == nil || speaker == nil {
		return nil, ErrMissingDependency
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		id:           uuid.NewString(),
		cfg:          cfg,
		newTransport: newTransport,
		metrics:      NewMetricsCollector(),
		subs:         make(map[uint64]chan Snapshot),
	}
	s.logger = cfg.Logger.With("session_id", s.id, "assistant_id", cfg.AssistantID)
	s.dispatcher = NewDispatcher(cfg.Memory, cfg.Search, s.logger)
	s.player = audioio.NewPlayer(speaker, s.logger,
		audioio.WithSpeakingHandler(func(bool) { s.publish() }),
	)
	s.capture = audioio.NewCapture(mic, s.logger,
		audioio.WithActivityThreshold(cfg.BargeInThreshold),
		audioio.WithActivityHandler(s.onUserActivity),
		audioio.WithCaptureErrorHandler(s.onAudioError),
	)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// AssistantID returns the assistant this session speaks as.
func (s *Session) AssistantID() string {
	return s.cfg.AssistantID
}

// Start connects to the provider and begins streaming. It is a no-op while
// CONNECTING or ACTIVE. On failure the session enters ERROR and the returned
// error is a *HandshakeError.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	s.mu.Lock()
	if s.status == StatusConnecting || s.status == StatusActive {
		s.mu.Unlock()
		s.lifecycle.Unlock()
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		ctx:    runCtx,
		cancel: cancel,
		tr:     s.newTransport(),
		inbox:  make(chan inboxItem, 16),
		done:   make(chan struct{}),

		hookEntered: make(chan struct{}, 1),
	}
	s.run = r
	s.status = StatusConnecting
	s.errMsg = ""
	s.turn = turn{}
	s.sources = nil
	s.mu.Unlock()
	s.lifecycle.Unlock()

	s.publish()
	s.logger.Info("starting live session", "model", s.cfg.Model, "voice", s.cfg.Voice)

	instruction := s.cfg.SystemInstruction
	if s.cfg.Instructions != nil {
		instruction = s.cfg.Instructions(ctx)
	}

	hsCtx, hsCancel := context.WithTimeout(runCtx, s.cfg.HandshakeTimeout)
	stopWatching := context.AfterFunc(ctx, hsCancel)
	err := r.tr.Open(hsCtx, transport.Config{
		Model:             s.cfg.Model,
		Voice:             string(s.cfg.Voice),
		SystemInstruction: instruction,
		Tools:             ToolDeclarations(),
		APIKey:            s.cfg.APIKey,
		TokenSource:       s.cfg.TokenSource,
	})
	stopWatching()
	hsCancel()

	s.lifecycle.Lock()
	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		s.lifecycle.Unlock()
		r.cancel()
		r.tr.Close()
		s.logger.Debug("discarding handshake result after stop", "error", err)
		return ErrStartAborted
	}
	if err != nil {
		herr := &HandshakeError{Cause: err}
		s.run = nil
		s.status = StatusError
		s.errMsg = herr.Message()
		s.mu.Unlock()
		s.lifecycle.Unlock()

		r.cancel()
		r.tr.Close()
		s.logger.Error("live session handshake failed", "error", err, "retryable", herr.IsRetryable())
		s.publish()
		s.cfg.Observer.HandshakeFailed(s.cfg.AssistantID, herr)
		return herr
	}
	s.status = StatusActive
	r.startedAt = time.Now()
	s.mu.Unlock()

	if err := s.player.Start(r.ctx); err != nil {
		s.onAudioError(err)
	}
	if err := s.capture.Start(r.ctx, func(chunk audioio.AudioChunk) { s.sendFrame(r, chunk) }); err != nil {
		s.onAudioError(err)
	}
	r.looping = true
	go s.loop(r)
	s.lifecycle.Unlock()

	s.logger.Info("live session active")
	s.publish()
	s.cfg.Observer.SessionStarted(s.cfg.AssistantID)
	return nil
}

// Stop ends the session from any state. Capture, playback and the
// connection are torn down before Stop returns; an unfinished turn is
// discarded without reaching OnTurnComplete.
//
// Stop may be called from OnTurnComplete or an Observer hook. A hook still
// running on the event loop when Stop returns finishes on its own.
func (s *Session) Stop() error {
	s.lifecycle.Lock()

	s.mu.Lock()
	r := s.run
	prev := s.status
	s.run = nil
	s.mu.Unlock()

	if r != nil {
		s.teardown(r)
	}

	s.mu.Lock()
	s.status = StatusIdle
	s.errMsg = ""
	s.turn = turn{}
	s.mu.Unlock()
	s.metrics.Reset()
	s.lifecycle.Unlock()

	if prev == StatusIdle {
		return nil
	}
	s.logger.Info("live session stopped", "from", prev)
	s.publish()
	if prev == StatusActive && r != nil {
		s.cfg.Observer.SessionEnded(s.cfg.AssistantID, time.Since(r.startedAt))
	}
	return nil
}

// Close stops the session and ends every subscription.
func (s *Session) Close() error {
	err := s.Stop()

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if !s.closed {
		s.closed = true
		for id, ch := range s.subs {
			close(ch)
			delete(s.subs, id)
		}
	}
	return err
}

// SendText sends a typed user message. It joins the in-flight turn's user
// transcript.
func (s *Session) SendText(text string) error {
	if text == "" {
		return nil
	}

	s.mu.Lock()
	r, status := s.run, s.status
	s.mu.Unlock()
	if status != StatusActive || r == nil {
		return ErrNotActive
	}

	if err := r.tr.SendText(text); err != nil {
		return fmt.Errorf("live: send text: %w", err)
	}
	select {
	case r.inbox <- inboxItem{typed: text}:
	case <-r.ctx.Done():
	}
	return nil
}

// Metrics returns mean turn latencies for this session.
func (s *Session) Metrics() TurnMetrics {
	return s.metrics.Average()
}

// teardown releases everything bound to r. Callers hold lifecycle.
func (s *Session) teardown(r *run) {
	r.cancel()
	if err := s.capture.Stop(); err != nil {
		s.logger.Debug("stop capture", "error", err)
	}
	if err := s.player.Stop(); err != nil {
		s.logger.Debug("stop playback", "error", err)
	}
	if err := r.tr.Close(); err != nil {
		s.logger.Debug("close transport", "error", err)
	}
	if r.looping {
		r.wait()
	}
}

// fail moves an ACTIVE session to ERROR after the connection dropped.
func (s *Session) fail(r *run, cause error) {
	s.lifecycle.Lock()

	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		s.lifecycle.Unlock()
		return
	}
	s.run = nil
	s.status = StatusError
	s.errMsg = msgTransportDropped
	s.turn = turn{}
	s.mu.Unlock()

	s.teardown(r)
	s.metrics.Reset()
	s.lifecycle.Unlock()

	s.logger.Warn("live session connection lost", "error", cause)
	s.publish()
	s.cfg.Observer.TransportDropped(s.cfg.AssistantID)
	s.cfg.Observer.SessionEnded(s.cfg.AssistantID, time.Since(r.startedAt))
}

// loop is the single consumer of inbound events for r.
func (s *Session) loop(r *run) {
	defer close(r.done)

	events := r.tr.Events()
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev, ok := <-events:
			if r.ctx.Err() != nil {
				return
			}
			if !ok || ev.Kind == transport.EventClosed {
				go s.fail(r, fmt.Errorf("%w: %v", ErrTransportDropped, ev.Err))
				return
			}
			s.handleEvent(r, ev)
		case item := <-r.inbox:
			if r.ctx.Err() != nil {
				return
			}
			s.handleInbox(r, item)
		}
	}
}

func (s *Session) handleEvent(r *run, ev transport.Event) {
	switch ev.Kind {
	case transport.EventUserText:
		s.metrics.MarkUserSpeech()
		s.updateTurn(func(t *turn) { t.appendUser(ev.Text) })

	case transport.EventAssistantText:
		s.updateTurn(func(t *turn) { t.appendAssistant(ev.Text) })

	case transport.EventAudio:
		s.updateTurn(nil)
		s.metrics.MarkFirstAudio()
		chunk := audioio.ChunkFromBytes(ev.Audio, audioio.OutputSampleRate, 1)
		if err := s.player.Play(chunk); err != nil {
			s.logger.Debug("dropping assistant audio", "error", err)
		}

	case transport.EventToolCall:
		s.metrics.IncrementToolCalls()
		s.updateTurn(func(t *turn) { t.pendingTools++ })
		s.logger.Info("tool call", "tool", ev.Call.Name, "call_id", ev.Call.ID)
		go s.runTool(r, ToolCall{ID: ev.Call.ID, Name: ev.Call.Name, Arguments: ev.Call.Args})

	case transport.EventInterrupted:
		s.player.Interrupt()

	case transport.EventTurnEnd:
		s.player.Finish()
		s.mu.Lock()
		s.turn.endRequested = true
		ready := s.turn.ready()
		s.mu.Unlock()
		if ready {
			s.finalizeTurn(r)
		}

	case transport.EventError:
		s.logger.Warn("provider error", "error", ev.Err)
	}
}

func (s *Session) handleInbox(r *run, item inboxItem) {
	if item.typed != "" {
		s.updateTurn(func(t *turn) { t.appendUser(item.typed) })
	}

	res := item.result
	if res == nil {
		return
	}
	if err := r.tr.SendToolResponse(res.functionResponse()); err != nil {
		s.logger.Warn("failed to send tool response", "tool", res.Name, "call_id", res.CallID, "error", err)
	}

	s.mu.Lock()
	if res.Searched {
		s.sources = append([]GroundingSource{}, res.Sources...)
	}
	if s.turn.pendingTools > 0 {
		s.turn.pendingTools--
	}
	ready := s.turn.ready()
	s.mu.Unlock()

	s.publish()
	if ready {
		s.finalizeTurn(r)
	}
}

// updateTurn applies fn to the in-flight turn, clearing grounding sources
// when this is the turn's first event.
func (s *Session) updateTurn(fn func(*turn)) {
	s.mu.Lock()
	if s.turn.begin() {
		s.sources = nil
	}
	if fn != nil {
		fn(&s.turn)
	}
	s.mu.Unlock()
	s.publish()
}

func (s *Session) finalizeTurn(r *run) {
	s.mu.Lock()
	user, assistant, ok := s.turn.finalize()
	s.mu.Unlock()

	s.publish()
	if !ok {
		s.metrics.Reset()
		return
	}

	m := s.metrics.MarkResponseDone()
	s.logger.Debug("turn complete", "latency", m.FormatLatency(), "tools", m.ToolCalls)
	r.hook(func() {
		s.cfg.Observer.TurnCompleted(s.cfg.AssistantID, m)
		if s.cfg.OnTurnComplete != nil {
			s.cfg.OnTurnComplete(user, assistant)
		}
	})
}

func (s *Session) runTool(r *run, call ToolCall) {
	started := time.Now()
	res := s.dispatcher.Dispatch(r.ctx, call)
	s.cfg.Observer.ToolCalled(s.cfg.AssistantID, call.Name, res.OK(), time.Since(started))

	select {
	case r.inbox <- inboxItem{result: &res}:
	case <-r.ctx.Done():
		s.logger.Debug("discarding tool result after stop", "tool", call.Name, "call_id", call.ID)
	}
}

func (s *Session) sendFrame(r *run, chunk audioio.AudioChunk) {
	s.metrics.IncrementAudioIn()
	if err := r.tr.SendAudio(chunk.Bytes()); err != nil && !errors.Is(err, transport.ErrClosed) {
		s.logger.Debug("send audio", "error", err)
	}
}

// onUserActivity runs on the capture goroutine before the frame is sent.
func (s *Session) onUserActivity(energy float64) {
	if !s.player.Speaking() {
		return
	}
	s.player.Interrupt()
	s.cfg.Observer.BargeIn(s.cfg.AssistantID)
	s.logger.Debug("barge-in", "energy", energy)
}

func (s *Session) onAudioError(err error) {
	s.logger.Error("audio device failure", "error", &AudioDeviceError{Cause: err})

	s.mu.Lock()
	if s.status == StatusActive {
		s.errMsg = msgAudioDeviceFailure
	}
	s.mu.Unlock()
	s.publish()
}

// Snapshot returns the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		SessionID:           s.id,
		AssistantID:         s.cfg.AssistantID,
		Status:              s.status,
		IsSpeaking:          s.player.Speaking(),
		UserTranscript:      s.turn.user,
		AssistantTranscript: s.turn.assistant,
		GroundingSources:    append([]GroundingSource{}, s.sources...),
		Error:               s.errMsg,
	}
}

// Subscribe returns a channel carrying the latest Snapshot after every
// change. Slow readers skip intermediate snapshots. The returned function
// ends the subscription.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	offer(ch, s.Snapshot())

	return ch, sync.OnceFunc(func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	})
}

func (s *Session) publish() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	if len(s.subs) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, ch := range s.subs {
		offer(ch, snap)
	}
}

// offer replaces whatever ch holds with snap.
func offer(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
