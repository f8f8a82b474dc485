package gateway

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/persona-live/pkg/audioio"
)

const (
	backendBrowser audioio.Backend = "browser"

	micQueueSize = 64
	outboxSize   = 256
	ctrlSize     = 32
)

// outbox carries frames bound for the browser. Audio applies backpressure
// to the player; control messages never block and are written first.
type outbox struct {
	audio chan []byte
	ctrl  chan []byte
}

func newOutbox() *outbox {
	return &outbox{
		audio: make(chan []byte, outboxSize),
		ctrl:  make(chan []byte, ctrlSize),
	}
}

func (o *outbox) sendAudio(ctx context.Context, pcm []byte) error {
	select {
	case o.audio <- pcm:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *outbox) sendControl(data []byte) bool {
	select {
	case o.ctrl <- data:
		return true
	default:
		return false
	}
}

func (o *outbox) dropAudio() {
	for {
		select {
		case <-o.audio:
		default:
			return
		}
	}
}

// micBridge is an audioio.Source fed by binary websocket frames.
type micBridge struct {
	cfg    audioio.Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	stop    chan struct{}
	frames  chan audioio.AudioChunk
}

var _ audioio.Source = (*micBridge)(nil)

func newMicBridge(sampleRate int, logger *slog.Logger) *micBridge {
	cfg := audioio.DefaultConfig()
	cfg.Backend = backendBrowser
	if sampleRate > 0 {
		cfg.SampleRate = sampleRate
	}
	return &micBridge{
		cfg:    cfg,
		logger: logger,
		stop:   make(chan struct{}),
		frames: make(chan audioio.AudioChunk, micQueueSize),
	}
}

func (m *micBridge) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if !m.running {
		m.running = true
		m.stop = make(chan struct{})
		drainFrames(m.frames)
	}
	return nil
}

func (m *micBridge) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.running = false
		close(m.stop)
	}
	return nil
}

// Push queues PCM16 bytes received from the browser. A zero sampleRate
// means the rate negotiated at connect. Frames arriving while the session
// is not capturing are discarded.
func (m *micBridge) Push(pcm []byte, sampleRate int) {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if !running || len(pcm) < 2 {
		return
	}

	if sampleRate <= 0 {
		sampleRate = m.cfg.SampleRate
	}
	select {
	case m.frames <- audioio.ChunkFromBytes(pcm, sampleRate, m.cfg.Channels):
	default:
		m.logger.Debug("mic queue full, dropping frame")
	}
}

func (m *micBridge) Read(ctx context.Context) (audioio.AudioChunk, error) {
	m.mu.Lock()
	stop := m.stop
	running := m.running
	m.mu.Unlock()
	if !running {
		return audioio.AudioChunk{}, io.EOF
	}

	select {
	case chunk := <-m.frames:
		return chunk, nil
	case <-stop:
		return audioio.AudioChunk{}, io.EOF
	case <-ctx.Done():
		return audioio.AudioChunk{}, ctx.Err()
	}
}

func drainFrames(frames chan audioio.AudioChunk) {
	for {
		select {
		case <-frames:
		default:
			return
		}
	}
}

func (m *micBridge) Config() audioio.Config { return m.cfg }

func (m *micBridge) Name() string { return string(backendBrowser) }

func (m *micBridge) Close() error {
	m.Stop()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// speakerBridge is an audioio.Sink that streams playback to the browser.
// It keeps a playout clock so Flush returns roughly when the browser has
// finished playing what was sent.
type speakerBridge struct {
	cfg     audioio.Config
	out     *outbox
	onClear func()

	mu        sync.Mutex
	running   bool
	closed    bool
	playUntil time.Time
	// cleared is closed and replaced by Clear, waking a pending Flush.
	cleared chan struct{}
}

var _ audioio.Sink = (*speakerBridge)(nil)

func newSpeakerBridge(out *outbox, onClear func()) *speakerBridge {
	cfg := audioio.PlaybackConfig()
	cfg.Backend = backendBrowser
	return &speakerBridge{cfg: cfg, out: out, onClear: onClear, cleared: make(chan struct{})}
}

func (s *speakerBridge) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	s.running = true
	return nil
}

func (s *speakerBridge) Stop() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

func (s *speakerBridge) Write(ctx context.Context, chunk audioio.AudioChunk) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return io.ErrClosedPipe
	}
	now := time.Now()
	if s.playUntil.Before(now) {
		s.playUntil = now
	}
	s.playUntil = s.playUntil.Add(chunk.Duration())
	s.mu.Unlock()

	return s.out.sendAudio(ctx, chunk.Bytes())
}

func (s *speakerBridge) Flush(ctx context.Context) error {
	s.mu.Lock()
	wait := time.Until(s.playUntil)
	cleared := s.cleared
	s.mu.Unlock()
	if wait <= 0 {
		return nil
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-cleared:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear drops unsent audio and tells the browser to drop what it buffered.
func (s *speakerBridge) Clear() error {
	s.mu.Lock()
	s.playUntil = time.Time{}
	close(s.cleared)
	s.cleared = make(chan struct{})
	running := s.running
	s.mu.Unlock()

	s.out.dropAudio()
	if running && s.onClear != nil {
		s.onClear()
	}
	return nil
}

func (s *speakerBridge) Config() audioio.Config { return s.cfg }

func (s *speakerBridge) Name() string { return string(backendBrowser) }

func (s *speakerBridge) Close() error {
	s.mu.Lock()
	s.running = false
	s.closed = true
	s.mu.Unlock()
	return nil
}
