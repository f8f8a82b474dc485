package audioio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrPlayerStopped is returned by Play when the player is not running.
var ErrPlayerStopped = errors.New("audioio: player stopped")

const playQueueSize = 1024

type playItem struct {
	chunk  AudioChunk
	gen    uint64
	finish bool
}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithSpeakingHandler registers fn to run whenever Speaking changes.
func WithSpeakingHandler(fn func(speaking bool)) PlayerOption {
	return func(p *Player) {
		p.onSpeaking = fn
	}
}

// Player renders assistant audio in arrival order and tracks whether the
// assistant is audibly speaking.
type Player struct {
	sink       Sink
	logger     *slog.Logger
	onSpeaking func(bool)

	queue    chan playItem
	speaking atomic.Bool
	gen      atomic.Uint64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPlayer wraps sink.
func NewPlayer(sink Sink, logger *slog.Logger, opts ...PlayerOption) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Player{
		sink:   sink,
		logger: logger,
		queue:  make(chan playItem, playQueueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start opens the sink and starts the render goroutine.
func (p *Player) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	if err := p.sink.Start(ctx); err != nil {
		return &DeviceError{Op: "open " + p.sink.Name(), Cause: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.renderLoop(ctx, p.done)
	return nil
}

// Play queues one frame. The first frame of an utterance sets Speaking.
func (p *Player) Play(chunk AudioChunk) error {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return ErrPlayerStopped
	}

	p.setSpeaking(true)
	select {
	case p.queue <- playItem{chunk: chunk, gen: p.gen.Load()}:
	default:
		p.logger.Warn("playback queue full, dropping frame")
	}
	return nil
}

// Finish marks the end of the current utterance. Speaking clears once the
// queued audio has been rendered, unless Interrupt intervenes.
func (p *Player) Finish() {
	select {
	case p.queue <- playItem{finish: true, gen: p.gen.Load()}:
	default:
		p.logger.Warn("playback queue full, dropping finish marker")
	}
}

// Interrupt drops all queued and buffered audio and clears Speaking at once.
func (p *Player) Interrupt() {
	p.gen.Add(1)
	if err := p.sink.Clear(); err != nil {
		p.logger.Debug("clear sink", "error", err)
	}
	p.drain()
	p.setSpeaking(false)
}

// Speaking reports whether assistant audio is currently audible.
func (p *Player) Speaking() bool {
	return p.speaking.Load()
}

// Stop halts rendering and discards pending audio.
func (p *Player) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	done := p.done
	p.mu.Unlock()

	<-done
	p.gen.Add(1)
	p.drain()
	p.setSpeaking(false)
	if err := p.sink.Clear(); err != nil {
		p.logger.Debug("clear sink", "error", err)
	}
	return p.sink.Stop()
}

func (p *Player) renderLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.queue:
			if item.gen != p.gen.Load() {
				continue
			}
			if item.finish {
				if err := p.sink.Flush(ctx); err != nil && ctx.Err() == nil {
					p.logger.Debug("flush sink", "error", err)
				}
				if item.gen == p.gen.Load() && len(p.queue) == 0 {
					p.setSpeaking(false)
				}
				continue
			}
			if err := p.sink.Write(ctx, item.chunk); err != nil && ctx.Err() == nil {
				p.logger.Warn("audio playback write failed", "backend", p.sink.Name(), "error", err)
			}
		}
	}
}

func (p *Player) drain() {
	for {
		select {
		case <-p.queue:
		default:
			return
		}
	}
}

func (p *Player) setSpeaking(v bool) {
	if p.speaking.CompareAndSwap(!v, v) && p.onSpeaking != nil {
		p.onSpeaking(v)
	}
}
