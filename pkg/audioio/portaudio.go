//go:build portaudio

package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

const portAudioAvailable = true

// portAudioSource reads the default input device. Config.Device is not
// used; PortAudio picks the host default.
type portAudioSource struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	readMu  sync.Mutex
	stream  *portaudio.Stream
	buf     []int16
	running bool
	closed  bool

	chunksRead atomic.Int64
}

func newPortAudioSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &portAudioSource{cfg: cfg, logger: logger}, nil
}

func (s *portAudioSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	s.buf = make([]int16, s.cfg.BufferSize()*s.cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(s.cfg.Channels, 0, float64(s.cfg.SampleRate), s.cfg.BufferSize(), s.buf)
	if err != nil {
		return fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("portaudio: start input stream: %w", err)
	}

	s.stream = stream
	s.running = true
	s.logger.Info("microphone opened", "sample_rate", s.cfg.SampleRate, "frames", s.cfg.BufferSize())
	return nil
}

func (s *portAudioSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	// Wait for an in-flight Read before closing the stream under it.
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if err := stream.Stop(); err != nil {
		s.logger.Warn("portaudio: stop input stream", "error", err)
	}
	return stream.Close()
}

func (s *portAudioSource) Read(ctx context.Context) (AudioChunk, error) {
	if err := ctx.Err(); err != nil {
		return AudioChunk{}, err
	}

	s.readMu.Lock()
	defer s.readMu.Unlock()

	s.mu.Lock()
	stream, running := s.stream, s.running
	s.mu.Unlock()
	if !running {
		return AudioChunk{}, io.EOF
	}

	if err := stream.Read(); err != nil {
		if err == portaudio.InputOverflowed {
			s.logger.Debug("portaudio: input overflowed")
		} else {
			return AudioChunk{}, fmt.Errorf("portaudio: read: %w", err)
		}
	}

	samples := make([]int16, len(s.buf))
	copy(samples, s.buf)
	s.chunksRead.Add(1)
	return AudioChunk{Samples: samples, SampleRate: s.cfg.SampleRate, Channels: s.cfg.Channels}, nil
}

func (s *portAudioSource) Config() Config { return s.cfg }
func (s *portAudioSource) Name() string   { return string(BackendPortAudio) }

func (s *portAudioSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.Stop()
	portaudio.Terminate()
	return err
}

// portAudioSink writes to the default output device. Writes block for
// roughly the duration of the audio, so Flush has nothing left to wait on.
type portAudioSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []int16
	running bool
	closed  bool

	// cleared bumps on Clear so a multi-buffer Write stops early.
	cleared atomic.Uint64
}

func newPortAudioSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &portAudioSink{cfg: cfg, logger: logger}, nil
}

func (s *portAudioSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	s.buf = make([]int16, s.cfg.BufferSize()*s.cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(0, s.cfg.Channels, float64(s.cfg.SampleRate), s.cfg.BufferSize(), s.buf)
	if err != nil {
		return fmt.Errorf("portaudio: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("portaudio: start output stream: %w", err)
	}

	s.stream = stream
	s.running = true
	s.logger.Info("speaker opened", "sample_rate", s.cfg.SampleRate, "frames", s.cfg.BufferSize())
	return nil
}

func (s *portAudioSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	if err := s.stream.Stop(); err != nil {
		s.logger.Warn("portaudio: stop output stream", "error", err)
	}
	err := s.stream.Close()
	s.stream = nil
	return err
}

func (s *portAudioSink) Write(ctx context.Context, chunk AudioChunk) error {
	samples := chunk.Samples
	if chunk.SampleRate != 0 && chunk.SampleRate != s.cfg.SampleRate {
		samples = Resample(samples, chunk.SampleRate, s.cfg.SampleRate)
	}
	gen := s.cleared.Load()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return io.ErrClosedPipe
	}

	for len(samples) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.cleared.Load() != gen {
			return nil
		}
		n := copy(s.buf, samples)
		clear(s.buf[n:])
		samples = samples[n:]
		if err := s.stream.Write(); err != nil && err != portaudio.OutputUnderflowed {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

func (s *portAudioSink) Flush(ctx context.Context) error { return ctx.Err() }

func (s *portAudioSink) Clear() error {
	s.cleared.Add(1)
	return nil
}

func (s *portAudioSink) Config() Config { return s.cfg }
func (s *portAudioSink) Name() string   { return string(BackendPortAudio) }

func (s *portAudioSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.Stop()
	portaudio.Terminate()
	return err
}
