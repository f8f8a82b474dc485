package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// DefaultActivityThreshold is the RMS energy above which a frame counts as
// user speech.
const DefaultActivityThreshold = 0.02

// ErrCaptureRunning is returned by Start when capture is already active.
var ErrCaptureRunning = errors.New("audioio: capture already running")

// DeviceError wraps a failure to open or read the capture device.
type DeviceError struct {
	Op    string
	Cause error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audioio: %s: %v", e.Op, e.Cause)
}

func (e *DeviceError) Unwrap() error {
	return e.Cause
}

// CaptureOption configures a Capture.
type CaptureOption func(*Capture)

// WithActivityThreshold sets the RMS threshold for voice activity.
func WithActivityThreshold(threshold float64) CaptureOption {
	return func(c *Capture) {
		if threshold > 0 {
			c.threshold = threshold
		}
	}
}

// WithActivityHandler registers fn to run when a frame carries speech.
// It runs before that frame is handed to the frame callback.
func WithActivityHandler(fn func(energy float64)) CaptureOption {
	return func(c *Capture) {
		c.onActivity = fn
	}
}

// WithCaptureErrorHandler registers fn for device failures after Start.
// Capture stops itself before fn runs.
func WithCaptureErrorHandler(fn func(error)) CaptureOption {
	return func(c *Capture) {
		c.onError = fn
	}
}

// Capture turns a Source into a stream of 16kHz mono frames.
type Capture struct {
	src        Source
	logger     *slog.Logger
	threshold  float64
	onActivity func(energy float64)
	onError    func(error)

	// gate serializes frame emission with Stop so no frame is delivered
	// after Stop returns.
	gate    sync.Mutex
	running bool
	cancel  context.CancelFunc
	onFrame func(AudioChunk)
}

// NewCapture wraps src.
func NewCapture(src Source, logger *slog.Logger, opts ...CaptureOption) *Capture {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Capture{
		src:       src,
		logger:    logger,
		threshold: DefaultActivityThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start opens the source and begins delivering frames to onFrame.
func (c *Capture) Start(ctx context.Context, onFrame func(AudioChunk)) error {
	c.gate.Lock()
	defer c.gate.Unlock()

	if c.running {
		return ErrCaptureRunning
	}
	if err := c.src.Start(ctx); err != nil {
		return &DeviceError{Op: "open " + c.src.Name(), Cause: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.onFrame = onFrame

	go c.readLoop(ctx)
	return nil
}

// Stop halts capture. Once Stop returns no further frame is delivered.
func (c *Capture) Stop() error {
	c.gate.Lock()
	if !c.running {
		c.gate.Unlock()
		return nil
	}
	c.running = false
	c.cancel()
	c.gate.Unlock()

	return c.src.Stop()
}

// Running reports whether capture is active.
func (c *Capture) Running() bool {
	c.gate.Lock()
	defer c.gate.Unlock()
	return c.running
}

func (c *Capture) readLoop(ctx context.Context) {
	for {
		chunk, err := c.src.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			c.fail(err)
			return
		}
		if !c.emit(normalize(chunk)) {
			return
		}
	}
}

// emit delivers one frame, reporting false once capture has stopped.
func (c *Capture) emit(chunk AudioChunk) bool {
	c.gate.Lock()
	defer c.gate.Unlock()

	if !c.running {
		return false
	}
	if energy := chunk.Energy(); energy >= c.threshold && c.onActivity != nil {
		c.onActivity(energy)
	}
	c.onFrame(chunk)
	return true
}

func (c *Capture) fail(err error) {
	c.logger.Error("audio capture failed", "backend", c.src.Name(), "error", err)

	c.gate.Lock()
	wasRunning := c.running
	c.running = false
	c.gate.Unlock()
	if !wasRunning {
		return
	}

	if stopErr := c.src.Stop(); stopErr != nil {
		c.logger.Debug("stop after capture failure", "error", stopErr)
	}
	if c.onError != nil {
		c.onError(&DeviceError{Op: "read " + c.src.Name(), Cause: err})
	}
}

func normalize(chunk AudioChunk) AudioChunk {
	if chunk.Channels == 2 {
		chunk.Samples = StereoToMono(chunk.Samples)
		chunk.Channels = 1
	}
	if chunk.SampleRate != 0 && chunk.SampleRate != InputSampleRate {
		chunk.Samples = Resample(chunk.Samples, chunk.SampleRate, InputSampleRate)
		chunk.SampleRate = InputSampleRate
	}
	return chunk
}
