// Package audioio provides microphone capture and speaker playback for live
// sessions.
//
// Device access is abstracted behind Source and Sink. Backends:
//   - PortAudio (build tag "portaudio") for local hardware
//   - Mock for CI and tests
//
// Remote endpoints (the gateway's browser bridge) implement the same
// interfaces. Capture and Player sit on top and add the conversational
// behavior: fixed-size frames, voice activity detection for barge-in, and
// the isSpeaking signal.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto selects PortAudio when compiled in, otherwise Mock.
	BackendAuto Backend = "auto"
	// BackendPortAudio uses PortAudio for cross-platform audio I/O.
	BackendPortAudio Backend = "portaudio"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Sample rates used by the Gemini Live API.
const (
	// InputSampleRate is what the model expects for microphone audio.
	InputSampleRate = 16000
	// OutputSampleRate is what the model produces for synthesized speech.
	OutputSampleRate = 24000
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the length of one frame.
	// Default: 100ms for capture, 40ms for playback.
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// Device is a backend-specific device name. Empty selects the default.
	Device string `yaml:"device" json:"device"`
}

// DefaultConfig returns the capture configuration: 16kHz mono, 100ms frames.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     InputSampleRate,
		Channels:       1,
		BufferDuration: 100 * time.Millisecond,
	}
}

// PlaybackConfig returns the playback configuration: 24kHz mono, 40ms frames.
func PlaybackConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     OutputSampleRate,
		Channels:       1,
		BufferDuration: 40 * time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	switch c.Backend {
	case "", BackendAuto, BackendPortAudio, BackendMock:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}

// BufferSize returns the number of samples per channel in one frame.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a frame in bytes (int16 samples).
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}
