//go:build !portaudio

package audioio

import (
	"errors"
	"log/slog"
)

const portAudioAvailable = false

// ErrPortAudioUnavailable is returned when the binary was built without the
// portaudio tag.
var ErrPortAudioUnavailable = errors.New("audioio: built without portaudio (rebuild with -tags portaudio)")

func newPortAudioSource(cfg Config, logger *slog.Logger) (Source, error) {
	return nil, ErrPortAudioUnavailable
}

func newPortAudioSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return nil, ErrPortAudioUnavailable
}
