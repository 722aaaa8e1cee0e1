//go:build !portaudio

package portaudio

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/echocrafter/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// ErrUnavailable is wrapped by every capture error of the stub source.
var ErrUnavailable = errors.New("portaudio: microphone capture not available, rebuild with -tags portaudio")

// Source is the stub used when the binary is built without PortAudio.
type Source struct {
	format audio.Format
}

// New returns a stub source. Start always fails with [ErrUnavailable].
func New(format audio.Format) (*Source, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("portaudio: %w", err)
	}
	return &Source{format: format}, nil
}

// Available reports whether this build can capture from a microphone.
func Available() bool { return false }

// Start implements [audio.Source].
func (s *Source) Start(_ context.Context) error {
	return &audio.CaptureError{Op: "start", Err: ErrUnavailable}
}

// Read implements [audio.Source].
func (s *Source) Read(_ context.Context) (audio.Frame, error) {
	return audio.Frame{}, &audio.CaptureError{Op: "read", Err: audio.ErrNotRunning}
}

// Stop implements [audio.Source].
func (s *Source) Stop() error { return nil }

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }
