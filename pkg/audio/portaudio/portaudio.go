//go:build portaudio

package portaudio

import (
	"context"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/echocrafter/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// Source captures frames from the default input device.
type Source struct {
	format audio.Format

	mu      sync.Mutex
	stream  *pa.Stream
	buf     []int16
	seq     uint64
	running bool

	// readMu serialises Read; it is never held by Start or Stop so that Stop
	// can interrupt a blocked device read.
	readMu sync.Mutex
}

// New returns a microphone source for format. The device is not opened until
// Start is called.
func New(format audio.Format) (*Source, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("portaudio: %w", err)
	}
	return &Source{format: format}, nil
}

// Available reports whether this build can capture from a microphone.
func Available() bool { return true }

// Start implements [audio.Source]. It initialises PortAudio and opens a mono
// input stream whose buffer is exactly one frame long.
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := pa.Initialize(); err != nil {
		return &audio.CaptureError{Op: "start", Err: fmt.Errorf("initialize: %w", err)}
	}
	buf := make([]int16, s.format.FrameLength)
	stream, err := pa.OpenDefaultStream(1, 0, float64(s.format.SampleRate), len(buf), buf)
	if err != nil {
		pa.Terminate()
		return &audio.CaptureError{Op: "start", Err: fmt.Errorf("open default stream: %w", err)}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		pa.Terminate()
		return &audio.CaptureError{Op: "start", Err: fmt.Errorf("start stream: %w", err)}
	}
	s.stream = stream
	s.buf = buf
	s.running = true
	return nil
}

// Read implements [audio.Source]. The device read itself cannot be
// cancelled; ctx is checked before it starts, and Stop unblocks it.
func (s *Source) Read(ctx context.Context) (audio.Frame, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if err := ctx.Err(); err != nil {
		return audio.Frame{}, &audio.CaptureError{Op: "read", Err: err}
	}
	s.mu.Lock()
	stream, buf, running := s.stream, s.buf, s.running
	s.mu.Unlock()
	if !running {
		return audio.Frame{}, &audio.CaptureError{Op: "read", Err: audio.ErrNotRunning}
	}

	if err := stream.Read(); err != nil {
		s.mu.Lock()
		running = s.running
		s.mu.Unlock()
		if !running {
			return audio.Frame{}, &audio.CaptureError{Op: "read", Err: audio.ErrNotRunning}
		}
		// Input overflow only means samples were lost upstream; keep going.
		if err != pa.InputOverflowed {
			return audio.Frame{}, &audio.CaptureError{Op: "read", Err: err}
		}
	}

	samples := make([]int16, len(buf))
	copy(samples, buf)
	s.seq++
	return audio.Frame{Seq: s.seq, Samples: samples}, nil
}

// Stop implements [audio.Source]. It closes the stream and terminates
// PortAudio; a later Start reopens the device.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	s.stream = nil
	termErr := pa.Terminate()
	if stopErr != nil {
		return &audio.CaptureError{Op: "stop", Err: stopErr}
	}
	if closeErr != nil {
		return &audio.CaptureError{Op: "stop", Err: closeErr}
	}
	if termErr != nil {
		return &audio.CaptureError{Op: "stop", Err: termErr}
	}
	return nil
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }
