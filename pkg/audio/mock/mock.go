// Package mock provides an in-memory [audio.Source] for unit tests.
//
// The mock replays a fixed script of frames and records every lifecycle call
// so tests can assert on start/stop ordering. It is safe for concurrent use.
//
// Typical usage:
//
//	src := mock.NewSource(audio.DefaultFormat(), mock.Silence(100)...)
//	src.Start(ctx)
//	f, err := src.Read(ctx)
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/echocrafter/pkg/audio"
)

// Source is a scripted [audio.Source].
type Source struct {
	mu sync.Mutex

	format  audio.Format
	script  []audio.Frame
	pos     int
	running bool
	stopped chan struct{}

	// BlockAtEnd makes Read block until ctx is done or Stop is called once
	// the script is exhausted, instead of returning [audio.ErrEndOfStream].
	BlockAtEnd bool

	// StartErr is returned by Start when set.
	StartErr error

	// ReadErrAt makes the Read of script index ReadErrAt.Index fail with
	// ReadErrAt.Err. Zero value disables it.
	ReadErrAt ReadFailure

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountRead records how many times Read was called.
	CallCountRead int
}

// ReadFailure injects a read error at a script position.
type ReadFailure struct {
	Index int
	Err   error
}

var _ audio.Source = (*Source)(nil)

// NewSource returns a source that replays frames in order. Frames whose Seq
// is zero are numbered from their script position (starting at 1).
func NewSource(format audio.Format, frames ...audio.Frame) *Source {
	script := make([]audio.Frame, len(frames))
	for i, f := range frames {
		if f.Seq == 0 {
			f.Seq = uint64(i + 1)
		}
		script[i] = f
	}
	return &Source{format: format, script: script}
}

// Start implements [audio.Source].
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartErr != nil {
		return &audio.CaptureError{Op: "start", Err: s.StartErr}
	}
	if !s.running {
		s.running = true
		s.stopped = make(chan struct{})
	}
	return nil
}

// Read implements [audio.Source].
func (s *Source) Read(ctx context.Context) (audio.Frame, error) {
	s.mu.Lock()
	s.CallCountRead++
	if !s.running {
		s.mu.Unlock()
		return audio.Frame{}, &audio.CaptureError{Op: "read", Err: audio.ErrNotRunning}
	}
	if s.ReadErrAt.Err != nil && s.pos == s.ReadErrAt.Index {
		err := s.ReadErrAt.Err
		s.mu.Unlock()
		return audio.Frame{}, &audio.CaptureError{Op: "read", Err: err}
	}
	if s.pos < len(s.script) {
		f := s.script[s.pos]
		s.pos++
		s.mu.Unlock()
		return f, nil
	}
	block, stopped := s.BlockAtEnd, s.stopped
	s.mu.Unlock()

	if !block {
		return audio.Frame{}, &audio.CaptureError{Op: "read", Err: audio.ErrEndOfStream}
	}
	select {
	case <-ctx.Done():
		return audio.Frame{}, &audio.CaptureError{Op: "read", Err: ctx.Err()}
	case <-stopped:
		return audio.Frame{}, &audio.CaptureError{Op: "read", Err: audio.ErrNotRunning}
	}
}

// Stop implements [audio.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	if s.running {
		s.running = false
		close(s.stopped)
	}
	return nil
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// Remaining returns how many scripted frames have not been read yet.
func (s *Source) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.script) - s.pos
}

// ─── Frame helpers ────────────────────────────────────────────────────────────

// Silence returns n zero-valued frames of the default frame length.
func Silence(n int) []audio.Frame {
	return Tone(n, 0)
}

// Tone returns n frames of the default frame length whose samples all hold
// amplitude. Useful with energy-based detectors.
func Tone(n int, amplitude int16) []audio.Frame {
	out := make([]audio.Frame, n)
	for i := range out {
		samples := make([]int16, audio.DefaultFrameLength)
		for j := range samples {
			if j%2 == 0 {
				samples[j] = amplitude
			} else {
				samples[j] = -amplitude
			}
		}
		out[i] = audio.Frame{Samples: samples}
	}
	return out
}

// Numbered returns n frames with Seq 1..n, each holding a single sample equal
// to its sequence number. Handy for order assertions.
func Numbered(n int) []audio.Frame {
	out := make([]audio.Frame, n)
	for i := range out {
		out[i] = audio.Frame{Seq: uint64(i + 1), Samples: []int16{int16(i + 1)}}
	}
	return out
}

// String implements fmt.Stringer for debugging test failures.
func (s *Source) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("mock.Source{pos=%d/%d running=%v}", s.pos, len(s.script), s.running)
}
