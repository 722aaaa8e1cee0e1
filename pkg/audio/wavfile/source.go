// Package wavfile replays and records 16-bit PCM WAV files.
//
// [Source] implements [audio.Source] over a WAV file so the whole pipeline can
// be exercised without a microphone (integration tests, regression corpora,
// headless demos). [WriteUtterance] stores an [audio.Utterance] as a mono
// 16-bit WAV file, which is what the debug recorder uses.
//
// The file's sample rate must match the requested [audio.Format]; no
// resampling is performed. Multi-channel files are averaged down to mono.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/echocrafter/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// Option configures a [Source].
type Option func(*Source)

// WithRealtime paces Read so frames are delivered no faster than the
// recording's own rate, the way a live device would deliver them.
func WithRealtime(enabled bool) Option {
	return func(s *Source) { s.realtime = enabled }
}

// WithLoop restarts playback from the beginning when the file is exhausted
// instead of failing with [audio.ErrEndOfStream].
func WithLoop(enabled bool) Option {
	return func(s *Source) { s.loop = enabled }
}

// Source replays a WAV file as fixed-length frames.
type Source struct {
	path     string
	format   audio.Format
	realtime bool
	loop     bool

	mu      sync.Mutex
	samples []int16
	pos     int
	seq     uint64
	running bool
	stopped chan struct{}
	next    time.Time
}

// New returns a source for the file at path. The file is decoded on the
// first Start; a missing or malformed file surfaces there as a
// *audio.CaptureError with Op "open".
func New(path string, format audio.Format, opts ...Option) (*Source, error) {
	if path == "" {
		return nil, errors.New("wavfile: path must not be empty")
	}
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("wavfile: %w", err)
	}
	s := &Source{path: path, format: format}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Start implements [audio.Source]. The first call decodes the file.
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.samples == nil {
		samples, err := decode(s.path, s.format.SampleRate)
		if err != nil {
			return &audio.CaptureError{Op: "open", Err: err}
		}
		s.samples = samples
	}
	s.running = true
	s.stopped = make(chan struct{})
	s.next = time.Now()
	return nil
}

// Read implements [audio.Source].
func (s *Source) Read(ctx context.Context) (audio.Frame, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return audio.Frame{}, &audio.CaptureError{Op: "read", Err: audio.ErrNotRunning}
	}
	if s.pos >= len(s.samples) {
		if !s.loop || len(s.samples) == 0 {
			s.mu.Unlock()
			return audio.Frame{}, &audio.CaptureError{Op: "read", Err: audio.ErrEndOfStream}
		}
		s.pos = 0
	}

	n := s.format.FrameLength
	samples := make([]int16, n)
	copy(samples, s.samples[s.pos:min(s.pos+n, len(s.samples))])
	s.pos += n
	s.seq++
	f := audio.Frame{Seq: s.seq, Samples: samples}

	var wait time.Duration
	if s.realtime {
		wait = time.Until(s.next)
		s.next = s.next.Add(s.format.FrameDuration())
		if wait < 0 {
			// Fell behind (e.g. the process was suspended); resynchronise.
			s.next = time.Now().Add(s.format.FrameDuration())
		}
	}
	stopped := s.stopped
	s.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return audio.Frame{}, &audio.CaptureError{Op: "read", Err: ctx.Err()}
		case <-stopped:
			return audio.Frame{}, &audio.CaptureError{Op: "read", Err: audio.ErrNotRunning}
		}
	}
	return f, nil
}

// Stop implements [audio.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.running = false
		close(s.stopped)
	}
	return nil
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// decode reads the whole file into mono int16 samples.
func decode(path string, wantRate int) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %q: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wavfile: %q is not a valid WAV file", path)
	}
	if dec.BitDepth != 16 {
		return nil, fmt.Errorf("wavfile: %q has bit depth %d, want 16", path, dec.BitDepth)
	}
	if int(dec.SampleRate) != wantRate {
		return nil, fmt.Errorf("wavfile: %q has sample rate %d, want %d", path, dec.SampleRate, wantRate)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavfile: decode %q: %w", path, err)
	}
	mono := audio.DownmixToMono(buf.Data, int(dec.NumChans))
	out := make([]int16, len(mono))
	for i, v := range mono {
		out[i] = int16(v)
	}
	return out, nil
}

// WriteUtterance stores u as a mono 16-bit WAV file at path.
func WriteUtterance(path string, u audio.Utterance) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wavfile: create %q: %w", path, err)
	}

	samples := u.Samples()
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: u.Format.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(file, u.Format.SampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		file.Close()
		return fmt.Errorf("wavfile: write %q: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		file.Close()
		return fmt.Errorf("wavfile: close encoder %q: %w", path, err)
	}
	return file.Close()
}
