// Package audio defines the frame model shared by every stage of the
// voice-command pipeline: the [Frame] captured from a [Source], the bounded
// [Ring] that decouples capture from processing, and the [Utterance] handed to
// a transcriber.
//
// All audio is mono, signed 16-bit PCM. The sample rate and frame length are
// fixed for the lifetime of a process and described by a [Format]; the
// reference values are 16 kHz and 512 samples per frame (32 ms).
package audio

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultSampleRate is the reference capture rate in Hz.
	DefaultSampleRate = 16000

	// DefaultFrameLength is the reference number of samples per frame.
	DefaultFrameLength = 512
)

// DefaultFormat returns the reference 16 kHz / 512-sample format.
func DefaultFormat() Format {
	return Format{SampleRate: DefaultSampleRate, FrameLength: DefaultFrameLength}
}

// Format describes the fixed shape of every frame in a stream.
type Format struct {
	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// FrameLength is the number of samples carried by one frame.
	FrameLength int
}

// Validate reports whether f describes a usable stream.
func (f Format) Validate() error {
	var errs []error
	if f.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate %d must be positive", f.SampleRate))
	}
	if f.FrameLength <= 0 {
		errs = append(errs, fmt.Errorf("frame length %d must be positive", f.FrameLength))
	}
	return errors.Join(errs...)
}

// FrameDuration returns the wall-clock duration of a single frame.
func (f Format) FrameDuration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.FrameLength) * time.Second / time.Duration(f.SampleRate)
}

// FramesFor returns the number of frames needed to cover d, rounded up.
// A non-positive d yields 0.
func (f Format) FramesFor(d time.Duration) int {
	if d <= 0 || f.SampleRate <= 0 || f.FrameLength <= 0 {
		return 0
	}
	// Integer math in nanosecond-samples avoids the rounding of FrameDuration.
	num := int64(d) * int64(f.SampleRate)
	den := int64(time.Second) * int64(f.FrameLength)
	return int((num + den - 1) / den)
}

// String renders f as "16000Hz/512".
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%d", f.SampleRate, f.FrameLength)
}

// Frame is one fixed-length chunk of mono int16 PCM. Frames are immutable
// once produced: stages pass them along but never write to Samples.
type Frame struct {
	// Seq is the capture sequence number, starting at 1 for the first frame a
	// source produces. Sequence numbers are strictly increasing in capture order.
	Seq uint64

	// Samples holds exactly Format.FrameLength signed 16-bit samples.
	Samples []int16
}

// Len returns the number of samples in the frame.
func (f Frame) Len() int { return len(f.Samples) }

// PCM returns the frame as little-endian 16-bit PCM bytes.
func (f Frame) PCM() []byte { return Int16ToPCM(f.Samples) }

// Utterance is an ordered, growable run of frames that together hold one
// spoken command. It is created when speech is first retained, consumed by a
// transcriber and then discarded.
type Utterance struct {
	Format Format
	Frames []Frame
}

// NewUtterance returns an empty utterance for format f, seeded with a copy
// of the frame slice (the frames themselves are shared, they are immutable).
func NewUtterance(f Format, seed ...Frame) Utterance {
	u := Utterance{Format: f, Frames: make([]Frame, 0, len(seed)+32)}
	u.Frames = append(u.Frames, seed...)
	return u
}

// Append adds frames to the end of the utterance.
func (u *Utterance) Append(frames ...Frame) {
	u.Frames = append(u.Frames, frames...)
}

// Len returns the number of frames in the utterance.
func (u Utterance) Len() int { return len(u.Frames) }

// Duration returns the audio length of the utterance.
func (u Utterance) Duration() time.Duration {
	var samples int
	for _, f := range u.Frames {
		samples += len(f.Samples)
	}
	if u.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(u.Format.SampleRate)
}

// Samples concatenates all frames into a single sample slice.
func (u Utterance) Samples() []int16 {
	var n int
	for _, f := range u.Frames {
		n += len(f.Samples)
	}
	out := make([]int16, 0, n)
	for _, f := range u.Frames {
		out = append(out, f.Samples...)
	}
	return out
}

// PCM returns the utterance as little-endian 16-bit PCM bytes.
func (u Utterance) PCM() []byte { return Int16ToPCM(u.Samples()) }
