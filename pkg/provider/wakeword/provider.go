// Package wakeword defines the Detector interface for wake-phrase backends.
//
// A detector is fed every frame while the pipeline waits for a command and
// reports the index of the keyword that was just completed. Detectors usually
// fire a few frames after the phrase ends; the orchestrator keeps a short
// pre-roll of recent frames so the start of the command is not lost.
//
// Detectors keep a rolling window of recent audio and are not safe for
// concurrent use.
package wakeword

import "github.com/MrWong99/echocrafter/pkg/audio"

// Detector spots wake phrases in a frame stream.
type Detector interface {
	// Process feeds one frame. detected is true when a wake phrase was just
	// completed; keyword is then the index of that phrase in the detector's
	// configured keyword list. A non-nil error means no detection for this
	// frame; the caller keeps feeding frames.
	Process(frame audio.Frame) (keyword int, detected bool, err error)
}

// Resetter is implemented by detectors whose rolling window can be cleared
// between sessions.
type Resetter interface {
	Reset()
}

// DetectorFunc adapts an ordinary function to the [Detector] interface.
type DetectorFunc func(frame audio.Frame) (int, bool, error)

// Process calls f(frame).
func (f DetectorFunc) Process(frame audio.Frame) (int, bool, error) {
	return f(frame)
}
