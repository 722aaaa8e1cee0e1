// Package vad defines the Detector interface for voice-activity detection
// backends.
//
// A detector wraps a frame-level speech model (Silero, WebRTC VAD, Cobra or a
// plain energy gate) and reduces every frame to a single speech probability.
// The utterance collector compares that probability against a low and a high
// threshold to find the end of speech; the detector itself never decides.
//
// Detectors keep per-stream state (smoothing history, model recurrent state)
// and are therefore not safe for concurrent use. The orchestrator owns its
// detector exclusively and calls it from a single goroutine.
package vad

import "github.com/MrWong99/echocrafter/pkg/audio"

// Detector scores frames for speech presence.
type Detector interface {
	// Process analyses a single frame and returns the probability in [0, 1]
	// that it contains speech. Frames must match the format the detector was
	// built for. Process must not block.
	Process(frame audio.Frame) (float64, error)

	// Reset clears accumulated detection state so that the next frame is
	// scored as the start of a new stream.
	Reset()
}

// Clamp limits p to the closed interval [0, 1]. Implementations use it so a
// misbehaving model can never push the collector's counters out of range.
func Clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
