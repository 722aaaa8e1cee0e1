// Package mock provides a test double for the vad.Detector interface.
//
// Detector replays a script of probabilities, one per Process call, and
// records the frames it was given so tests can assert on ordering.
//
// Example:
//
//	d := &mock.Detector{Probabilities: []float64{0.3, 0.3, 0.05}, Default: 0.05}
//	p, _ := d.Process(frame)
package mock

import (
	"sync"

	"github.com/MrWong99/echocrafter/pkg/audio"
	"github.com/MrWong99/echocrafter/pkg/provider/vad"
)

// Detector is a mock implementation of vad.Detector.
type Detector struct {
	mu sync.Mutex

	// Probabilities are returned in order, one per Process call.
	Probabilities []float64

	// Default is returned once Probabilities is exhausted.
	Default float64

	// ProbabilityFunc, if set, takes precedence over the script. It receives
	// the frame being processed.
	ProbabilityFunc func(audio.Frame) float64

	// ProcessErr, if non-nil, is returned by every Process call.
	ProcessErr error

	// --- Call records ---

	// Frames records the Seq of every frame passed to Process, in order.
	Frames []uint64

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int
}

// Process records the frame and returns the next scripted probability.
func (d *Detector) Process(frame audio.Frame) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.Frames)
	d.Frames = append(d.Frames, frame.Seq)
	if d.ProcessErr != nil {
		return 0, d.ProcessErr
	}
	if d.ProbabilityFunc != nil {
		return d.ProbabilityFunc(frame), nil
	}
	if n < len(d.Probabilities) {
		return d.Probabilities[n], nil
	}
	return d.Default, nil
}

// Reset records the call by incrementing ResetCallCount.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ResetCallCount++
}

// CallCount returns how many frames Process has seen. Thread-safe.
func (d *Detector) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Frames)
}

// Ensure Detector implements vad.Detector at compile time.
var _ vad.Detector = (*Detector)(nil)
