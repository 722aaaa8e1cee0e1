// Package mock provides a test double for the wakeword.Detector interface.
//
// Example:
//
//	d := &mock.Detector{TriggerAt: map[uint64]int{50: 0}}
//	kw, ok, _ := d.Process(frame)
package mock

import (
	"sync"

	"github.com/MrWong99/echocrafter/pkg/audio"
	"github.com/MrWong99/echocrafter/pkg/provider/wakeword"
)

// Detector is a mock implementation of wakeword.Detector.
type Detector struct {
	mu sync.Mutex

	// TriggerAt maps a frame Seq to the keyword index reported for it.
	TriggerAt map[uint64]int

	// TriggerEvery, when positive, reports keyword 0 on every n-th Process
	// call. Useful for driving repeated sessions.
	TriggerEvery int

	// ProcessErr, if non-nil, is returned by every Process call.
	ProcessErr error

	// --- Call records ---

	// Frames records the Seq of every frame passed to Process, in order.
	Frames []uint64

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Process records the frame and reports a detection when scripted.
func (d *Detector) Process(frame audio.Frame) (int, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Frames = append(d.Frames, frame.Seq)
	if d.ProcessErr != nil {
		return 0, false, d.ProcessErr
	}
	if kw, ok := d.TriggerAt[frame.Seq]; ok {
		return kw, true, nil
	}
	if d.TriggerEvery > 0 && len(d.Frames)%d.TriggerEvery == 0 {
		return 0, true, nil
	}
	return 0, false, nil
}

// Reset records the call.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ResetCallCount++
}

// Close records the call.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCallCount++
	return nil
}

// CallCount returns how many frames Process has seen. Thread-safe.
func (d *Detector) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Frames)
}

// Ensure Detector implements the wakeword interfaces at compile time.
var (
	_ wakeword.Detector = (*Detector)(nil)
	_ wakeword.Resetter = (*Detector)(nil)
)
