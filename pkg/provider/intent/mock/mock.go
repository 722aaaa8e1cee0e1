// Package mock provides test doubles for the intent package interfaces.
//
// Classifier finalizes after a configurable number of frames and then returns
// a preset Intent. Resolver returns a preset Intent for any text.
//
// Example:
//
//	c := &mock.Classifier{
//	    FinalizeAfter: 30,
//	    Result: intent.Intent{Name: "focusWindow", Understood: true},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/echocrafter/pkg/audio"
	"github.com/MrWong99/echocrafter/pkg/provider/intent"
)

// Classifier is a mock implementation of intent.Classifier.
type Classifier struct {
	mu sync.Mutex

	// FinalizeAfter is the number of frames after which Process reports
	// finalized. Zero or negative means never.
	FinalizeAfter int

	// Result is returned by Inference when InferenceErr is nil.
	Result intent.Intent

	// ProcessErr, if non-nil, is returned by every Process call.
	ProcessErr error

	// InferenceErr, if non-nil, is returned by Inference.
	InferenceErr error

	// --- Call records ---

	// Frames records the Seq of every frame passed to Process since the last
	// Reset.
	Frames []uint64

	// AllFrames records every frame Seq ever passed to Process.
	AllFrames []uint64

	// InferenceCallCount is the number of times Inference was called.
	InferenceCallCount int

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	finalized bool
}

// Process records the frame and reports finalized once FinalizeAfter frames
// have been seen since the last Reset.
func (c *Classifier) Process(frame audio.Frame) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Frames = append(c.Frames, frame.Seq)
	c.AllFrames = append(c.AllFrames, frame.Seq)
	if c.ProcessErr != nil {
		return false, c.ProcessErr
	}
	if c.FinalizeAfter > 0 && len(c.Frames) >= c.FinalizeAfter {
		c.finalized = true
	}
	return c.finalized, nil
}

// Inference records the call and returns Result, InferenceErr. It returns
// intent.ErrNotFinalized if Process has not finalized.
func (c *Classifier) Inference(_ context.Context) (intent.Intent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.InferenceCallCount++
	if c.InferenceErr != nil {
		return intent.Intent{}, c.InferenceErr
	}
	if !c.finalized {
		return intent.Intent{}, intent.ErrNotFinalized
	}
	return c.Result, nil
}

// Reset clears per-utterance state and records the call.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResetCallCount++
	c.Frames = nil
	c.finalized = false
}

// Close records the call.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCallCount++
	return nil
}

// FramesSinceReset returns a copy of Frames. Thread-safe.
func (c *Classifier) FramesSinceReset() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, len(c.Frames))
	copy(out, c.Frames)
	return out
}

// Ensure Classifier implements intent.Classifier at compile time.
var _ intent.Classifier = (*Classifier)(nil)

// ResolveCall records a single invocation of Resolver.Resolve.
type ResolveCall struct {
	Text string
}

// Resolver is a mock implementation of intent.Resolver.
type Resolver struct {
	mu sync.Mutex

	// Result is returned by every Resolve call when Err is nil.
	Result intent.Intent

	// Err, if non-nil, is returned by every Resolve call.
	Err error

	// ResolveCalls records every call in order.
	ResolveCalls []ResolveCall
}

// Resolve records the call and returns Result, Err.
func (r *Resolver) Resolve(_ context.Context, text string) (intent.Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ResolveCalls = append(r.ResolveCalls, ResolveCall{Text: text})
	if r.Err != nil {
		return intent.Intent{}, r.Err
	}
	return r.Result, nil
}

// Ensure Resolver implements intent.Resolver at compile time.
var _ intent.Resolver = (*Resolver)(nil)
