// Package mock provides a test double for the stt.Transcriber interface.
//
// Example:
//
//	tr := &mock.Transcriber{Result: stt.Transcript{Text: "open firefox"}}
//	got, _ := tr.Transcribe(ctx, utterance)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/echocrafter/pkg/audio"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Utterance is the utterance passed to Transcribe. Frames are shared,
	// not copied; they are immutable.
	Utterance audio.Utterance
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by every Transcribe call when Err is nil.
	Result stt.Transcript

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// Block makes Transcribe wait until ctx is done or Release is closed.
	Block bool

	// Release, when Block is set, unblocks pending Transcribe calls once closed.
	Release chan struct{}

	// TranscribeCalls records every call in order.
	TranscribeCalls []TranscribeCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Transcribe records the call and returns Result, Err.
func (m *Transcriber) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	m.mu.Lock()
	m.TranscribeCalls = append(m.TranscribeCalls, TranscribeCall{Utterance: u})
	block, release := m.Block, m.Release
	result, err := m.Result, m.Err
	m.mu.Unlock()

	if block {
		select {
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		case <-release:
		}
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	if result.Duration == 0 {
		result.Duration = u.Duration()
	}
	return result, nil
}

// Close records the call. It lets the mock stand in for backends that own
// native resources.
func (m *Transcriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCallCount++
	return nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.TranscribeCalls)
}

// LastUtterance returns the utterance of the most recent call.
func (m *Transcriber) LastUtterance() (audio.Utterance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.TranscribeCalls) == 0 {
		return audio.Utterance{}, false
	}
	return m.TranscribeCalls[len(m.TranscribeCalls)-1].Utterance, true
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
