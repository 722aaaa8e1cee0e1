// Package mock provides a recording dispatch.Dispatcher for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/echocrafter/internal/dispatch"
	"github.com/MrWong99/echocrafter/pkg/provider/intent"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
)

var _ dispatch.Dispatcher = (*Dispatcher)(nil)

// Dispatcher records every event it receives.
type Dispatcher struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every call.
	Err error

	// Block makes every call wait until ctx is done or Release is closed.
	Block   bool
	Release chan struct{}

	// Events records the event types in arrival order.
	Events []string

	Keywords    []int
	Intents     []intent.Intent
	Transcripts []stt.Transcript
}

func (d *Dispatcher) record(ctx context.Context, typ string, fn func()) error {
	d.mu.Lock()
	d.Events = append(d.Events, typ)
	fn()
	block, release, err := d.Block, d.Release, d.Err
	d.mu.Unlock()

	if block {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
		}
	}
	return err
}

// WakeWord records the keyword.
func (d *Dispatcher) WakeWord(ctx context.Context, keyword int) error {
	return d.record(ctx, dispatch.TypeWake, func() { d.Keywords = append(d.Keywords, keyword) })
}

// Intent records the intent.
func (d *Dispatcher) Intent(ctx context.Context, in intent.Intent) error {
	return d.record(ctx, dispatch.TypeIntent, func() { d.Intents = append(d.Intents, in) })
}

// Transcript records the transcript.
func (d *Dispatcher) Transcript(ctx context.Context, t stt.Transcript) error {
	return d.record(ctx, dispatch.TypeTranscript, func() { d.Transcripts = append(d.Transcripts, t) })
}

// EventLog returns a copy of Events. Thread-safe.
func (d *Dispatcher) EventLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.Events))
	copy(out, d.Events)
	return out
}
