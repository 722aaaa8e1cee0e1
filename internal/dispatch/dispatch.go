// Package dispatch delivers session outcomes to the world outside the
// pipeline: log lines, a controller listening on a unix socket, a NATS
// subject tree, audible cues and a debug recording of fallback utterances.
//
// Every sink implements [Dispatcher]. [Multi] fans one event out to several
// sinks and [Async] moves delivery off the orchestrator goroutine while
// keeping events in order.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/echocrafter/pkg/provider/intent"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
)

// Dispatcher receives session outcomes. Implementations must be safe for
// concurrent use.
type Dispatcher interface {
	// WakeWord reports that keyword (an index into the configured phrases)
	// was detected.
	WakeWord(ctx context.Context, keyword int) error

	// Intent reports an understood command.
	Intent(ctx context.Context, in intent.Intent) error

	// Transcript reports the fallback transcription of a command that was
	// not understood.
	Transcript(ctx context.Context, t stt.Transcript) error
}

// Event types as they appear in [Event.Type] and NATS subjects.
const (
	TypeWake       = "wake"
	TypeIntent     = "intent"
	TypeTranscript = "transcript"
)

// Event is the JSON envelope written by the socket and NATS sinks. Exactly
// one of Keyword, Intent and Transcript is set, matching Type.
type Event struct {
	Type       string          `json:"type"`
	Time       time.Time       `json:"time"`
	Keyword    *int            `json:"keyword,omitempty"`
	Intent     *intent.Intent  `json:"intent,omitempty"`
	Transcript *stt.Transcript `json:"transcript,omitempty"`
}

func wakeEvent(keyword int) Event {
	return Event{Type: TypeWake, Time: time.Now().UTC(), Keyword: &keyword}
}

func intentEvent(in intent.Intent) Event {
	return Event{Type: TypeIntent, Time: time.Now().UTC(), Intent: &in}
}

func transcriptEvent(t stt.Transcript) Event {
	return Event{Type: TypeTranscript, Time: time.Now().UTC(), Transcript: &t}
}

// ── Log ──────────────────────────────────────────────────────────────────────

var _ Dispatcher = (*Log)(nil)

// Log writes every event as a structured log line.
type Log struct {
	log *slog.Logger
}

// NewLog returns a log sink. A nil logger uses slog.Default().
func NewLog(l *slog.Logger) *Log {
	if l == nil {
		l = slog.Default()
	}
	return &Log{log: l}
}

// WakeWord implements [Dispatcher].
func (l *Log) WakeWord(ctx context.Context, keyword int) error {
	l.log.InfoContext(ctx, "wake word", "keyword", keyword)
	return nil
}

// Intent implements [Dispatcher].
func (l *Log) Intent(ctx context.Context, in intent.Intent) error {
	l.log.InfoContext(ctx, "intent", "name", in.Name, "slots", in.Slots)
	return nil
}

// Transcript implements [Dispatcher].
func (l *Log) Transcript(ctx context.Context, t stt.Transcript) error {
	l.log.InfoContext(ctx, "transcript", "text", t.Text, "words", len(t.Words), "duration", t.Duration)
	return nil
}

// ── Multi ────────────────────────────────────────────────────────────────────

var _ Dispatcher = Multi(nil)

// Multi delivers each event to every sink concurrently and waits for all of
// them. A failing sink does not prevent delivery to the others; the errors
// are joined.
type Multi []Dispatcher

// WakeWord implements [Dispatcher].
func (m Multi) WakeWord(ctx context.Context, keyword int) error {
	return m.each(func(d Dispatcher) error { return d.WakeWord(ctx, keyword) })
}

// Intent implements [Dispatcher].
func (m Multi) Intent(ctx context.Context, in intent.Intent) error {
	return m.each(func(d Dispatcher) error { return d.Intent(ctx, in) })
}

// Transcript implements [Dispatcher].
func (m Multi) Transcript(ctx context.Context, t stt.Transcript) error {
	return m.each(func(d Dispatcher) error { return d.Transcript(ctx, t) })
}

func (m Multi) each(fn func(Dispatcher) error) error {
	errs := make([]error, len(m))
	var wg sync.WaitGroup
	for i, d := range m {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fn(d)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// ── Async ────────────────────────────────────────────────────────────────────

var _ Dispatcher = (*Async)(nil)

// ErrQueueFull is returned by [Async] when an event was dropped because the
// queue was full.
var ErrQueueFull = errors.New("dispatch: queue full, event dropped")

// Async queues events and delivers them to the wrapped dispatcher on its own
// goroutine, in order. Enqueueing never blocks: when the queue is full the
// event is dropped and ErrQueueFull returned.
type Async struct {
	next    Dispatcher
	timeout time.Duration
	log     *slog.Logger

	queue chan func(context.Context) error
	done  chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// AsyncOption configures an [Async].
type AsyncOption func(*Async)

// WithTimeout bounds each delivery. The default is 5s.
func WithTimeout(d time.Duration) AsyncOption {
	return func(a *Async) { a.timeout = d }
}

// WithLogger sets the logger for delivery failures.
func WithLogger(l *slog.Logger) AsyncOption {
	return func(a *Async) { a.log = l }
}

// NewAsync starts a delivery goroutine for next with room for size queued
// events. Close stops it.
func NewAsync(next Dispatcher, size int, opts ...AsyncOption) *Async {
	a := &Async{
		next:    next,
		timeout: 5 * time.Second,
		log:     slog.Default(),
		queue:   make(chan func(context.Context) error, max(1, size)),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	go a.loop()
	return a
}

func (a *Async) loop() {
	defer close(a.done)
	for fn := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := fn(ctx); err != nil {
			a.log.Warn("dispatch: delivery failed", "err", err)
		}
		cancel()
	}
}

func (a *Async) enqueue(fn func(context.Context) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return errors.New("dispatch: async dispatcher closed")
	}
	select {
	case a.queue <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// WakeWord implements [Dispatcher]. The context is not used; delivery gets
// its own deadline.
func (a *Async) WakeWord(_ context.Context, keyword int) error {
	return a.enqueue(func(ctx context.Context) error { return a.next.WakeWord(ctx, keyword) })
}

// Intent implements [Dispatcher].
func (a *Async) Intent(_ context.Context, in intent.Intent) error {
	return a.enqueue(func(ctx context.Context) error { return a.next.Intent(ctx, in) })
}

// Transcript implements [Dispatcher].
func (a *Async) Transcript(_ context.Context, t stt.Transcript) error {
	return a.enqueue(func(ctx context.Context) error { return a.next.Transcript(ctx, t) })
}

// Close stops accepting events, delivers what is queued and returns when the
// queue is empty or ctx is done.
func (a *Async) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
