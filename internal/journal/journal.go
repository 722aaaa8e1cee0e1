// Package journal keeps a durable history of session outcomes: every
// understood intent and every fallback transcript.
//
// Two backends exist: [github.com/MrWong99/echocrafter/internal/journal/sqlite]
// for a single machine and
// [github.com/MrWong99/echocrafter/internal/journal/postgres] for a shared
// database. Both satisfy [Journal]. [Sink] adapts a Journal to the
// dispatch.Dispatcher interface so it can sit alongside the other sinks.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/echocrafter/internal/dispatch"
	"github.com/MrWong99/echocrafter/pkg/provider/intent"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
)

// Kind is the outcome an entry records.
type Kind string

const (
	KindIntent     Kind = "intent"
	KindTranscript Kind = "transcript"
)

// Entry is one journal row.
type Entry struct {
	// ID is assigned by the backend on Record.
	ID int64

	Kind Kind

	// Name and Slots are set for intents.
	Name  string
	Slots map[string]string

	// Text and Words are set for transcripts.
	Text  string
	Words []stt.Word

	// Duration is the length of the transcribed audio; zero for intents.
	Duration time.Duration

	// Time is when the outcome was produced.
	Time time.Time
}

// IntentEntry returns an entry for an understood intent.
func IntentEntry(in intent.Intent, at time.Time) Entry {
	return Entry{Kind: KindIntent, Name: in.Name, Slots: in.Slots, Time: at}
}

// TranscriptEntry returns an entry for a fallback transcript.
func TranscriptEntry(t stt.Transcript, at time.Time) Entry {
	return Entry{Kind: KindTranscript, Text: t.Text, Words: t.Words, Duration: t.Duration, Time: at}
}

// Validate reports whether e can be stored.
func (e Entry) Validate() error {
	switch e.Kind {
	case KindIntent:
		if e.Name == "" {
			return errors.New("journal: intent entry without a name")
		}
	case KindTranscript:
	default:
		return fmt.Errorf("journal: unknown entry kind %q", e.Kind)
	}
	if e.Time.IsZero() {
		return errors.New("journal: entry without a time")
	}
	return nil
}

// Journal stores entries. Implementations are safe for concurrent use.
type Journal interface {
	// Record stores e and returns it with its assigned ID.
	Record(ctx context.Context, e Entry) (Entry, error)

	// Recent returns up to n entries, newest first.
	Recent(ctx context.Context, n int) ([]Entry, error)

	// Close releases the backend.
	Close() error
}

// EncodeSlots stores slots as JSON text. Both backends use these helpers so
// their columns agree.
func EncodeSlots(slots map[string]string) (string, error) {
	if len(slots) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(slots)
	if err != nil {
		return "", fmt.Errorf("journal: encode slots: %w", err)
	}
	return string(b), nil
}

// DecodeSlots is the inverse of EncodeSlots. An empty object yields nil.
func DecodeSlots(s string) (map[string]string, error) {
	var slots map[string]string
	if s == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(s), &slots); err != nil {
		return nil, fmt.Errorf("journal: decode slots: %w", err)
	}
	if len(slots) == 0 {
		return nil, nil
	}
	return slots, nil
}

// EncodeWords stores word timings as JSON.
func EncodeWords(words []stt.Word) (string, error) {
	if len(words) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(words)
	if err != nil {
		return "", fmt.Errorf("journal: encode words: %w", err)
	}
	return string(b), nil
}

// DecodeWords is the inverse of EncodeWords. An empty array yields nil.
func DecodeWords(s string) ([]stt.Word, error) {
	var words []stt.Word
	if s == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(s), &words); err != nil {
		return nil, fmt.Errorf("journal: decode words: %w", err)
	}
	if len(words) == 0 {
		return nil, nil
	}
	return words, nil
}

// ── dispatch adapter ─────────────────────────────────────────────────────────

var _ dispatch.Dispatcher = (*Sink)(nil)

// Sink records intents and transcripts delivered through the dispatch
// interface. Wake words are not journaled.
type Sink struct {
	j   Journal
	now func() time.Time
}

// NewSink wraps j.
func NewSink(j Journal) *Sink { return &Sink{j: j, now: time.Now} }

// WakeWord implements dispatch.Dispatcher. It records nothing.
func (s *Sink) WakeWord(context.Context, int) error { return nil }

// Intent implements dispatch.Dispatcher.
func (s *Sink) Intent(ctx context.Context, in intent.Intent) error {
	_, err := s.j.Record(ctx, IntentEntry(in, s.now()))
	return err
}

// Transcript implements dispatch.Dispatcher.
func (s *Sink) Transcript(ctx context.Context, t stt.Transcript) error {
	_, err := s.j.Record(ctx, TranscriptEntry(t, s.now()))
	return err
}
