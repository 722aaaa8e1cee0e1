// Package engine owns the four capability engines the orchestrator drives:
// a wake-word detector, a voice activity detector, an intent classifier and
// a transcriber.
//
// A [Set] is built once, before the orchestrator starts, from a [Builders]
// value that names a constructor per engine kind. Construction is
// all-or-nothing: if any builder fails, the engines built so far are closed
// in reverse order and [New] returns an [*InitError]. Engines that hold
// native resources implement io.Closer; [Set.Close] releases them in reverse
// construction order.
//
// This package lives under internal/ because the engine lifecycle is an
// application concern; the engine contracts themselves live in pkg/provider.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/MrWong99/echocrafter/pkg/provider/intent"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
	"github.com/MrWong99/echocrafter/pkg/provider/vad"
	"github.com/MrWong99/echocrafter/pkg/provider/wakeword"
)

// Kind identifies an engine slot.
type Kind string

// Engine kinds, in construction order.
const (
	KindVAD         Kind = "vad"
	KindTranscriber Kind = "transcriber"
	KindWakeWord    Kind = "wakeword"
	KindIntent      Kind = "intent"
)

// ErrNoBuilder is wrapped by InitError when a kind has no constructor.
var ErrNoBuilder = errors.New("no builder configured")

// InitError reports that an engine could not be constructed. It is fatal:
// the orchestrator cannot start without all four engines.
type InitError struct {
	Kind Kind
	Name string
	Err  error
}

// Error implements error.
func (e *InitError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("engine: init %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("engine: init %s %q: %v", e.Kind, e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *InitError) Unwrap() error { return e.Err }

// Builder constructs one engine. Build receives the engines constructed
// before it, so later kinds may reuse earlier ones (an intent classifier
// that transcribes, for example).
type Builder[T any] struct {
	// Name is the provider name, used in errors and logs.
	Name string

	// Build constructs the engine. It must return a non-nil engine or an
	// error.
	Build func(ctx context.Context, built *Set) (T, error)
}

// Static returns a builder that always yields v. Handy for tests and for
// engines constructed elsewhere.
func Static[T any](name string, v T) Builder[T] {
	return Builder[T]{Name: name, Build: func(context.Context, *Set) (T, error) { return v, nil }}
}

// Builders holds one constructor per engine kind.
type Builders struct {
	VAD         Builder[vad.Detector]
	Transcriber Builder[stt.Transcriber]
	WakeWord    Builder[wakeword.Detector]
	Intent      Builder[intent.Classifier]
}

// Set is the constructed engines. The fields are read-only after New.
// Engines are owned by the orchestrator goroutine; Set does no locking
// around engine calls.
type Set struct {
	VAD         vad.Detector
	Transcriber stt.Transcriber
	WakeWord    wakeword.Detector
	Intent      intent.Classifier

	names   map[Kind]string
	closers []namedCloser

	closeOnce sync.Once
	closeErr  error
}

type namedCloser struct {
	kind Kind
	name string
	c    io.Closer
}

// New builds every engine in construction order. On failure it closes what
// was already built and returns an *InitError.
func New(ctx context.Context, b Builders) (*Set, error) {
	s := &Set{names: make(map[Kind]string, 4)}

	var err error
	if s.VAD, err = build(ctx, s, KindVAD, b.VAD); err != nil {
		return nil, s.abort(err)
	}
	if s.Transcriber, err = build(ctx, s, KindTranscriber, b.Transcriber); err != nil {
		return nil, s.abort(err)
	}
	if s.WakeWord, err = build(ctx, s, KindWakeWord, b.WakeWord); err != nil {
		return nil, s.abort(err)
	}
	if s.Intent, err = build(ctx, s, KindIntent, b.Intent); err != nil {
		return nil, s.abort(err)
	}
	return s, nil
}

// build runs one builder and registers the result for closing.
func build[T any](ctx context.Context, s *Set, kind Kind, b Builder[T]) (T, error) {
	var zero T
	if b.Build == nil {
		return zero, &InitError{Kind: kind, Name: b.Name, Err: ErrNoBuilder}
	}
	if err := ctx.Err(); err != nil {
		return zero, &InitError{Kind: kind, Name: b.Name, Err: err}
	}
	v, err := b.Build(ctx, s)
	if err != nil {
		return zero, &InitError{Kind: kind, Name: b.Name, Err: err}
	}
	if isNil(v) {
		return zero, &InitError{Kind: kind, Name: b.Name, Err: errors.New("builder returned nil engine")}
	}
	s.names[kind] = b.Name
	if c, ok := any(v).(io.Closer); ok {
		s.closers = append(s.closers, namedCloser{kind: kind, name: b.Name, c: c})
	}
	return v, nil
}

// isNil reports whether v is a nil interface. Typed nil pointers are the
// builder's bug and are not detected.
func isNil[T any](v T) bool {
	return any(v) == nil
}

// abort closes the engines built so far and returns err, with any close
// failures joined to it.
func (s *Set) abort(err error) error {
	if cerr := s.Close(); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}

// Name returns the provider name the engine of kind was built from.
func (s *Set) Name(kind Kind) string { return s.names[kind] }

// Close releases every engine that implements io.Closer, in reverse
// construction order. It is safe to call more than once; later calls
// return the first result.
func (s *Set) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		for i := len(s.closers) - 1; i >= 0; i-- {
			nc := s.closers[i]
			if err := nc.c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("engine: close %s %q: %w", nc.kind, nc.name, err))
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
