package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open circuit breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// FallbackConfig configures the breaker created for each backend in a
// [FallbackGroup]. The breaker's Name is overwritten with the backend name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// BackendStatus is a point-in-time view of one group entry.
type BackendStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and zero or more fallbacks of the same
// backend type. Calls go to the first entry whose breaker admits them.
//
// Entries must all be registered before the group is shared between
// goroutines.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
	log     *slog.Logger
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	log := cfg.CircuitBreaker.Logger
	if log == nil {
		log = slog.Default()
	}
	fg := &FallbackGroup[T]{cfg: cfg, log: log}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a backend. Fallbacks are tried in the order they are
// added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Len returns the number of registered backends, primary included.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Primary returns the first registered backend.
func (fg *FallbackGroup[T]) Primary() T { return fg.entries[0].value }

// Each calls fn for every registered backend in order.
func (fg *FallbackGroup[T]) Each(fn func(name string, v T)) {
	for _, e := range fg.entries {
		fn(e.name, e.value)
	}
}

// Status reports every backend's breaker state in registration order.
func (fg *FallbackGroup[T]) Status() []BackendStatus {
	out := make([]BackendStatus, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = BackendStatus{Name: e.name, State: e.breaker.State().String()}
	}
	return out
}

// Execute tries fn against each entry in order until one succeeds. Entries
// with an open breaker are skipped. Once ctx is done no further entries are
// tried and ctx.Err() is returned.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that return a value.
// It is a function because methods cannot declare type parameters.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			fg.log.Debug("skipping backend, circuit open", "backend", entry.name)
		} else {
			fg.log.Warn("backend failed, trying next", "backend", entry.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
