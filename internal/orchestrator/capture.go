package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/echocrafter/pkg/audio"
)

// Capture is the capture worker: it starts src and pushes every frame it
// reads into ring until ctx is done or src fails. It blocks on nothing but
// the device; a full ring evicts its oldest frame instead of waiting.
//
// On return the source is stopped and the ring closed, so a consumer
// blocked in Pop drains what is left and then sees [audio.ErrClosed].
// Capture returns nil when ctx ends it. A finite source returns an error
// wrapping [audio.ErrEndOfStream].
func Capture(ctx context.Context, src audio.Source, ring *audio.Ring) error {
	defer ring.Close()

	if err := src.Start(ctx); err != nil {
		return fmt.Errorf("orchestrator: start capture: %w", err)
	}
	defer func() {
		if err := src.Stop(); err != nil {
			slog.Warn("orchestrator: stop capture source", "err", err)
		}
	}()

	var evicted uint64
	for {
		if ctx.Err() != nil {
			return nil
		}
		f, err := src.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, audio.ErrEndOfStream) {
				slog.Info("orchestrator: capture source exhausted", "evicted", evicted)
			}
			return fmt.Errorf("orchestrator: capture: %w", err)
		}
		if ring.Push(f) {
			evicted++
			// Log the first overflow and then every ring's worth.
			if evicted == 1 || evicted%uint64(ring.Cap()) == 0 {
				slog.Warn("orchestrator: frame ring full, evicting oldest frames", "evicted", evicted, "capacity", ring.Cap())
			}
		}
	}
}
