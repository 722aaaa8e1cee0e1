// Package intent defines the Classifier and Resolver interfaces for
// speech-to-intent backends, and the [Grammar] that describes which intents
// and slot values exist.
//
// A Classifier consumes frames directly (Picovoice Rhino style): it is fed
// one frame at a time until it reports that it has finalized, after which
// Inference returns the recognised [Intent]. A Resolver works on text
// instead and is used by classifiers that transcribe first.
//
// Classifiers keep per-utterance state and are not safe for concurrent use.
// Resolvers are stateless and safe for concurrent use.
package intent

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/MrWong99/echocrafter/pkg/audio"
)

// ErrNotFinalized is returned by Inference when Process has not yet
// reported that the classifier finalized.
var ErrNotFinalized = errors.New("intent: inference requested before the classifier finalized")

// Intent is a structured command with named slots.
type Intent struct {
	// Name is the intent name from the grammar (e.g., "focusWindow").
	Name string `json:"intent"`

	// Slots maps slot names to their values (e.g., "windowName": "chrome").
	Slots map[string]string `json:"slots,omitempty"`

	// Understood is false when the classifier heard speech but could not map
	// it to any intent. Name and Slots are empty in that case.
	Understood bool `json:"understood"`
}

// NotUnderstood is the result of a classification that matched nothing.
func NotUnderstood() Intent { return Intent{} }

// String renders the intent as "name{k=v, ...}" with slots in key order.
func (i Intent) String() string {
	if !i.Understood {
		return "<not understood>"
	}
	if len(i.Slots) == 0 {
		return i.Name
	}
	keys := slices.Sorted(maps.Keys(i.Slots))
	parts := make([]string, len(keys))
	for n, k := range keys {
		parts[n] = k + "=" + i.Slots[k]
	}
	return fmt.Sprintf("%s{%s}", i.Name, strings.Join(parts, ", "))
}

// Classifier recognises intents directly from audio frames.
type Classifier interface {
	// Process feeds one frame and reports whether the classifier has reached
	// a decision. Once it returns true, Process must not be called again
	// until Reset.
	Process(frame audio.Frame) (finalized bool, err error)

	// Inference returns the result after Process reported finalized. It may
	// block (e.g., on a transcription backend) and honours ctx.
	Inference(ctx context.Context) (Intent, error)

	// Reset clears the per-utterance state so the classifier can be reused.
	Reset()
}

// Resolver maps transcribed text to an intent. A resolver that finds no
// match returns an Intent with Understood == false and a nil error.
type Resolver interface {
	Resolve(ctx context.Context, text string) (Intent, error)
}

// ResolverFunc adapts an ordinary function to the [Resolver] interface.
type ResolverFunc func(ctx context.Context, text string) (Intent, error)

// Resolve calls f(ctx, text).
func (f ResolverFunc) Resolve(ctx context.Context, text string) (Intent, error) {
	return f(ctx, text)
}
