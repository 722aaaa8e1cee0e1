// Package stt defines the Transcriber interface for speech-to-text backends.
//
// Transcription in the voice-command pipeline is a batch step: the utterance
// collector has already found the end of speech, so a Transcriber receives a
// complete [audio.Utterance] and returns a single [Transcript] with optional
// word timings. The call may take many frame-times; capture keeps running on
// its own goroutine while it does.
//
// Implementations must be safe for concurrent use. Backends that hold native
// resources (e.g., a loaded whisper.cpp model) also implement io.Closer.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/echocrafter/pkg/audio"
)

// ErrEmptyUtterance is returned when Transcribe is called with no audio.
var ErrEmptyUtterance = errors.New("stt: utterance is empty")

// Transcriber converts a finished utterance into text.
type Transcriber interface {
	// Transcribe returns the transcript of u. An utterance that contains no
	// recognisable speech yields a Transcript with empty Text and a nil error.
	// Returns an error if the backend fails or ctx is cancelled.
	Transcribe(ctx context.Context, u audio.Utterance) (Transcript, error)
}

// TranscriberFunc adapts an ordinary function to the [Transcriber] interface.
type TranscriberFunc func(ctx context.Context, u audio.Utterance) (Transcript, error)

// Transcribe calls f(ctx, u).
func (f TranscriberFunc) Transcribe(ctx context.Context, u audio.Utterance) (Transcript, error) {
	return f(ctx, u)
}
