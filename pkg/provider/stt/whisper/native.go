// This file contains the Native transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/echocrafter/pkg/audio"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
)

// Compile-time assertions.
var (
	_ stt.Transcriber = (*Native)(nil)
	_ io.Closer       = (*Native)(nil)
)

// NativeOption is a functional option for configuring a [Native] transcriber.
type NativeOption func(*Native)

// WithNativeLanguage sets the language code for transcription (e.g., "en",
// "de"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// WithNativeWordTimestamps enables token-level timestamps, from which word
// timings are assembled. Enabled by default.
func WithNativeWordTimestamps(enabled bool) NativeOption {
	return func(n *Native) { n.wordTimestamps = enabled }
}

// Native transcribes utterances in-process with a whisper.cpp model. The
// model is loaded once; every Transcribe call gets its own inference context,
// so calls may run concurrently.
type Native struct {
	language       string
	wordTimestamps bool

	mu    sync.RWMutex
	model whisperlib.Model
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the transcriber is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	n := &Native{
		model:          model,
		language:       defaultLanguage,
		wordTimestamps: true,
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Close releases the model. Calling Close more than once is safe.
func (n *Native) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.model == nil {
		return nil
	}
	err := n.model.Close()
	n.model = nil
	return err
}

// Transcribe implements [stt.Transcriber]. whisper.cpp inference cannot be
// interrupted; ctx is checked before it starts.
func (n *Native) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	if u.Len() == 0 {
		return stt.Transcript{}, errEmpty
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.model == nil {
		return stt.Transcript{}, errors.New("whisper: transcriber is closed")
	}

	// Each context is NOT thread-safe, but the model can be shared.
	wctx, err := n.model.NewContext()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(n.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", n.language, "err", err)
	}
	wctx.SetTokenTimestamps(n.wordTimestamps)

	samples := audio.Int16ToFloat32(u.Samples())
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	tr := stt.Transcript{Duration: u.Duration()}
	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
		if n.wordTimestamps {
			toks := make([]token, 0, len(segment.Tokens))
			for _, t := range segment.Tokens {
				toks = append(toks, token{text: t.Text, p: float64(t.P), start: t.Start, end: t.End})
			}
			tr.Words = append(tr.Words, wordsFromTokens(toks)...)
		}
	}
	tr.Text = strings.Join(parts, " ")
	if len(tr.Words) > 0 {
		var sum float64
		for _, w := range tr.Words {
			sum += w.Confidence
		}
		tr.Confidence = sum / float64(len(tr.Words))
	}
	return tr, nil
}
