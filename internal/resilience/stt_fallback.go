package resilience

import (
	"context"
	"errors"
	"io"

	"github.com/MrWong99/echocrafter/pkg/audio"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
)

// TranscriberFallback implements [stt.Transcriber] with failover across
// several transcription backends, each behind its own circuit breaker.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var (
	_ stt.Transcriber = (*TranscriberFallback)(nil)
	_ io.Closer       = (*TranscriberFallback)(nil)
)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another transcriber, tried after those already added.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Transcribe sends u to the first healthy backend. An empty utterance is
// rejected by the primary alone since every backend would refuse it.
func (f *TranscriberFallback) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	if u.Len() == 0 {
		return f.group.Primary().Transcribe(ctx, u)
	}
	return ExecuteWithResult(ctx, f.group, func(t stt.Transcriber) (stt.Transcript, error) {
		return t.Transcribe(ctx, u)
	})
}

// Status reports the breaker state of every backend.
func (f *TranscriberFallback) Status() []BackendStatus { return f.group.Status() }

// Close closes every backend that implements io.Closer and joins the errors.
func (f *TranscriberFallback) Close() error {
	var errs []error
	f.group.Each(func(_ string, t stt.Transcriber) {
		if c, ok := t.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	})
	return errors.Join(errs...)
}
