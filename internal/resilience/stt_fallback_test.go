package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/echocrafter/pkg/audio"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
	sttmock "github.com/MrWong99/echocrafter/pkg/provider/stt/mock"
)

func utterance(n int) audio.Utterance {
	u := audio.Utterance{Format: audio.DefaultFormat()}
	for i := range n {
		u.Append(audio.Frame{Seq: uint64(i + 1), Samples: make([]int16, audio.DefaultFrameLength)})
	}
	return u
}

func TestTranscriberFallback_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Transcriber{Result: stt.Transcript{Text: "open firefox"}}
	secondary := &sttmock.Transcriber{}

	fb := NewTranscriberFallback(primary, "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("deepgram", secondary)

	got, err := fb.Transcribe(context.Background(), utterance(4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "open firefox" {
		t.Errorf("Text = %q, want %q", got.Text, "open firefox")
	}
	if primary.CallCount() != 1 {
		t.Errorf("primary called %d times, want 1", primary.CallCount())
	}
	if secondary.CallCount() != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestTranscriberFallback_Failover(t *testing.T) {
	primary := &sttmock.Transcriber{Err: errors.New("model crashed")}
	secondary := &sttmock.Transcriber{Result: stt.Transcript{Text: "close the window"}}

	fb := NewTranscriberFallback(primary, "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fb.AddFallback("deepgram", secondary)

	u := utterance(10)
	for range 2 {
		got, err := fb.Transcribe(context.Background(), u)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Text != "close the window" {
			t.Errorf("Text = %q", got.Text)
		}
	}
	// The primary's breaker opened after the first failure.
	if primary.CallCount() != 1 {
		t.Errorf("primary called %d times, want 1", primary.CallCount())
	}
	if secondary.CallCount() != 2 {
		t.Errorf("secondary called %d times, want 2", secondary.CallCount())
	}
	last, _ := secondary.LastUtterance()
	if last.Len() != u.Len() {
		t.Errorf("secondary got %d frames, want %d", last.Len(), u.Len())
	}
	if st := fb.Status(); st[0].State != "open" || st[1].State != "closed" {
		t.Errorf("Status() = %+v", st)
	}
}

func TestTranscriberFallback_AllFail(t *testing.T) {
	primary := &sttmock.Transcriber{Err: errors.New("primary down")}
	secondary := &sttmock.Transcriber{Err: errors.New("secondary down")}

	fb := NewTranscriberFallback(primary, "whisper", FallbackConfig{})
	fb.AddFallback("deepgram", secondary)

	_, err := fb.Transcribe(context.Background(), utterance(2))
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTranscriberFallback_EmptyUtteranceGoesToPrimary(t *testing.T) {
	primary := &sttmock.Transcriber{Err: stt.ErrEmptyUtterance}
	secondary := &sttmock.Transcriber{}

	fb := NewTranscriberFallback(primary, "whisper", FallbackConfig{})
	fb.AddFallback("deepgram", secondary)

	_, err := fb.Transcribe(context.Background(), audio.Utterance{Format: audio.DefaultFormat()})
	if !errors.Is(err, stt.ErrEmptyUtterance) {
		t.Fatalf("err = %v, want ErrEmptyUtterance", err)
	}
	if secondary.CallCount() != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestTranscriberFallback_Close(t *testing.T) {
	primary := &sttmock.Transcriber{}
	secondary := &sttmock.Transcriber{}
	fb := NewTranscriberFallback(primary, "whisper", FallbackConfig{})
	fb.AddFallback("deepgram", secondary)

	if err := fb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if primary.CloseCallCount != 1 || secondary.CloseCallCount != 1 {
		t.Errorf("close counts = %d/%d, want 1/1", primary.CloseCallCount, secondary.CloseCallCount)
	}
}
