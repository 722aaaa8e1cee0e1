package energy_test

import (
	"testing"

	"github.com/MrWong99/echocrafter/pkg/audio"
	amock "github.com/MrWong99/echocrafter/pkg/audio/mock"
	"github.com/MrWong99/echocrafter/pkg/provider/vad/energy"
)

func TestDetector_SilenceVersusTone(t *testing.T) {
	t.Parallel()
	d, err := energy.New(audio.DefaultFormat(), energy.WithSmoothing(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p, err := d.Process(amock.Silence(1)[0])
	if err != nil {
		t.Fatalf("Process silence: %v", err)
	}
	if p >= 0.1 {
		t.Errorf("silence probability = %.3f, want < 0.1", p)
	}

	p, err = d.Process(amock.Tone(1, 3000)[0])
	if err != nil {
		t.Fatalf("Process tone: %v", err)
	}
	if p <= 0.9 {
		t.Errorf("tone probability = %.3f, want > 0.9", p)
	}
}

func TestDetector_SmoothingAndReset(t *testing.T) {
	t.Parallel()
	d, _ := energy.New(audio.DefaultFormat(), energy.WithSmoothing(0.5))
	loud := amock.Tone(1, 3000)[0]
	quiet := amock.Silence(1)[0]

	first, _ := d.Process(loud)
	second, _ := d.Process(quiet)
	if second >= first || second < 0.4 {
		t.Errorf("smoothed drop = %.3f after %.3f, want roughly half", second, first)
	}

	d.Reset()
	p, _ := d.Process(quiet)
	if p >= 0.1 {
		t.Errorf("after Reset probability = %.3f, want < 0.1", p)
	}
}

func TestDetector_WrongFrameLength(t *testing.T) {
	t.Parallel()
	d, _ := energy.New(audio.DefaultFormat())
	if _, err := d.Process(audio.Frame{Samples: make([]int16, 10)}); err == nil {
		t.Error("expected error for short frame")
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		opts []energy.Option
	}{
		{"zero level", []energy.Option{energy.WithSpeechLevel(0)}},
		{"negative steepness", []energy.Option{energy.WithSteepness(-1)}},
		{"smoothing above one", []energy.Option{energy.WithSmoothing(1.5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := energy.New(audio.DefaultFormat(), tt.opts...); err == nil {
				t.Error("expected error")
			}
		})
	}
}
