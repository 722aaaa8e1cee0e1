package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/echocrafter/pkg/audio"
)

func TestFormat_FrameDuration(t *testing.T) {
	f := audio.DefaultFormat()
	if got, want := f.FrameDuration(), 32*time.Millisecond; got != want {
		t.Errorf("FrameDuration = %v, want %v", got, want)
	}
}

func TestFormat_FramesFor(t *testing.T) {
	f := audio.DefaultFormat()
	tests := []struct {
		name string
		d    time.Duration
		want int
	}{
		{"zero", 0, 0},
		{"negative", -time.Second, 0},
		{"exact frame", 32 * time.Millisecond, 1},
		{"just over one frame", 33 * time.Millisecond, 2},
		{"one and a half seconds", 1500 * time.Millisecond, 47},
		{"thirty seconds", 30 * time.Second, 938},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.FramesFor(tt.d); got != tt.want {
				t.Errorf("FramesFor(%v) = %d, want %d", tt.d, got, tt.want)
			}
		})
	}
}

func TestFormat_Validate(t *testing.T) {
	if err := audio.DefaultFormat().Validate(); err != nil {
		t.Errorf("default format invalid: %v", err)
	}
	if err := (audio.Format{}).Validate(); err == nil {
		t.Error("zero format should be invalid")
	}
}

func TestUtterance_AppendAndDuration(t *testing.T) {
	f := audio.Format{SampleRate: 16000, FrameLength: 4}
	u := audio.NewUtterance(f, audio.Frame{Seq: 1, Samples: []int16{1, 2, 3, 4}})
	u.Append(audio.Frame{Seq: 2, Samples: []int16{5, 6, 7, 8}})

	if u.Len() != 2 {
		t.Fatalf("Len = %d, want 2", u.Len())
	}
	got := u.Samples()
	for i, want := range []int16{1, 2, 3, 4, 5, 6, 7, 8} {
		if got[i] != want {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want)
		}
	}
	if want := 500 * time.Microsecond; u.Duration() != want {
		t.Errorf("Duration = %v, want %v", u.Duration(), want)
	}
	if len(u.PCM()) != 16 {
		t.Errorf("PCM length = %d, want 16", len(u.PCM()))
	}
}

func TestNewUtterance_DoesNotAliasSeed(t *testing.T) {
	seed := []audio.Frame{{Seq: 1}, {Seq: 2}}
	u := audio.NewUtterance(audio.DefaultFormat(), seed...)
	u.Append(audio.Frame{Seq: 3})
	seed[0] = audio.Frame{Seq: 99}
	if u.Frames[0].Seq != 1 {
		t.Errorf("utterance aliases seed slice: first seq = %d", u.Frames[0].Seq)
	}
}
