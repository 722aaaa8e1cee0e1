package orchestrator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/echocrafter/internal/orchestrator"
	"github.com/MrWong99/echocrafter/pkg/audio"
	audiomock "github.com/MrWong99/echocrafter/pkg/audio/mock"
)

func TestCapture_PushesInOrderAndClosesRing(t *testing.T) {
	t.Parallel()
	src := audiomock.NewSource(audio.DefaultFormat(), audiomock.Numbered(20)...)
	ring := audio.NewRing(32)

	err := orchestrator.Capture(context.Background(), src, ring)
	if !errors.Is(err, audio.ErrEndOfStream) {
		t.Fatalf("Capture: err = %v, want ErrEndOfStream", err)
	}
	if !ring.Closed() {
		t.Error("ring not closed after Capture returned")
	}
	if src.CallCountStop != 1 {
		t.Errorf("Stop called %d times, want 1", src.CallCountStop)
	}

	for want := uint64(1); want <= 20; want++ {
		f, err := ring.Pop(context.Background())
		if err != nil {
			t.Fatalf("Pop %d: %v", want, err)
		}
		if f.Seq != want {
			t.Errorf("got seq %d, want %d", f.Seq, want)
		}
	}
	if _, err := ring.Pop(context.Background()); !errors.Is(err, audio.ErrClosed) {
		t.Errorf("Pop after drain: err = %v, want ErrClosed", err)
	}
}

func TestCapture_EvictsOldestWhenRingFull(t *testing.T) {
	t.Parallel()
	src := audiomock.NewSource(audio.DefaultFormat(), audiomock.Numbered(10)...)
	ring := audio.NewRing(4)

	_ = orchestrator.Capture(context.Background(), src, ring)

	if ring.Evicted() != 6 {
		t.Errorf("Evicted = %d, want 6", ring.Evicted())
	}
	f, _ := ring.TryPop()
	if f.Seq != 7 {
		t.Errorf("oldest kept frame = %d, want 7", f.Seq)
	}
}

func TestCapture_StartFailure(t *testing.T) {
	t.Parallel()
	src := audiomock.NewSource(audio.DefaultFormat())
	src.StartErr = errors.New("no such device")
	ring := audio.NewRing(4)

	err := orchestrator.Capture(context.Background(), src, ring)
	var ce *audio.CaptureError
	if !errors.As(err, &ce) || ce.Op != "start" {
		t.Fatalf("want CaptureError{Op: start}, got %v", err)
	}
	if !ring.Closed() {
		t.Error("ring not closed after failed start")
	}
}

func TestCapture_ReadFailure(t *testing.T) {
	t.Parallel()
	src := audiomock.NewSource(audio.DefaultFormat(), audiomock.Numbered(5)...)
	src.ReadErrAt = audiomock.ReadFailure{Index: 3, Err: errors.New("device unplugged")}
	ring := audio.NewRing(8)

	err := orchestrator.Capture(context.Background(), src, ring)
	var ce *audio.CaptureError
	if !errors.As(err, &ce) || ce.Op != "read" {
		t.Fatalf("want CaptureError{Op: read}, got %v", err)
	}
	if ring.Len() != 3 {
		t.Errorf("ring holds %d frames, want the 3 read before the failure", ring.Len())
	}
}

func TestCapture_CancelReturnsNil(t *testing.T) {
	t.Parallel()
	src := audiomock.NewSource(audio.DefaultFormat(), audiomock.Numbered(3)...)
	src.BlockAtEnd = true
	ring := audio.NewRing(8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orchestrator.Capture(ctx, src, ring) }()

	deadline := time.Now().Add(2 * time.Second)
	for ring.Len() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Capture after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Capture did not return after cancel")
	}
	if !ring.Closed() {
		t.Error("ring not closed after cancel")
	}
}

// TestCaptureAndRun_EndToEnd drives the two workers together the way the
// application does: capture fills the ring while the orchestrator drains it.
func TestCaptureAndRun_EndToEnd(t *testing.T) {
	t.Parallel()
	f := newFixture(t, audio.DefaultFormat(), orchestrator.Config{PreRoll: 4})
	f.wake.TriggerAt = map[uint64]int{50: 0}
	f.classifier.FinalizeAfter = 10
	f.classifier.Result.Name = "focusWindow"
	f.classifier.Result.Slots = map[string]string{"windowName": "chrome"}
	f.classifier.Result.Understood = true

	src := audiomock.NewSource(audio.DefaultFormat(), audiomock.Silence(120)...)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	capErr := make(chan error, 1)
	go func() { capErr <- orchestrator.Capture(ctx, src, f.ring) }()

	if err := f.orch.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := <-capErr; !errors.Is(err, audio.ErrEndOfStream) {
		t.Errorf("Capture: %v", err)
	}
	if len(f.rec.intents) != 1 || f.rec.intents[0].Slots["windowName"] != "chrome" {
		t.Errorf("intents = %v, want one focusWindow{windowName=chrome}", f.rec.intents)
	}
	if f.orch.State() != orchestrator.Idle {
		t.Errorf("state = %s, want idle", f.orch.State())
	}
}
