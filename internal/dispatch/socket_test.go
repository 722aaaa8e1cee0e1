package dispatch_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/echocrafter/internal/dispatch"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
)

// listenUnix starts a unix socket listener in a short temp dir (socket
// paths are length-limited) and returns the decoded events it receives.
func listenUnix(t *testing.T) (string, <-chan dispatch.Event) {
	t.Helper()
	dir, err := os.MkdirTemp("", "ecsock")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "c.sock")

	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	events := make(chan dispatch.Event, 8)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			sc := bufio.NewScanner(conn)
			for sc.Scan() {
				var ev dispatch.Event
				if err := json.Unmarshal(sc.Bytes(), &ev); err == nil {
					events <- ev
				}
			}
			conn.Close()
		}
	}()
	return path, events
}

func TestSocket_WritesNDJSON(t *testing.T) {
	t.Parallel()
	path, events := listenUnix(t)
	s, err := dispatch.NewSocket(path, time.Second)
	if err != nil {
		t.Fatalf("NewSocket: %v", err)
	}
	ctx := context.Background()

	if err := s.WakeWord(ctx, 1); err != nil {
		t.Fatalf("WakeWord: %v", err)
	}
	if err := s.Intent(ctx, focusChrome); err != nil {
		t.Fatalf("Intent: %v", err)
	}
	if err := s.Transcript(ctx, stt.Transcript{Text: "open the pod bay doors"}); err != nil {
		t.Fatalf("Transcript: %v", err)
	}

	got := make([]dispatch.Event, 0, 3)
	for range 3 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d events, want 3", len(got))
		}
	}

	if got[0].Type != dispatch.TypeWake || got[0].Keyword == nil || *got[0].Keyword != 1 {
		t.Errorf("event 0 = %+v", got[0])
	}
	if got[1].Type != dispatch.TypeIntent || got[1].Intent == nil || got[1].Intent.Slots["windowName"] != "chrome" {
		t.Errorf("event 1 = %+v", got[1])
	}
	if got[2].Type != dispatch.TypeTranscript || got[2].Transcript == nil || got[2].Transcript.Text != "open the pod bay doors" {
		t.Errorf("event 2 = %+v", got[2])
	}
	if got[0].Time.IsZero() {
		t.Error("event time not set")
	}
}

func TestSocket_NoListener(t *testing.T) {
	t.Parallel()
	s, _ := dispatch.NewSocket(filepath.Join(t.TempDir(), "missing.sock"), 100*time.Millisecond)
	if err := s.WakeWord(context.Background(), 0); err == nil {
		t.Error("expected error without a listener")
	}
	if _, err := dispatch.NewSocket("", 0); err == nil {
		t.Error("expected error for empty path")
	}
}
