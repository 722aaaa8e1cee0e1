package dispatch_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/MrWong99/echocrafter/internal/dispatch"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
)

// natsURL returns ECHOCRAFTER_TEST_NATS_URL when set, otherwise the URL of
// an embedded server that lives for the duration of the test.
func natsURL(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("ECHOCRAFTER_TEST_NATS_URL"); url != "" {
		return url
	}
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: server.RANDOM_PORT, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("embedded nats not ready within 5s")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns.ClientURL()
}

func TestNATS_PublishesPerType(t *testing.T) {
	t.Parallel()
	url := natsURL(t)
	prefix := "ectest" + time.Now().Format("150405.000000")

	sub, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	defer sub.Close()
	msgs := make(chan *nats.Msg, 8)
	if _, err := sub.ChanSubscribe(prefix+".>", msgs); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	n, err := dispatch.ConnectNATS(dispatch.NATSConfig{URL: url, Prefix: prefix}, nil)
	if err != nil {
		t.Fatalf("ConnectNATS: %v", err)
	}
	defer n.Close()
	if !n.Healthy() {
		t.Error("Healthy = false after connect")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.WakeWord(ctx, 0); err != nil {
		t.Fatalf("WakeWord: %v", err)
	}
	if err := n.Intent(ctx, focusChrome); err != nil {
		t.Fatalf("Intent: %v", err)
	}
	if err := n.Transcript(context.Background(), stt.Transcript{Text: "hello"}); err != nil {
		t.Fatalf("Transcript: %v", err)
	}

	wantSubjects := []string{prefix + ".wake", prefix + ".intent", prefix + ".transcript"}
	for i, want := range wantSubjects {
		select {
		case m := <-msgs:
			if m.Subject != want {
				t.Errorf("message %d subject = %q, want %q", i, m.Subject, want)
			}
			var ev dispatch.Event
			if err := json.Unmarshal(m.Data, &ev); err != nil {
				t.Fatalf("message %d: %v", i, err)
			}
			if n.Subject(ev.Type) != m.Subject {
				t.Errorf("message %d: type %q on subject %q", i, ev.Type, m.Subject)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d (%s) not received", i, want)
		}
	}
}

func TestConnectNATS_Validation(t *testing.T) {
	t.Parallel()
	if _, err := dispatch.ConnectNATS(dispatch.NATSConfig{}, nil); err == nil {
		t.Error("expected error for empty URL")
	}
	if _, err := dispatch.ConnectNATS(dispatch.NATSConfig{URL: "nats://127.0.0.1:1", ConnectTimeout: 100 * time.Millisecond}, nil); err == nil {
		t.Error("expected error for unreachable server")
	}
}
