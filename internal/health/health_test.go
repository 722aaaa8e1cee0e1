package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func pass(context.Context) error { return nil }

func fail(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

// serve runs one request through a mux with h registered and decodes the
// probe body.
func serve(t *testing.T, h *Handler, req *http.Request) (int, http.Header, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var body result
	if rec.Code != http.StatusNotFound {
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode JSON: %v", err)
		}
	}
	return rec.Code, rec.Header(), body
}

func TestProbes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		path       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "liveness ignores failing checks",
			path:       "/healthz",
			checkers:   []Checker{{Name: "capture", Check: fail("frame stream closed")}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "ready without checks",
			path:       "/readyz",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "ready",
			path: "/readyz",
			checkers: []Checker{
				{Name: "capture", Check: pass},
				{Name: "transcriber", Check: pass},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"capture": "ok", "transcriber": "ok"},
		},
		{
			name: "one failing check",
			path: "/readyz",
			checkers: []Checker{
				{Name: "capture", Check: fail("frame stream closed")},
				{Name: "llm", Check: pass},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"capture": "fail: frame stream closed", "llm": "ok"},
		},
		{
			name: "every check failing",
			path: "/readyz",
			checkers: []Checker{
				{Name: "transcriber", Check: fail("all 2 backends open")},
				{Name: "nats", Check: fail("not connected")},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{
				"transcriber": "fail: all 2 backends open",
				"nats":        "fail: not connected",
			},
		},
		{
			name:     "no status source",
			path:     "/statez",
			wantCode: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, hdr, body := serve(t, New(nil, tt.checkers...), httptest.NewRequest(http.MethodGet, tt.path, nil))
			if code != tt.wantCode {
				t.Fatalf("code = %d, want %d", code, tt.wantCode)
			}
			if code == http.StatusNotFound {
				return
			}
			if ct := hdr.Get("Content-Type"); ct != "application/json; charset=utf-8" {
				t.Errorf("Content-Type = %q", ct)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			for name, want := range tt.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	t.Parallel()
	h := New(nil, Checker{Name: "transcriber", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	code, _, body := serve(t, h, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Checks["transcriber"] != "fail: "+context.Canceled.Error() {
		t.Errorf("check = %q", body.Checks["transcriber"])
	}
}

func TestReadyz_ChecksOverlap(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	wait := func(ctx context.Context) error {
		started <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(nil, Checker{Name: "transcriber", Check: wait}, Checker{Name: "llm", Check: wait})

	done := make(chan int)
	go func() {
		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		done <- rec.Code
	}()
	<-started
	<-started
	close(release)
	if code := <-done; code != http.StatusOK {
		t.Errorf("code = %d, want %d", code, http.StatusOK)
	}
}

func TestStatez(t *testing.T) {
	t.Parallel()
	type snapshot struct {
		State   string `json:"state"`
		Intents uint64 `json:"intents"`
	}
	calls := 0
	h := New(func() any {
		calls++
		return snapshot{State: "waiting_wake_word", Intents: uint64(calls)}
	})

	for want := uint64(1); want <= 2; want++ {
		rec := httptest.NewRecorder()
		h.Statez(rec, httptest.NewRequest(http.MethodGet, "/statez", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %d, want %d", rec.Code, http.StatusOK)
		}
		var got snapshot
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode JSON: %v", err)
		}
		if got.State != "waiting_wake_word" || got.Intents != want {
			t.Errorf("snapshot = %+v, want a fresh one per request", got)
		}
	}
}
