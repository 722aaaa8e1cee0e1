package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/echocrafter/pkg/audio"
	amock "github.com/MrWong99/echocrafter/pkg/audio/mock"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	tr, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := tr.buildURL(16000)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	if _, ok := q["keywords"]; ok {
		t.Error("expected no 'keywords' param when none provided")
	}
}

func TestBuildURL_CustomOptions(t *testing.T) {
	tr, err := New("key",
		WithModel("base"),
		WithLanguage("de-DE"),
		WithKeywords([]stt.KeywordBoost{{Keyword: "chromium", Boost: 5}, {Keyword: "kitty", Boost: 3.5}}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := tr.buildURL(48000)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))

	found := map[string]bool{}
	for _, kw := range q["keywords"] {
		found[kw] = true
	}
	if !found["chromium:5"] || !found["kitty:3.5"] {
		t.Errorf("keywords = %v", q["keywords"])
	}
}

// ---- JSON parsing tests ----

func TestParseDeepgramResponse_Final(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {
			"alternatives": [{
				"transcript": "open chrome",
				"confidence": 0.95,
				"words": [
					{"word": "open", "punctuated_word": "Open", "start": 0.1, "end": 0.5, "confidence": 0.97},
					{"word": "chrome", "start": 0.6, "end": 1.0, "confidence": 0.93}
				]
			}]
		}
	}`)

	r, kind := parseDeepgramResponse(raw)
	if kind != kindResult {
		t.Fatalf("kind = %v, want kindResult", kind)
	}
	if !r.final {
		t.Error("expected final=true")
	}
	assertEqual(t, "text", "open chrome", r.text)
	if len(r.words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(r.words))
	}
	assertEqual(t, "word[0]", "Open", r.words[0].Word)
	assertEqual(t, "word[1]", "chrome", r.words[1].Word)
	if r.words[0].Start != 100*time.Millisecond {
		t.Errorf("unexpected start: %v", r.words[0].Start)
	}
}

func TestParseDeepgramResponse_Kinds(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want messageKind
	}{
		{"metadata", `{"type":"Metadata","request_id":"abc"}`, kindMetadata},
		{"speech started", `{"type":"SpeechStarted"}`, kindIgnored},
		{"empty alternatives", `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`, kindIgnored},
		{"invalid json", `{invalid`, kindIgnored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, kind := parseDeepgramResponse([]byte(tt.raw)); kind != tt.want {
				t.Errorf("kind = %v, want %v", kind, tt.want)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	got := merge([]result{
		{text: "open", confidence: 0.8, words: []stt.Word{{Word: "open"}}, final: true},
		{text: "  ", confidence: 0.1, final: true},
		{text: "chrome", confidence: 0.6, words: []stt.Word{{Word: "chrome"}}, final: true},
	})
	assertEqual(t, "text", "open chrome", got.Text)
	if len(got.Words) != 2 {
		t.Errorf("words = %+v", got.Words)
	}
	if got.Confidence < 0.69 || got.Confidence > 0.71 {
		t.Errorf("confidence = %f, want 0.7", got.Confidence)
	}
}

// ---- end-to-end against a fake server ----

func newFakeDeepgram(t *testing.T, received *atomic.Int64, auth *atomic.Value) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			typ, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				received.Add(int64(len(msg)))
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				break
			}
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"op","confidence":0.2}]}}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"open","confidence":0.9,"words":[{"word":"open","start":0.1,"end":0.4,"confidence":0.9}]}]}}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"firefox","confidence":0.7,"words":[{"word":"firefox","start":0.5,"end":1.0,"confidence":0.7}]}]}}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Metadata","request_id":"r1"}`))
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTranscribe_CollectsFinalResults(t *testing.T) {
	var received atomic.Int64
	var auth atomic.Value
	srv := newFakeDeepgram(t, &received, &auth)

	tr, err := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	u := audio.NewUtterance(audio.DefaultFormat(), amock.Tone(20, 4000)...)

	got, err := tr.Transcribe(context.Background(), u)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "text", "open firefox", got.Text)
	if len(got.Words) != 2 || got.Words[1].Word != "firefox" {
		t.Errorf("words = %+v", got.Words)
	}
	if got.Duration != u.Duration() {
		t.Errorf("Duration = %v, want %v", got.Duration, u.Duration())
	}
	if want := int64(len(u.PCM())); received.Load() != want {
		t.Errorf("server received %d bytes, want %d", received.Load(), want)
	}
	if a, _ := auth.Load().(string); a != "Token secret" {
		t.Errorf("Authorization = %q", a)
	}
}

func TestTranscribe_EmptyUtterance(t *testing.T) {
	tr, _ := New("key")
	_, err := tr.Transcribe(context.Background(), audio.NewUtterance(audio.DefaultFormat()))
	if !errors.Is(err, stt.ErrEmptyUtterance) {
		t.Errorf("err = %v, want ErrEmptyUtterance", err)
	}
}

func TestTranscribe_DialFailure(t *testing.T) {
	tr, _ := New("key", WithEndpoint("ws://127.0.0.1:1/v1/listen"), WithTimeout(2*time.Second))
	u := audio.NewUtterance(audio.DefaultFormat(), amock.Silence(2)...)
	if _, err := tr.Transcribe(context.Background(), u); err == nil {
		t.Fatal("expected dial error")
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	tr, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, tr.model)
	assertEqual(t, "language", defaultLanguage, tr.language)
	assertEqual(t, "endpoint", deepgramEndpoint, tr.endpoint)
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
