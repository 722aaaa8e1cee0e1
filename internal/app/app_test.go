package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/echocrafter/internal/app"
	"github.com/MrWong99/echocrafter/internal/config"
	"github.com/MrWong99/echocrafter/internal/dispatch"
	dispatchmock "github.com/MrWong99/echocrafter/internal/dispatch/mock"
	"github.com/MrWong99/echocrafter/internal/engine"
	"github.com/MrWong99/echocrafter/internal/journal"
	"github.com/MrWong99/echocrafter/internal/journal/sqlite"
	"github.com/MrWong99/echocrafter/internal/observe"
	audiomock "github.com/MrWong99/echocrafter/pkg/audio/mock"
	"github.com/MrWong99/echocrafter/pkg/provider/intent"
	intentmock "github.com/MrWong99/echocrafter/pkg/provider/intent/mock"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
	sttmock "github.com/MrWong99/echocrafter/pkg/provider/stt/mock"
	"github.com/MrWong99/echocrafter/pkg/provider/vad"
	vadmock "github.com/MrWong99/echocrafter/pkg/provider/vad/mock"
	"github.com/MrWong99/echocrafter/pkg/provider/wakeword"
	wakemock "github.com/MrWong99/echocrafter/pkg/provider/wakeword/mock"
)

// testConfig returns a defaulted config whose engines all resolve to the
// "stub" provider.
func testConfig() *config.Config {
	cfg := &config.Config{
		Engines: config.EnginesConfig{
			WakeWord:    config.ProviderEntry{Name: "stub"},
			VAD:         config.ProviderEntry{Name: "stub"},
			Intent:      config.ProviderEntry{Name: "stub"},
			Transcriber: config.ProviderEntry{Name: "stub"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

type engines struct {
	wake        *wakemock.Detector
	vad         *vadmock.Detector
	classifier  *intentmock.Classifier
	transcriber *sttmock.Transcriber
}

// newEngines scripts one understood command: the wake word fires on frame
// 10 and the classifier finalizes five frames later.
func newEngines() *engines {
	return &engines{
		wake: &wakemock.Detector{TriggerAt: map[uint64]int{10: 0}},
		vad:  &vadmock.Detector{},
		classifier: &intentmock.Classifier{
			FinalizeAfter: 5,
			Result:        intent.Intent{Name: "lightsOn", Slots: map[string]string{"room": "kitchen"}, Understood: true},
		},
		transcriber: &sttmock.Transcriber{Result: stt.Transcript{Text: "turn on the lights"}},
	}
}

func (e *engines) builders() engine.Builders {
	return engine.Builders{
		VAD:         engine.Static[vad.Detector]("mock", e.vad),
		Transcriber: engine.Static[stt.Transcriber]("mock", e.transcriber),
		WakeWord:    engine.Static[wakeword.Detector]("mock", e.wake),
		Intent:      engine.Static[intent.Classifier]("mock", e.classifier),
	}
}

// registry registers every engine of e under "stub".
func (e *engines) registry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterVAD("stub", func(config.ProviderEntry, config.Deps) (vad.Detector, error) { return e.vad, nil })
	reg.RegisterTranscriber("stub", func(config.ProviderEntry, config.Deps) (stt.Transcriber, error) { return e.transcriber, nil })
	reg.RegisterWakeWord("stub", func(config.ProviderEntry, config.Deps) (wakeword.Detector, error) { return e.wake, nil })
	reg.RegisterIntent("stub", func(config.ProviderEntry, config.Deps) (intent.Classifier, error) { return e.classifier, nil })
	return reg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newApp(t *testing.T, cfg *config.Config, reg *config.Registry, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithLogger(quietLogger()), app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), cfg, reg, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	return a
}

func shutdown(t *testing.T, a *app.App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestApp_RunDeliversIntent(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	e := newEngines()
	sink := &dispatchmock.Dispatcher{}
	src := audiomock.NewSource(cfg.Format(), audiomock.Silence(40)...)

	dbPath := filepath.Join(t.TempDir(), "journal.db")
	j, err := sqlite.Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}

	a := newApp(t, cfg, nil,
		app.WithSource(src),
		app.WithBuilders(e.builders()),
		app.WithDispatcher(sink),
		app.WithJournal(j),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("Run() did not return when the source ended")
	}
	shutdown(t, a)

	if got, want := sink.EventLog(), []string{dispatch.TypeWake, dispatch.TypeIntent}; !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if st := a.Orchestrator().Stats(); st.Sessions != 1 || st.Intents != 1 {
		t.Errorf("stats = %+v, want one session with one intent", st)
	}

	reopened, err := sqlite.Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer reopened.Close()
	entries, err := reopened.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != journal.KindIntent || entries[0].Slots["room"] != "kitchen" {
		t.Errorf("journal entries = %+v, want the lightsOn intent", entries)
	}
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	src := audiomock.NewSource(cfg.Format(), audiomock.Silence(5)...)
	src.BlockAtEnd = true
	a := newApp(t, cfg, nil, app.WithSource(src), app.WithBuilders(newEngines().builders()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}
	shutdown(t, a)

	if src.CallCountStop != 1 {
		t.Errorf("source Stop calls = %d, want 1", src.CallCountStop)
	}
}

func TestApp_RunReportsCaptureFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	src := audiomock.NewSource(cfg.Format(), audiomock.Silence(5)...)
	src.StartErr = errors.New("no device")
	a := newApp(t, cfg, nil, app.WithSource(src), app.WithBuilders(newEngines().builders()))
	defer shutdown(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.Run(ctx)
	if err == nil || !errors.Is(err, src.StartErr) {
		t.Fatalf("Run() error = %v, want the start failure", err)
	}
}

func TestNew_RegistryEngines(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Engines.TranscriberFallbacks = []config.ProviderEntry{{Name: "stub"}}
	e := newEngines()
	src := audiomock.NewSource(cfg.Format())

	a := newApp(t, cfg, e.registry(), app.WithSource(src))
	defer shutdown(t, a)

	st := a.Status()
	if st.State != "idle" {
		t.Errorf("State = %q, want idle", st.State)
	}
	if st.Engines["wakeword"] != "stub" || st.Engines["transcriber"] != "stub" {
		t.Errorf("Engines = %v, want stub everywhere", st.Engines)
	}
	if len(st.Transcribers) != 2 {
		t.Fatalf("Transcribers = %+v, want primary and one fallback", st.Transcribers)
	}
	for _, b := range st.Transcribers {
		if b.State != "closed" {
			t.Errorf("breaker %q state = %q, want closed", b.Name, b.State)
		}
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Engines.Intent.Name = "missing"
	e := newEngines()

	_, err := app.New(context.Background(), cfg, e.registry(),
		app.WithLogger(quietLogger()),
		app.WithMetrics(testMetrics(t)),
		app.WithSource(audiomock.NewSource(cfg.Format())),
	)
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("New() error = %v, want ErrProviderNotRegistered", err)
	}
	var initErr *engine.InitError
	if !errors.As(err, &initErr) || initErr.Kind != engine.KindIntent {
		t.Errorf("error = %v, want an intent InitError", err)
	}
	if e.wake.CloseCallCount != 1 {
		t.Errorf("wake word Close calls = %d, want 1 after failed init", e.wake.CloseCallCount)
	}
}

func TestApp_Handler(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	a := newApp(t, cfg, nil,
		app.WithSource(audiomock.NewSource(cfg.Format())),
		app.WithBuilders(newEngines().builders()),
	)
	defer shutdown(t, a)

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	tests := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/statez", http.StatusOK},
		{"/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("GET %s: %v", tt.path, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	resp, err := http.Get(srv.URL + "/statez")
	if err != nil {
		t.Fatalf("GET /statez: %v", err)
	}
	defer resp.Body.Close()
	var st app.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode /statez: %v", err)
	}
	if st.State != "idle" || st.Engines["intent"] != "mock" {
		t.Errorf("statez = %+v", st)
	}
}

func TestApp_ShutdownIdempotent(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	e := newEngines()
	a := newApp(t, cfg, nil,
		app.WithSource(audiomock.NewSource(cfg.Format())),
		app.WithBuilders(e.builders()),
	)
	shutdown(t, a)
	shutdown(t, a)

	if e.classifier.CloseCallCount != 1 {
		t.Errorf("classifier Close calls = %d, want 1", e.classifier.CloseCallCount)
	}
}

func TestApp_ReadyzFailsAfterStreamEnds(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	a := newApp(t, cfg, nil,
		app.WithSource(audiomock.NewSource(cfg.Format(), audiomock.Silence(3)...)),
		app.WithBuilders(newEngines().builders()),
	)
	defer shutdown(t, a)

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz after end of stream = %d, want 503", rec.Code)
	}
}
