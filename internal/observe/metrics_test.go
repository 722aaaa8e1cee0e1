package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValue returns the value of the data point of a counter whose attribute
// key equals value, or -1 when there is none.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.Emit() == value {
				return dp.Value
			}
		}
	}
	return -1
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"echocrafter.intent.duration", m.IntentDuration},
		{"echocrafter.stt.duration", m.STTDuration},
		{"echocrafter.llm.duration", m.LLMDuration},
		{"echocrafter.utterance.duration", m.UtteranceDuration},
		{"echocrafter.http.request.duration", m.HTTPRequestDuration},
	}
	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)
	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestSessionCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSession(ctx, 0)
	m.RecordSession(ctx, 0)
	m.RecordSession(ctx, 1)
	m.RecordOutcome(ctx, OutcomeIntent)
	m.RecordOutcome(ctx, OutcomeTimeout)
	m.RecordOutcome(ctx, OutcomeTranscript)
	m.RecordOutcome(ctx, OutcomeTranscript)
	m.RecordStateChange(ctx, "idle", "waiting_wake_word")
	m.RecordEviction(ctx)
	m.RecordEviction(ctx)
	m.RecordEviction(ctx)

	rm := collect(t, reader)
	tests := []struct {
		name, key, value string
		want             int64
	}{
		{"echocrafter.sessions", "keyword", "0", 2},
		{"echocrafter.sessions", "keyword", "1", 1},
		{"echocrafter.session.outcomes", "outcome", OutcomeTranscript, 2},
		{"echocrafter.session.outcomes", "outcome", OutcomeIntent, 1},
		{"echocrafter.state.transitions", "to", "waiting_wake_word", 1},
		{"echocrafter.ring.evictions", "", "", 3},
	}
	for _, tt := range tests {
		if got := sumValue(t, rm, tt.name, tt.key, tt.value); got != tt.want {
			t.Errorf("%s{%s=%s} = %d, want %d", tt.name, tt.key, tt.value, got, tt.want)
		}
	}
}

func TestRecordProviderCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderCall(ctx, m.STTDuration, "whisper", "transcriber", 300*time.Millisecond, nil)
	m.RecordProviderCall(ctx, m.STTDuration, "whisper", "transcriber", time.Second, errors.New("boom"))

	rm := collect(t, reader)
	if got := sumValue(t, rm, "echocrafter.provider.requests", "status", "ok"); got != 1 {
		t.Errorf("ok requests = %d, want 1", got)
	}
	if got := sumValue(t, rm, "echocrafter.provider.requests", "status", "error"); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}
	if got := sumValue(t, rm, "echocrafter.provider.errors", "provider", "whisper"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
	hist, ok := findMetric(rm, "echocrafter.stt.duration").Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
		t.Errorf("stt duration = %+v", hist)
	}
}

func TestBreakerAndDispatchCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBreakerTransition(ctx, "deepgram", "open")
	m.RecordDispatchError(ctx, "intent")
	m.RecordDispatchError(ctx, "intent")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "echocrafter.breaker.transitions", "breaker", "deepgram"); got != 1 {
		t.Errorf("breaker transitions = %d, want 1", got)
	}
	if got := sumValue(t, rm, "echocrafter.dispatch.errors", "event", "intent"); got != 2 {
		t.Errorf("dispatch errors = %d, want 2", got)
	}
}

func TestCounterAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	attrs := metric.WithAttributes(
		attribute.String("provider", "openai"),
		attribute.String("kind", "llm"),
		attribute.String("status", "ok"),
	)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.ProviderRequests.Add(ctx, 1, attrs)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "echocrafter.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("counter value = %d, want 2", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
