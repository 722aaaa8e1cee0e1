package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// adminRoutes mirrors what the admin server mounts.
var adminRoutes = []string{"/healthz", "/readyz", "/statez", "/metrics"}

// instrumented returns a handler that replies with status, wrapped in the
// middleware, plus readers for the metrics and spans it produces. It swaps
// the global tracer provider, so callers must not run in parallel.
func instrumented(t *testing.T, status int, seen *string) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	h := Middleware(m, adminRoutes...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen = CorrelationID(r.Context())
		}
		w.WriteHeader(status)
	}))
	return h, reader, exp
}

func TestMiddleware_Routes(t *testing.T) {
	tests := []struct {
		path     string
		status   int
		wantSpan string
		wantPath string
		wantErr  bool
	}{
		{path: "/healthz", status: http.StatusOK, wantSpan: "GET /healthz", wantPath: "/healthz"},
		{path: "/readyz", status: http.StatusServiceUnavailable, wantSpan: "GET /readyz", wantPath: "/readyz", wantErr: true},
		{path: "/wp-login.php", status: http.StatusNotFound, wantSpan: "GET other", wantPath: "other"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			h, reader, exp := instrumented(t, tt.status, nil)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			if spans[0].Name != tt.wantSpan {
				t.Errorf("span name = %q, want %q", spans[0].Name, tt.wantSpan)
			}
			if got := spans[0].Status.Code == codes.Error; got != tt.wantErr {
				t.Errorf("span error = %v, want %v", got, tt.wantErr)
			}
			var code int64
			for _, a := range spans[0].Attributes {
				if a.Key == "http.response.status_code" {
					code = a.Value.AsInt64()
				}
			}
			if code != int64(tt.status) {
				t.Errorf("span status attribute = %d, want %d", code, tt.status)
			}

			var rm metricdata.ResourceMetrics
			if err := reader.Collect(context.Background(), &rm); err != nil {
				t.Fatalf("Collect: %v", err)
			}
			met := findMetric(rm, "echocrafter.http.request.duration")
			if met == nil {
				t.Fatal("duration metric not found")
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) != 1 {
				t.Fatalf("want one histogram data point, got %+v", met.Data)
			}
			dp := hist.DataPoints[0]
			if dp.Count != 1 {
				t.Errorf("sample count = %d, want 1", dp.Count)
			}
			if v, _ := dp.Attributes.Value(attribute.Key("path")); v.AsString() != tt.wantPath {
				t.Errorf("path label = %q, want %q", v.AsString(), tt.wantPath)
			}
			if v, _ := dp.Attributes.Value(attribute.Key("status")); v.AsInt64() != int64(tt.status) {
				t.Errorf("status label = %d, want %d", v.AsInt64(), tt.status)
			}
		})
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{name: "fresh trace"},
		{
			name:        "continues caller trace",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			want:        "4bf92f3577b34da6a3ce929d0e0e4736",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h, _, _ := instrumented(t, http.StatusOK, &seen)

			req := httptest.NewRequest(http.MethodGet, "/statez", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if len(seen) != 32 {
				t.Fatalf("correlation ID %q, want 32 hex chars", seen)
			}
			if tt.want != "" && seen != tt.want {
				t.Errorf("correlation ID = %q, want %q", seen, tt.want)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != seen {
				t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
			}
			if rec.Header().Get("traceparent") == "" {
				t.Error("response carries no traceparent")
			}
		})
	}
}

func TestResponseStatus_ImplicitOK(t *testing.T) {
	t.Parallel()
	w := &responseStatus{ResponseWriter: httptest.NewRecorder()}
	if _, err := w.Write([]byte("ok")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	w.WriteHeader(http.StatusTeapot)
	if w.status() != http.StatusOK {
		t.Errorf("status = %d, want 200", w.status())
	}
}
