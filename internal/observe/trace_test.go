package observe

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// sessionCtx returns a context carrying a fixed remote span context, as if
// a session had been started by an upstream caller.
func sessionCtx() context.Context {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36},
		SpanID:     trace.SpanID{0x00, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestCorrelationID(t *testing.T) {
	t.Parallel()
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
	if got := CorrelationID(sessionCtx()); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("CorrelationID(session) = %q", got)
	}
}

func TestLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ctx     context.Context
		want    []string
		notWant []string
	}{
		{
			name: "inside a session span",
			ctx:  sessionCtx(),
			want: []string{"component=orchestrator", "trace_id=4bf92f3577b34da6a3ce929d0e0e4736", "span_id=00f067aa0ba902b7"},
		},
		{
			name:    "outside any span",
			ctx:     context.Background(),
			want:    []string{"component=orchestrator"},
			notWant: []string{"trace_id", "span_id"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf strings.Builder
			base := slog.New(slog.NewTextHandler(&buf, nil)).With("component", "orchestrator")

			Logger(tt.ctx, base).Info("intent recognized")

			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log missing %q: %s", w, out)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("log has unexpected %q: %s", w, out)
				}
			}
		})
	}
}

// TestLogger_NilBaseUsesDefault swaps the default logger, so it does not run
// in parallel.
func TestLogger_NilBaseUsesDefault(t *testing.T) {
	var buf strings.Builder
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	Logger(sessionCtx(), nil).Info("wake word")
	if !strings.Contains(buf.String(), "trace_id=") {
		t.Errorf("default logger output missing trace_id: %s", buf.String())
	}
}

// TestStartSpan swaps the global tracer provider, so it does not run in
// parallel.
func TestStartSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, session := StartSpan(sessionCtx(), "session")
	if CorrelationID(ctx) != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("child span left the session trace: %s", CorrelationID(ctx))
	}
	_, classify := StartSpan(ctx, "classify")
	EndSpan(classify, errors.New("model not loaded"))
	EndSpan(session, nil)

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	failed, ok := spans[0], spans[1]
	if failed.Name != "classify" || ok.Name != "session" {
		t.Fatalf("span order = %s, %s", failed.Name, ok.Name)
	}
	if failed.Parent.SpanID() != ok.SpanContext.SpanID() {
		t.Error("classify is not a child of session")
	}
	if failed.Status.Code != codes.Error || failed.Status.Description != "model not loaded" {
		t.Errorf("failed span status = %+v", failed.Status)
	}
	if len(failed.Events) != 1 {
		t.Errorf("failed span has %d events, want the recorded error", len(failed.Events))
	}
	if ok.Status.Code != codes.Unset {
		t.Errorf("session span status = %v, want unset", ok.Status.Code)
	}
	if ok.InstrumentationScope.Name != tracerName {
		t.Errorf("scope = %q, want %q", ok.InstrumentationScope.Name, tracerName)
	}
}
