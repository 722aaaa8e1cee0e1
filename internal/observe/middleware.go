package observe

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// otherRoute labels requests for paths the admin server does not serve.
const otherRoute = "other"

// responseStatus remembers the first status written downstream.
type responseStatus struct {
	http.ResponseWriter
	code int
}

func (w *responseStatus) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseStatus) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseStatus) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}

// Middleware instruments the admin server. Each request gets a server span
// that continues any incoming W3C trace, an X-Correlation-ID header and a
// duration sample. Paths not listed in routes are labelled "other" so
// scanners cannot inflate metric cardinality.
//
// Probes and scrapes arrive every few seconds, so successful requests log
// at debug; server errors log at warn.
func Middleware(m *Metrics, routes ...string) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}
	route := func(path string) string {
		if slices.Contains(routes, path) {
			return path
		}
		return otherRoute
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rt := route(r.URL.Path)

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, r.Method+" "+rt,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRouteKey.String(rt),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rw := &responseStatus{ResponseWriter: w}
			next.ServeHTTP(rw, r.WithContext(ctx))

			elapsed := time.Since(start)
			code := rw.status()
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("path", rt),
				attribute.Int("status", code),
			))

			span.SetAttributes(semconv.HTTPResponseStatusCode(code))
			level := slog.LevelDebug
			if code >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(code))
				level = slog.LevelWarn
			}
			slog.LogAttrs(ctx, level, "admin request",
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", code),
				slog.Duration("duration", elapsed),
			)
		})
	}
}
