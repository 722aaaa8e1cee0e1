// Package observe provides the observability primitives for echocrafter:
// OpenTelemetry metrics, tracing, trace-aware logging and HTTP middleware
// for the admin server.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping through the Prometheus exporter bridge set up by [InitProvider].
// [DefaultMetrics] returns a package-level [Metrics] bound to the global
// meter provider; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all echocrafter metrics.
const meterName = "github.com/MrWong99/echocrafter"

// Session outcomes recorded by [Metrics.RecordOutcome].
const (
	OutcomeIntent        = "intent"
	OutcomeNotUnderstood = "not_understood"
	OutcomeTimeout       = "timeout"
	OutcomeTranscript    = "transcript"
	OutcomeAborted       = "aborted"
)

// Metrics holds all metric instruments. The OTel instruments handle their own
// synchronisation.
type Metrics struct {
	// ── Latency histograms ──

	// IntentDuration tracks classifier inference latency after finalization.
	IntentDuration metric.Float64Histogram

	// STTDuration tracks fallback transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM completion latency in the intent resolver.
	LLMDuration metric.Float64Histogram

	// UtteranceDuration tracks the audio length of collected utterances.
	UtteranceDuration metric.Float64Histogram

	// ── Counters ──

	// Sessions counts wake word detections. Use with attribute:
	//   attribute.Int("keyword", ...)
	Sessions metric.Int64Counter

	// Outcomes counts how sessions ended. Use with attribute:
	//   attribute.String("outcome", ...)
	Outcomes metric.Int64Counter

	// StateTransitions counts orchestrator transitions. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// RingEvictions counts frames dropped because the ring was full.
	RingEvictions metric.Int64Counter

	// ProviderRequests counts engine backend calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts engine backend errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: attribute.String("breaker", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// DispatchErrors counts outcome deliveries that failed. Use with
	// attributes: attribute.String("event", ...)
	DispatchErrors metric.Int64Counter

	// ── HTTP middleware ──

	// HTTPRequestDuration tracks admin HTTP request time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds sized for engine calls,
// from a fast grammar match to a slow cloud transcription.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// utteranceBuckets are histogram boundaries in seconds for spoken commands.
var utteranceBuckets = []float64{
	0.5, 1, 2, 3, 5, 8, 13, 20, 30,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	hist := func(name, desc string, buckets []float64) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(buckets...),
		)
	}
	if met.IntentDuration, err = hist("echocrafter.intent.duration",
		"Latency of intent inference.", latencyBuckets); err != nil {
		return nil, err
	}
	if met.STTDuration, err = hist("echocrafter.stt.duration",
		"Latency of fallback transcription.", latencyBuckets); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = hist("echocrafter.llm.duration",
		"Latency of LLM completions made by the intent resolver.", latencyBuckets); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = hist("echocrafter.utterance.duration",
		"Audio length of collected utterances.", utteranceBuckets); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.Sessions, "echocrafter.sessions", "Wake word detections by keyword."},
		{&met.Outcomes, "echocrafter.session.outcomes", "Session outcomes by kind."},
		{&met.StateTransitions, "echocrafter.state.transitions", "Orchestrator state transitions."},
		{&met.RingEvictions, "echocrafter.ring.evictions", "Frames evicted from a full frame ring."},
		{&met.ProviderRequests, "echocrafter.provider.requests", "Engine backend calls by provider, kind and status."},
		{&met.ProviderErrors, "echocrafter.provider.errors", "Engine backend errors by provider and kind."},
		{&met.BreakerTransitions, "echocrafter.breaker.transitions", "Circuit breaker state changes."},
		{&met.DispatchErrors, "echocrafter.dispatch.errors", "Failed outcome deliveries by event type."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("echocrafter.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first call
// from [otel.GetMeterProvider]. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSession counts a wake word detection.
func (m *Metrics) RecordSession(ctx context.Context, keyword int) {
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.Int("keyword", keyword)))
}

// RecordOutcome counts a session outcome; see the Outcome constants.
func (m *Metrics) RecordOutcome(ctx context.Context, outcome string) {
	m.Outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordStateChange counts one orchestrator transition.
func (m *Metrics) RecordStateChange(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordEviction counts one frame dropped by a full ring.
func (m *Metrics) RecordEviction(ctx context.Context) {
	m.RingEvictions.Add(ctx, 1)
}

// RecordProviderCall records the latency histogram h and a request counter
// for one backend call, plus an error counter when err is non-nil.
func (m *Metrics) RecordProviderCall(ctx context.Context, h metric.Float64Histogram, provider, kind string, d time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("provider", provider))
	h.Record(ctx, d.Seconds(), attrs)
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, kind)
	}
	m.RecordProviderRequest(ctx, provider, kind, status)
}

// RecordProviderRequest counts a backend call with the standard attributes.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError counts a backend error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition counts a circuit breaker moving to state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("to", to),
	))
}

// RecordDispatchError counts a failed delivery of an event type.
func (m *Metrics) RecordDispatchError(ctx context.Context, event string) {
	m.DispatchErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}
