// Package observe provides application-wide observability primitives for
// Tremolo: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped from /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Tremolo metrics.
const meterName = "github.com/kavehfayyazi/tremolo"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// AnalysisDuration tracks end-to-end analysis latency from upload (or
	// payload receipt) to a scored result. Use with attributes:
	//   attribute.String("source", ...), attribute.String("outcome", ...)
	AnalysisDuration metric.Float64Histogram

	// StageDuration tracks latency per engine stage. Use with attribute:
	//   attribute.String("stage", "upload"|"poll"|"fuse"|"score"|"feedback")
	StageDuration metric.Float64Histogram

	// BackendDuration tracks analysis backend call latency. Use with attribute:
	//   attribute.String("operation", ...)
	BackendDuration metric.Float64Histogram

	// --- Counters ---

	// PollAttempts counts job-status observations. Use with attribute:
	//   attribute.String("state", ...)
	PollAttempts metric.Int64Counter

	// Markers counts emitted feedback markers. Use with attributes:
	//   attribute.String("category", ...), attribute.String("path", "enriched"|"fallback"|"ai")
	Markers metric.Int64Counter

	// Fallbacks counts analyses answered with demonstration data. Use with
	// attribute:
	//   attribute.String("reason", ...)
	Fallbacks metric.Int64Counter

	// BackendRequests counts analysis backend calls. Use with attributes:
	//   attribute.String("operation", ...), attribute.String("status", ...)
	BackendRequests metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("breaker", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// ToolCalls counts MCP tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// --- Error counters ---

	// BackendErrors counts analysis backend errors. Use with attributes:
	//   attribute.String("operation", ...), attribute.String("kind", ...)
	BackendErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveAnalyses tracks analyses currently in flight.
	ActiveAnalyses metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for single
// calls and pure stages.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// stageBuckets extends latencyBuckets for the poll stage, which can wait on
// the backend for minutes.
var stageBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 240,
}

// jobBuckets covers whole analyses.
var jobBuckets = []float64{
	1, 2, 5, 10, 20, 30, 60, 120, 180, 240, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.AnalysisDuration, err = m.Float64Histogram("tremolo.analysis.duration",
		metric.WithDescription("End-to-end latency of an analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(jobBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("tremolo.stage.duration",
		metric.WithDescription("Latency of a single analysis stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BackendDuration, err = m.Float64Histogram("tremolo.backend.duration",
		metric.WithDescription("Latency of analysis backend calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.PollAttempts, err = m.Int64Counter("tremolo.poll.attempts",
		metric.WithDescription("Total job-status observations by state."),
	); err != nil {
		return nil, err
	}
	if met.Markers, err = m.Int64Counter("tremolo.markers",
		metric.WithDescription("Total feedback markers by category and path."),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("tremolo.demo.fallbacks",
		metric.WithDescription("Total analyses answered with demonstration data, by reason."),
	); err != nil {
		return nil, err
	}
	if met.BackendRequests, err = m.Int64Counter("tremolo.backend.requests",
		metric.WithDescription("Total analysis backend requests by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("tremolo.breaker.transitions",
		metric.WithDescription("Total circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("tremolo.tool.calls",
		metric.WithDescription("Total MCP tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.BackendErrors, err = m.Int64Counter("tremolo.backend.errors",
		metric.WithDescription("Total analysis backend errors by operation and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveAnalyses, err = m.Int64UpDownCounter("tremolo.active_analyses",
		metric.WithDescription("Number of analyses currently in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("tremolo.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordAnalysis records the end-to-end latency of one analysis.
func (m *Metrics) RecordAnalysis(ctx context.Context, source, outcome string, seconds float64) {
	m.AnalysisDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordStage records the latency of one engine stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordPollAttempt records one job-status observation.
func (m *Metrics) RecordPollAttempt(ctx context.Context, state string) {
	m.PollAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordMarkers adds n markers of the given category and path.
func (m *Metrics) RecordMarkers(ctx context.Context, category, path string, n int) {
	if n <= 0 {
		return
	}
	m.Markers.Add(ctx, int64(n),
		metric.WithAttributes(
			attribute.String("category", category),
			attribute.String("path", path),
		),
	)
}

// RecordFallback records an analysis answered with demonstration data.
func (m *Metrics) RecordFallback(ctx context.Context, reason string) {
	m.Fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordBackendRequest records one analysis backend call.
func (m *Metrics) RecordBackendRequest(ctx context.Context, operation, status string, seconds float64) {
	m.BackendRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
	m.BackendDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordBackendError records an analysis backend error.
func (m *Metrics) RecordBackendError(ctx context.Context, operation, kind string) {
	m.BackendErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("to", to),
		),
	)
}

// RecordToolCall records an MCP tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}
