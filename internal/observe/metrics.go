// Package observe provides application-wide observability primitives for
// Voxcal: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Voxcal metrics.
const meterName = "github.com/MrWong99/voxcal"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks per-stage processing latency. Use with attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// RecordingDuration tracks end-to-end latency from discovery to a
	// terminal stage.
	RecordingDuration metric.Float64Histogram

	// --- Counters ---

	// Recordings counts recordings reaching a terminal stage. Use with
	// attribute: attribute.String("status", "done"|"failed")
	Recordings metric.Int64Counter

	// PipelineRuns counts completed pipeline runs. Use with attribute:
	//   attribute.String("status", "ok"|"error"|"skipped")
	PipelineRuns metric.Int64Counter

	// ProviderRequests counts provider API call attempts. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", "ok"|"error")
	ProviderRequests metric.Int64Counter

	// NotifiedEvents counts events covered by sent digests.
	NotifiedEvents metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts failed provider API call attempts. Use with
	// attribute: attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveRecordings tracks recordings currently being processed.
	ActiveRecordings metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). The
// upper buckets cover slow transcription and LLM calls.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("voxcal.stage.duration",
		metric.WithDescription("Latency of a single pipeline stage by stage name."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("voxcal.recording.duration",
		metric.WithDescription("End-to-end recording latency from discovery to terminal stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Recordings, err = m.Int64Counter("voxcal.recordings",
		metric.WithDescription("Recordings reaching a terminal stage by status."),
	); err != nil {
		return nil, err
	}
	if met.PipelineRuns, err = m.Int64Counter("voxcal.pipeline.runs",
		metric.WithDescription("Completed pipeline runs by status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voxcal.provider.requests",
		metric.WithDescription("Provider API call attempts by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.NotifiedEvents, err = m.Int64Counter("voxcal.notified.events",
		metric.WithDescription("Events covered by sent notification digests."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("voxcal.provider.errors",
		metric.WithDescription("Failed provider API call attempts by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRecordings, err = m.Int64UpDownCounter("voxcal.active_recordings",
		metric.WithDescription("Recordings currently being processed."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxcal.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordStage is a convenience helper recording one stage observation.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordProviderCall counts one provider API call attempt of the given
// kind ("filestore", "transcriber", "llm", "calendar", "mailer") and,
// when err is non-nil, one provider error. Cancellations are the
// caller's doing, not the provider's, and are not counted as errors.
func (m *Metrics) RecordProviderCall(ctx context.Context, kind string, err error) {
	status := "ok"
	if err != nil && !errors.Is(err, context.Canceled) {
		status = "error"
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}
