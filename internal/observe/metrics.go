// Package observe provides application-wide observability primitives for
// sessionscribe: OpenTelemetry metrics, distributed tracing, trace-aware
// structured logging, and the optional /metrics endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so a long-running
// transcription can be scraped while it is in flight. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all sessionscribe metrics.
const meterName = "github.com/MrWong99/sessionscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text latency, including retries.
	STTDuration metric.Float64Histogram

	// DiarizationDuration tracks model load plus diarization latency.
	DiarizationDuration metric.Float64Histogram

	// AlignmentDuration tracks transcript/segment alignment latency.
	AlignmentDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// STTRetries counts transcription retries. Use with attribute:
	//   attribute.String("reason", "rate_limit" | "error")
	STTRetries metric.Int64Counter

	// AlignmentFallbacks counts alignments that degraded to the timestamp-only
	// transcript. Use with attribute:
	//   attribute.String("reason", "error" | "empty")
	AlignmentFallbacks metric.Int64Counter

	// TranscriptCorrections counts glossary substitutions applied to raw
	// transcripts.
	TranscriptCorrections metric.Int64Counter

	// --- Gauges ---

	// ActiveRuns tracks the number of pipeline runs in flight.
	ActiveRuns metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks /metrics request processing time.
	HTTPRequestDuration metric.Float64Histogram
}

// stageBuckets defines histogram bucket boundaries (in seconds) for batch
// processing of recordings that range from a short clip to a full evening.
var stageBuckets = []float64{
	0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600,
}

// httpBuckets defines histogram bucket boundaries (in seconds) for scrapes.
var httpBuckets = []float64{
	0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram("sessionscribe.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription, including retries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DiarizationDuration, err = m.Float64Histogram("sessionscribe.diarization.duration",
		metric.WithDescription("Latency of speaker diarization, including model load."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AlignmentDuration, err = m.Float64Histogram("sessionscribe.alignment.duration",
		metric.WithDescription("Latency of transcript and diarization alignment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("sessionscribe.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("sessionscribe.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.STTRetries, err = m.Int64Counter("sessionscribe.stt.retries",
		metric.WithDescription("Total transcription retries by reason."),
	); err != nil {
		return nil, err
	}
	if met.AlignmentFallbacks, err = m.Int64Counter("sessionscribe.alignment.fallbacks",
		metric.WithDescription("Total alignments that fell back to timestamp-only output."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptCorrections, err = m.Int64Counter("sessionscribe.transcript.corrections",
		metric.WithDescription("Total glossary corrections applied to transcripts."),
	); err != nil {
		return nil, err
	}

	if met.ActiveRuns, err = m.Int64UpDownCounter("sessionscribe.active_runs",
		metric.WithDescription("Number of pipeline runs in flight."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("sessionscribe.http.request.duration",
		metric.WithDescription("Latency of HTTP requests to the metrics endpoint."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(httpBuckets...),
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
// first call using [otel.GetMeterProvider]. Call it after [InitProvider] so
// the instruments bind to the configured provider. Panics if instrument
// creation fails (should not happen with the global provider).
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

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSTTRetry records a transcription retry.
func (m *Metrics) RecordSTTRetry(ctx context.Context, reason string) {
	m.STTRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordAlignmentFallback records an alignment that used the fallback output.
func (m *Metrics) RecordAlignmentFallback(ctx context.Context, reason string) {
	m.AlignmentFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
