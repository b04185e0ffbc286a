// Package observe provides application-wide observability primitives for
// little-moments: OpenTelemetry metrics, tracing, trace-aware logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that the local status
// server can expose a /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/christophersiem/little-moments"

// Upload outcomes recorded by [Metrics.RecordUpload].
const (
	OutcomeSaved     = "saved"
	OutcomeFailed    = "failed"
	OutcomeTransport = "transport_error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Histograms ---

	// APIRequestDuration tracks remote API round trips. Use with attribute:
	//   attribute.String("operation", ...)
	APIRequestDuration metric.Float64Histogram

	// UploadDuration tracks the time from save to a settled upload result.
	UploadDuration metric.Float64Histogram

	// RecordingLength tracks the elapsed seconds of finished recordings.
	RecordingLength metric.Float64Histogram

	// --- Counters ---

	// APIRequests counts remote API calls. Use with attributes:
	//   attribute.String("operation", ...), attribute.String("status", ...)
	APIRequests metric.Int64Counter

	// APIErrors counts failed remote API calls. Use with attributes:
	//   attribute.String("operation", ...), attribute.String("kind", ...)
	APIErrors metric.Int64Counter

	// RecordingsStarted counts successful microphone acquisitions.
	RecordingsStarted metric.Int64Counter

	// RecordingsDiscarded counts confirmed discards.
	RecordingsDiscarded metric.Int64Counter

	// Uploads counts settled uploads. Use with attribute:
	//   attribute.String("outcome", ...)
	Uploads metric.Int64Counter

	// CapturedBytes counts encoded audio bytes buffered from the microphone.
	CapturedBytes metric.Int64Counter

	// --- Gauges ---

	// ActiveRecordings is 1 while the microphone is held, 0 otherwise.
	ActiveRecordings metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks local status server latency. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for API
// round trips, which include server-side transcription.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// lengthBuckets defines bucket boundaries (in seconds) for recording length.
var lengthBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.APIRequestDuration, err = m.Float64Histogram("moments.api.request.duration",
		metric.WithDescription("Latency of remote memories API calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UploadDuration, err = m.Float64Histogram("moments.upload.duration",
		metric.WithDescription("Time from save to a settled upload result."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecordingLength, err = m.Float64Histogram("moments.recording.length",
		metric.WithDescription("Elapsed seconds of finished recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(lengthBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.APIRequests, err = m.Int64Counter("moments.api.requests",
		metric.WithDescription("Total remote API requests by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.APIErrors, err = m.Int64Counter("moments.api.errors",
		metric.WithDescription("Total remote API errors by operation and kind."),
	); err != nil {
		return nil, err
	}
	if met.RecordingsStarted, err = m.Int64Counter("moments.recordings.started",
		metric.WithDescription("Total recordings started."),
	); err != nil {
		return nil, err
	}
	if met.RecordingsDiscarded, err = m.Int64Counter("moments.recordings.discarded",
		metric.WithDescription("Total recordings discarded after confirmation."),
	); err != nil {
		return nil, err
	}
	if met.Uploads, err = m.Int64Counter("moments.uploads",
		metric.WithDescription("Total settled uploads by outcome."),
	); err != nil {
		return nil, err
	}
	if met.CapturedBytes, err = m.Int64Counter("moments.capture.bytes",
		metric.WithDescription("Encoded audio bytes buffered from the microphone."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRecordings, err = m.Int64UpDownCounter("moments.active_recordings",
		metric.WithDescription("Number of recordings currently holding the microphone."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("moments.http.request.duration",
		metric.WithDescription("Local status server latency by method and route."),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordAPIRequest records one remote API call with its outcome.
func (m *Metrics) RecordAPIRequest(ctx context.Context, operation, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	m.APIRequestDuration.Record(ctx, seconds, attrs)
	m.APIRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

// RecordAPIError records a failed remote API call.
func (m *Metrics) RecordAPIError(ctx context.Context, operation, kind string) {
	m.APIErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("kind", kind),
		),
	)
}

// RecordUpload records a settled upload and how long it took.
func (m *Metrics) RecordUpload(ctx context.Context, outcome string, seconds float64) {
	m.Uploads.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.UploadDuration.Record(ctx, seconds)
}

// RecordRecordingStarted marks the microphone as held.
func (m *Metrics) RecordRecordingStarted(ctx context.Context) {
	m.RecordingsStarted.Add(ctx, 1)
	m.ActiveRecordings.Add(ctx, 1)
}

// RecordRecordingEnded marks the microphone as released after seconds of
// recording.
func (m *Metrics) RecordRecordingEnded(ctx context.Context, seconds int) {
	m.ActiveRecordings.Add(ctx, -1)
	m.RecordingLength.Record(ctx, float64(seconds))
}
