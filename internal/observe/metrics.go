// Package observe provides application-wide observability primitives for
// Sentinel: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Sentinel metrics.
const meterName = "github.com/soundsentinel/sentinel"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ClassifyDuration tracks acoustic classification latency.
	ClassifyDuration metric.Float64Histogram

	// MatchDuration tracks custom-sound matching latency.
	MatchDuration metric.Float64Histogram

	// PersistDuration tracks detection persistence latency.
	PersistDuration metric.Float64Histogram

	// PipelineDuration tracks end-to-end segment processing latency.
	PipelineDuration metric.Float64Histogram

	// --- Counters ---

	// SegmentsCompleted counts fully reassembled segments.
	SegmentsCompleted metric.Int64Counter

	// ProtocolMismatches counts packets rejected for conflicting segment
	// parameters.
	ProtocolMismatches metric.Int64Counter

	// SegmentsReaped counts stale segments discarded by the reaper.
	SegmentsReaped metric.Int64Counter

	// Detections counts produced detection records. Use with attributes:
	//   attribute.String("kind", "custom"|"generic"), attribute.String("notified", ...)
	Detections metric.Int64Counter

	// BroadcastDrops counts subscribers evicted for falling behind.
	BroadcastDrops metric.Int64Counter

	// --- Error counters ---

	// ClassifierErrors counts classifier failures. Use with attribute:
	//   attribute.String("model", ...)
	ClassifierErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSegments tracks the number of segments currently buffering.
	ActiveSegments metric.Int64UpDownCounter

	// ActiveSubscribers tracks the number of connected websocket subscribers.
	ActiveSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for the classify-match-persist path.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ClassifyDuration, err = m.Float64Histogram("sentinel.classify.duration",
		metric.WithDescription("Latency of acoustic classification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MatchDuration, err = m.Float64Histogram("sentinel.match.duration",
		metric.WithDescription("Latency of custom sound matching."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PersistDuration, err = m.Float64Histogram("sentinel.persist.duration",
		metric.WithDescription("Latency of detection persistence."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("sentinel.pipeline.duration",
		metric.WithDescription("End-to-end segment processing latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SegmentsCompleted, err = m.Int64Counter("sentinel.segments.completed",
		metric.WithDescription("Total fully reassembled audio segments."),
	); err != nil {
		return nil, err
	}
	if met.ProtocolMismatches, err = m.Int64Counter("sentinel.segments.protocol_mismatches",
		metric.WithDescription("Total packets rejected for conflicting segment parameters."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsReaped, err = m.Int64Counter("sentinel.segments.reaped",
		metric.WithDescription("Total stale segments discarded by the reaper."),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("sentinel.detections",
		metric.WithDescription("Total detection records by kind and notification outcome."),
	); err != nil {
		return nil, err
	}
	if met.BroadcastDrops, err = m.Int64Counter("sentinel.broadcast.drops",
		metric.WithDescription("Total subscribers evicted for falling behind."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ClassifierErrors, err = m.Int64Counter("sentinel.classifier.errors",
		metric.WithDescription("Total classifier failures by model."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSegments, err = m.Int64UpDownCounter("sentinel.active_segments",
		metric.WithDescription("Number of segments currently buffering."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSubscribers, err = m.Int64UpDownCounter("sentinel.active_subscribers",
		metric.WithDescription("Number of connected websocket subscribers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("sentinel.http.request.duration",
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordDetection records a detection counter increment with the standard
// attribute set.
func (m *Metrics) RecordDetection(ctx context.Context, isCustom, notified bool) {
	kind := "generic"
	if isCustom {
		kind = "custom"
	}
	notifiedAttr := "false"
	if notified {
		notifiedAttr = "true"
	}
	m.Detections.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("notified", notifiedAttr),
		),
	)
}

// RecordClassifierError records a classifier error counter increment.
func (m *Metrics) RecordClassifierError(ctx context.Context, model string) {
	m.ClassifierErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("model", model)),
	)
}
