// Package observe provides application-wide observability primitives for
// Voxweave: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [Init] so that metrics can still be
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

// meterName is the instrumentation scope name used for all Voxweave metrics.
const meterName = "github.com/MrWong99/voxweave"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// FragmentDuration tracks the time spent normalizing, demultiplexing,
	// and applying one inbound transcription fragment.
	FragmentDuration metric.Float64Histogram

	// --- Counters ---

	// Fragments counts processed transcription fragments. Use with attributes:
	//   attribute.String("speaker", ...), attribute.String("finality", ...)
	Fragments metric.Int64Counter

	// MalformedPayloads counts inbound messages the normalizer dropped.
	MalformedPayloads metric.Int64Counter

	// CodeVersions counts committed code versions.
	CodeVersions metric.Int64Counter

	// TranscriptEntries counts permanent transcript entries. Use with
	// attribute: attribute.String("speaker", ...)
	TranscriptEntries metric.Int64Counter

	// ArchiveErrors counts failed archive writes. Use with attribute:
	//   attribute.String("kind", ...)
	ArchiveErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live realtime sessions.
	ActiveSessions metric.Int64UpDownCounter

	// FeedSubscribers tracks the number of connected event-feed subscribers.
	FeedSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for per-fragment processing latencies.
var latencyBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.FragmentDuration, err = m.Float64Histogram("voxweave.fragment.duration",
		metric.WithDescription("Latency of processing one transcription fragment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Fragments, err = m.Int64Counter("voxweave.fragments",
		metric.WithDescription("Total processed transcription fragments by speaker and finality."),
	); err != nil {
		return nil, err
	}
	if met.MalformedPayloads, err = m.Int64Counter("voxweave.malformed_payloads",
		metric.WithDescription("Total inbound messages dropped by the normalizer."),
	); err != nil {
		return nil, err
	}
	if met.CodeVersions, err = m.Int64Counter("voxweave.code_versions",
		metric.WithDescription("Total committed code versions."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEntries, err = m.Int64Counter("voxweave.transcript_entries",
		metric.WithDescription("Total permanent transcript entries by speaker."),
	); err != nil {
		return nil, err
	}
	if met.ArchiveErrors, err = m.Int64Counter("voxweave.archive.errors",
		metric.WithDescription("Total failed archive writes by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxweave.active_sessions",
		metric.WithDescription("Number of live realtime sessions."),
	); err != nil {
		return nil, err
	}
	if met.FeedSubscribers, err = m.Int64UpDownCounter("voxweave.feed_subscribers",
		metric.WithDescription("Number of connected event-feed subscribers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxweave.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route class."),
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

// RecordFragment records one processed fragment with its processing duration.
func (m *Metrics) RecordFragment(ctx context.Context, speaker string, final bool, seconds float64) {
	finality := "interim"
	if final {
		finality = "final"
	}
	attrs := metric.WithAttributes(
		attribute.String("speaker", speaker),
		attribute.String("finality", finality),
	)
	m.Fragments.Add(ctx, 1, attrs)
	m.FragmentDuration.Record(ctx, seconds, attrs)
}

// RecordTranscriptEntry records one permanent transcript entry.
func (m *Metrics) RecordTranscriptEntry(ctx context.Context, speaker string) {
	m.TranscriptEntries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("speaker", speaker)),
	)
}

// RecordMalformedPayload records one dropped inbound message.
func (m *Metrics) RecordMalformedPayload(ctx context.Context) {
	m.MalformedPayloads.Add(ctx, 1)
}

// RecordArchiveError records one failed archive write.
func (m *Metrics) RecordArchiveError(ctx context.Context, kind string) {
	m.ArchiveErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
