// Package observe provides application-wide observability primitives for
// voicecore: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all voicecore metrics.
const meterName = "github.com/vaani-ai/voicecore"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Pipeline histograms ---

	// FrameDuration tracks per-chunk pipeline processing latency.
	FrameDuration metric.Float64Histogram

	// FrameSNR tracks the estimated signal-to-noise ratio of processed
	// frames, in dB.
	FrameSNR metric.Float64Histogram

	// --- Counters ---

	// FramesProcessed counts processed audio frames. Use with attribute:
	//   attribute.String("session_id", ...)
	FramesProcessed metric.Int64Counter

	// FramesClipped counts frames that arrived with clipped samples.
	FramesClipped metric.Int64Counter

	// SpeechSegments counts finalized speech segments.
	SpeechSegments metric.Int64Counter

	// SyncOperations counts sync outcomes. Use with attribute:
	//   attribute.String("status", "synced"|"dropped")
	SyncOperations metric.Int64Counter

	// SyncConflicts counts version conflicts. Use with attribute:
	//   attribute.String("strategy", ...)
	SyncConflicts metric.Int64Counter

	// CacheEvictions counts cache evictions. Use with attributes:
	//   attribute.String("cache", "model"|"scheme"), attribute.String("reason", ...)
	CacheEvictions metric.Int64Counter

	// ConditionChanges counts network condition transitions. Use with
	// attribute: attribute.String("to", ...)
	ConditionChanges metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SyncQueueDepth tracks the number of queued sync operations.
	SyncQueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for per-chunk pipeline latencies.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// snrBuckets defines histogram bucket boundaries (in dB) for frame SNR.
var snrBuckets = []float64{
	0, 5, 10, 15, 20, 25, 30, 40, 50,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.FrameDuration, err = m.Float64Histogram("voicecore.frame.duration",
		metric.WithDescription("Per-chunk pipeline processing latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FrameSNR, err = m.Float64Histogram("voicecore.frame.snr",
		metric.WithDescription("Estimated signal-to-noise ratio of processed frames."),
		metric.WithUnit("dB"),
		metric.WithExplicitBucketBoundaries(snrBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesProcessed, err = m.Int64Counter("voicecore.frames.processed",
		metric.WithDescription("Total processed audio frames by session."),
	); err != nil {
		return nil, err
	}
	if met.FramesClipped, err = m.Int64Counter("voicecore.frames.clipped",
		metric.WithDescription("Total frames that arrived with clipped samples."),
	); err != nil {
		return nil, err
	}
	if met.SpeechSegments, err = m.Int64Counter("voicecore.speech.segments",
		metric.WithDescription("Total finalized speech segments."),
	); err != nil {
		return nil, err
	}
	if met.SyncOperations, err = m.Int64Counter("voicecore.sync.operations",
		metric.WithDescription("Total sync operation outcomes by status."),
	); err != nil {
		return nil, err
	}
	if met.SyncConflicts, err = m.Int64Counter("voicecore.sync.conflicts",
		metric.WithDescription("Total sync version conflicts by resolution strategy."),
	); err != nil {
		return nil, err
	}
	if met.CacheEvictions, err = m.Int64Counter("voicecore.cache.evictions",
		metric.WithDescription("Total cache evictions by cache and reason."),
	); err != nil {
		return nil, err
	}
	if met.ConditionChanges, err = m.Int64Counter("voicecore.network.condition_changes",
		metric.WithDescription("Total network condition transitions by target condition."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicecore.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.SyncQueueDepth, err = m.Int64UpDownCounter("voicecore.sync.queue_depth",
		metric.WithDescription("Number of queued sync operations."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicecore.http.request.duration",
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

// RecordFrame records one processed frame with its pipeline latency and SNR.
func (m *Metrics) RecordFrame(ctx context.Context, sessionID string, seconds, snr float64, clipped bool) {
	m.FramesProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("session_id", sessionID)),
	)
	m.FrameDuration.Record(ctx, seconds)
	m.FrameSNR.Record(ctx, snr)
	if clipped {
		m.FramesClipped.Add(ctx, 1)
	}
}

// RecordSyncOutcome records synced and dropped operation counts for one drain.
func (m *Metrics) RecordSyncOutcome(ctx context.Context, synced, dropped int) {
	if synced > 0 {
		m.SyncOperations.Add(ctx, int64(synced),
			metric.WithAttributes(attribute.String("status", "synced")),
		)
	}
	if dropped > 0 {
		m.SyncOperations.Add(ctx, int64(dropped),
			metric.WithAttributes(attribute.String("status", "dropped")),
		)
	}
}

// RecordConflict records one sync conflict by strategy name.
func (m *Metrics) RecordConflict(ctx context.Context, strategy string) {
	m.SyncConflicts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("strategy", strategy)),
	)
}

// RecordConditionChange records one network condition transition.
func (m *Metrics) RecordConditionChange(ctx context.Context, to string) {
	m.ConditionChanges.Add(ctx, 1,
		metric.WithAttributes(attribute.String("to", to)),
	)
}

// RecordEviction records one cache eviction.
func (m *Metrics) RecordEviction(ctx context.Context, cache, reason string) {
	m.CacheEvictions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("cache", cache),
			attribute.String("reason", reason),
		),
	)
}
