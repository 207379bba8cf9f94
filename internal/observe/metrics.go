// Package observe provides application-wide observability for the Vocata
// server: OpenTelemetry metric instruments, the Prometheus exporter bridge,
// and HTTP middleware for the metrics/health listener.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the standard /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
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

// meterName is the instrumentation scope name used for all Vocata metrics.
const meterName = "github.com/vocata-ai/vocata"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration tracks transcription latency per segment.
	STTDuration metric.Float64Histogram

	// TTSChunkDuration tracks per-chunk synthesis latency. Use with
	// attribute.String("engine", ...).
	TTSChunkDuration metric.Float64Histogram

	// RouteDuration tracks intent resolution latency. Use with
	// attribute.String("source", ...) for skill/llm/webhook/echo.
	RouteDuration metric.Float64Histogram

	// HTTPRequestDuration tracks metrics/health listener latency.
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// FramesIn counts accepted inbound audio frames. Use with
	// attribute.String("transport", "json"|"binary").
	FramesIn metric.Int64Counter

	// FramesOut counts emitted tts_chunk messages.
	FramesOut metric.Int64Counter

	// DroppedFrames counts discarded inbound frames. Use with
	// attribute.String("reason", ...).
	DroppedFrames metric.Int64Counter

	// CacheHits and CacheMisses count fingerprint cache lookups.
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	// Fallbacks counts main-engine chunks rescued by the intro engine.
	Fallbacks metric.Int64Counter

	// Sequences counts finished TTS sequences. Use with
	// attribute.String("status", "completed"|"partial"|"cancelled"|"failed").
	Sequences metric.Int64Counter

	// Retries counts external HTTP retry attempts. Use with
	// attribute.String("target", ...).
	Retries metric.Int64Counter

	// WireErrors counts error messages sent to clients. Use with
	// attribute.String("kind", ...).
	WireErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live client sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveStreams tracks the number of audio streams in state Active.
	ActiveStreams metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
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
	if met.STTDuration, err = m.Float64Histogram("vocata.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription per segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSChunkDuration, err = m.Float64Histogram("vocata.tts.chunk.duration",
		metric.WithDescription("Latency of chunk synthesis by engine."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RouteDuration, err = m.Float64Histogram("vocata.route.duration",
		metric.WithDescription("Latency of intent resolution by source."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("vocata.http.request.duration",
		metric.WithDescription("HTTP request latency on the metrics listener."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesIn, err = m.Int64Counter("vocata.frames.in",
		metric.WithDescription("Accepted inbound audio frames by transport."),
	); err != nil {
		return nil, err
	}
	if met.FramesOut, err = m.Int64Counter("vocata.frames.out",
		metric.WithDescription("Emitted TTS chunk messages."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("vocata.frames.dropped",
		metric.WithDescription("Discarded inbound audio frames by reason."),
	); err != nil {
		return nil, err
	}
	if met.CacheHits, err = m.Int64Counter("vocata.tts.cache.hits",
		metric.WithDescription("Fingerprint cache hits."),
	); err != nil {
		return nil, err
	}
	if met.CacheMisses, err = m.Int64Counter("vocata.tts.cache.misses",
		metric.WithDescription("Fingerprint cache misses."),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("vocata.tts.fallbacks",
		metric.WithDescription("Main-engine chunks synthesized on the fallback engine."),
	); err != nil {
		return nil, err
	}
	if met.Sequences, err = m.Int64Counter("vocata.tts.sequences",
		metric.WithDescription("Finished TTS sequences by status."),
	); err != nil {
		return nil, err
	}
	if met.Retries, err = m.Int64Counter("vocata.external.retries",
		metric.WithDescription("External HTTP retry attempts by target."),
	); err != nil {
		return nil, err
	}
	if met.WireErrors, err = m.Int64Counter("vocata.errors",
		metric.WithDescription("Error messages sent to clients by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("vocata.sessions.active",
		metric.WithDescription("Number of live client sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("vocata.streams.active",
		metric.WithDescription("Number of audio streams currently active."),
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

// RecordDropped increments the dropped-frame counter with the given reason.
func (m *Metrics) RecordDropped(ctx context.Context, reason string) {
	m.DroppedFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSequence increments the sequence counter with the given status.
func (m *Metrics) RecordSequence(ctx context.Context, status string) {
	m.Sequences.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordChunk records one chunk synthesis with its engine and duration in
// seconds.
func (m *Metrics) RecordChunk(ctx context.Context, engine string, seconds float64) {
	m.TTSChunkDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("engine", engine)))
}

// RecordWireError increments the client-visible error counter by kind.
func (m *Metrics) RecordWireError(ctx context.Context, kind string) {
	m.WireErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
