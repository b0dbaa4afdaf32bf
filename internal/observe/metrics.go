// Package observe provides application-wide observability primitives for
// voxstitch: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all voxstitch metrics.
const meterName = "github.com/MrWong99/voxstitch"

// Synthesis modes used as the "mode" attribute.
const (
	ModeComplete = "complete"
	ModeStream   = "stream"
)

// Chunk stages used as the "stage" attribute.
const (
	StageTokenize = "tokenize"
	StageGenerate = "generate"
	StageEncode   = "encode"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SynthesisDuration tracks whole-request latency. Use with attribute:
	//   attribute.String("mode", ModeComplete|ModeStream)
	SynthesisDuration metric.Float64Histogram

	// ChunkDuration tracks per-chunk model latency. Use with attribute:
	//   attribute.String("stage", StageTokenize|StageGenerate)
	ChunkDuration metric.Float64Histogram

	// --- Counters ---

	// ChunkFailures counts chunks skipped as soft failures. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("stage", ...)
	ChunkFailures metric.Int64Counter

	// Segments counts encoded stream segments sent to consumers. Use with
	// attribute: attribute.String("format", ...)
	Segments metric.Int64Counter

	// ModelRequests counts calls into the inference backend. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("op", ...), attribute.String("status", ...)
	ModelRequests metric.Int64Counter

	// VoiceCacheLookups counts voice cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss")
	VoiceCacheLookups metric.Int64Counter

	// VoiceCacheEvictions counts embeddings evicted from the voice cache.
	VoiceCacheEvictions metric.Int64Counter

	// VoicesCombined counts successful voice combinations.
	VoicesCombined metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of streaming requests in progress.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// neural synthesis of sentence-length chunks up to minute-long utterances.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthesisDuration, err = m.Float64Histogram("voxstitch.synthesis.duration",
		metric.WithDescription("Latency of a whole synthesis request by mode."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChunkDuration, err = m.Float64Histogram("voxstitch.chunk.duration",
		metric.WithDescription("Latency of one model call for one chunk by stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChunkFailures, err = m.Int64Counter("voxstitch.chunk.failures",
		metric.WithDescription("Chunks skipped after a soft failure by mode and stage."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("voxstitch.stream.segments",
		metric.WithDescription("Encoded stream segments delivered by format."),
	); err != nil {
		return nil, err
	}
	if met.ModelRequests, err = m.Int64Counter("voxstitch.model.requests",
		metric.WithDescription("Inference backend calls by provider, operation, and status."),
	); err != nil {
		return nil, err
	}
	if met.VoiceCacheLookups, err = m.Int64Counter("voxstitch.voice_cache.lookups",
		metric.WithDescription("Voice cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.VoiceCacheEvictions, err = m.Int64Counter("voxstitch.voice_cache.evictions",
		metric.WithDescription("Voice embeddings evicted from the cache."),
	); err != nil {
		return nil, err
	}
	if met.VoicesCombined, err = m.Int64Counter("voxstitch.voices.combined",
		metric.WithDescription("Combined voices written to the store."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("voxstitch.active_streams",
		metric.WithDescription("Number of streaming requests in progress."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxstitch.http.request.duration",
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

// RecordModelRequest records one inference backend call.
func (m *Metrics) RecordModelRequest(ctx context.Context, provider, op, status string) {
	m.ModelRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

// RecordChunkFailure records one skipped chunk.
func (m *Metrics) RecordChunkFailure(ctx context.Context, mode, stage string) {
	m.ChunkFailures.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("stage", stage),
		),
	)
}

// RecordCacheLookup records a voice cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.VoiceCacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordSegment records one stream segment delivered to a consumer.
func (m *Metrics) RecordSegment(ctx context.Context, format string) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(attribute.String("format", format)))
}
