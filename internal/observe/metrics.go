// Package observe provides the observability primitives of the voice
// assistant: OpenTelemetry metrics, tracing of voice turns, trace-aware
// structured logging and HTTP middleware for the control surface.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. Tests should use [NewMetrics] with their own
// [metric.MeterProvider] (typically backed by a ManualReader) instead of
// [DefaultMetrics].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/heychef"

// Stage names used as the "stage" attribute.
const (
	StageWake       = "wake"
	StageRecord     = "record"
	StageTranscribe = "transcribe"
	StageGenerate   = "generate"
	StageSpeak      = "speak"
)

// Turn outcomes used as the "outcome" attribute of [Metrics.Turns].
const (
	OutcomeAnswered  = "answered"
	OutcomeNoSpeech  = "no_speech"
	OutcomeEmpty     = "empty_transcript"
	OutcomeFallback  = "fallback"
	OutcomeCancelled = "cancelled"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// StageDuration tracks the wall time of each pipeline stage, attribute
	// "stage".
	StageDuration metric.Float64Histogram

	// ProviderDuration tracks external call latency, attributes "kind"
	// (llm, stt, tts) and "provider".
	ProviderDuration metric.Float64Histogram

	// ProviderErrors counts failed external calls with the same attributes.
	ProviderErrors metric.Int64Counter

	// Turns counts completed turns by "outcome".
	Turns metric.Int64Counter

	// Fallbacks counts spoken fallback phrases by "stage".
	Fallbacks metric.Int64Counter

	// Retries counts stage retries by "stage".
	Retries metric.Int64Counter

	// PlaybackSkipped counts playback chunks dropped after a synthesis or
	// playback failure.
	PlaybackSkipped metric.Int64Counter

	// TimeToFirstAudio measures from the end of transcription to the start of
	// the first audible chunk, attribute "streaming".
	TimeToFirstAudio metric.Float64Histogram

	// BreakerTransitions counts circuit breaker state changes, attributes
	// "name" and "state".
	BreakerTransitions metric.Int64Counter

	// ActiveSessions tracks running sessions (0 or 1 per orchestrator).
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks control-surface request latency, attributes
	// "method" and "path".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for voice
// pipeline latencies, which range from a few ms (wake) to tens of seconds
// (recording).
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.StageDuration, err = histogram("heychef.stage.duration", "Duration of a voice pipeline stage."); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = histogram("heychef.provider.duration", "Latency of external LLM/STT/TTS calls."); err != nil {
		return nil, err
	}
	if met.TimeToFirstAudio, err = histogram("heychef.time_to_first_audio", "Time from transcript to first audible answer chunk."); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("heychef.http.request.duration",
		metric.WithDescription("Control API request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.ProviderErrors, err = m.Int64Counter("heychef.provider.errors",
		metric.WithDescription("Failed external calls by kind and provider."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("heychef.turns",
		metric.WithDescription("Completed voice turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("heychef.fallbacks",
		metric.WithDescription("Spoken fallback phrases by failing stage."),
	); err != nil {
		return nil, err
	}
	if met.Retries, err = m.Int64Counter("heychef.retries",
		metric.WithDescription("Stage retries after a transient failure."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackSkipped, err = m.Int64Counter("heychef.playback.skipped",
		metric.WithDescription("Answer chunks skipped after synthesis or playback failed."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("heychef.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker name and new state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("heychef.sessions.active",
		metric.WithDescription("Number of running voice sessions."),
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

// RecordStage records the duration of one pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("stage", stage)))
}

// RecordProviderCall records latency and, when err is non-nil, an error for
// one external call.
func (m *Metrics) RecordProviderCall(ctx context.Context, kind, provider string, d time.Duration, err error) {
	attrs := metric.WithAttributes(Attr("kind", kind), Attr("provider", provider))
	m.ProviderDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.ProviderErrors.Add(ctx, 1, attrs)
	}
}

// RecordTurn counts a finished turn.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordFallback counts a spoken fallback for stage.
func (m *Metrics) RecordFallback(ctx context.Context, stage string) {
	m.Fallbacks.Add(ctx, 1, metric.WithAttributes(Attr("stage", stage)))
}

// RecordRetry counts a retry of stage.
func (m *Metrics) RecordRetry(ctx context.Context, stage string) {
	m.Retries.Add(ctx, 1, metric.WithAttributes(Attr("stage", stage)))
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(Attr("name", name), Attr("state", state)))
}

// RecordTimeToFirstAudio records the answer latency perceived by the user.
func (m *Metrics) RecordTimeToFirstAudio(ctx context.Context, d time.Duration, streaming bool) {
	m.TimeToFirstAudio.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("streaming", streaming)))
}
