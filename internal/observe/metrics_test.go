package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// histogramCount returns the total sample count of a histogram metric.
func histogramCount(t *testing.T, met *metricdata.Metrics) uint64 {
	t.Helper()
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("%s is not a float64 histogram", met.Name)
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

// sumByAttr returns the counter value of the data point carrying key=value.
func sumByAttr(t *testing.T, met *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s is not an int64 sum", met.Name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordStage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStage(ctx, StageTranscribe, 300*time.Millisecond)
	m.RecordStage(ctx, StageTranscribe, 500*time.Millisecond)
	m.RecordStage(ctx, StageSpeak, time.Second)

	met := findMetric(collect(t, reader), "heychef.stage.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got := histogramCount(t, met); got != 3 {
		t.Errorf("sample count = %d, want 3", got)
	}
	if met.Unit != "s" {
		t.Errorf("unit = %q, want s", met.Unit)
	}
}

func TestRecordProviderCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderCall(ctx, "llm", "openai", 200*time.Millisecond, nil)
	m.RecordProviderCall(ctx, "llm", "openai", 100*time.Millisecond, errors.New("boom"))
	m.RecordProviderCall(ctx, "tts", "elevenlabs", 50*time.Millisecond, errors.New("boom"))

	rm := collect(t, reader)
	dur := findMetric(rm, "heychef.provider.duration")
	if dur == nil {
		t.Fatal("duration metric not found")
	}
	if got := histogramCount(t, dur); got != 3 {
		t.Errorf("duration samples = %d, want 3", got)
	}

	errs := findMetric(rm, "heychef.provider.errors")
	if errs == nil {
		t.Fatal("error metric not found")
	}
	if got := sumByAttr(t, errs, "provider", "openai"); got != 1 {
		t.Errorf("openai errors = %d, want 1", got)
	}
	if got := sumByAttr(t, errs, "kind", "tts"); got != 1 {
		t.Errorf("tts errors = %d, want 1", got)
	}
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, OutcomeAnswered)
	m.RecordTurn(ctx, OutcomeAnswered)
	m.RecordTurn(ctx, OutcomeNoSpeech)
	m.RecordFallback(ctx, StageGenerate)
	m.RecordRetry(ctx, StageTranscribe)
	m.RecordBreakerTransition(ctx, "llm-openai", "open")
	m.PlaybackSkipped.Add(ctx, 2)

	rm := collect(t, reader)
	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"heychef.turns", "outcome", OutcomeAnswered, 2},
		{"heychef.turns", "outcome", OutcomeNoSpeech, 1},
		{"heychef.fallbacks", "stage", StageGenerate, 1},
		{"heychef.retries", "stage", StageTranscribe, 1},
		{"heychef.breaker.transitions", "state", "open", 1},
	}
	for _, tc := range tests {
		t.Run(tc.metric+"/"+tc.value, func(t *testing.T) {
			met := findMetric(rm, tc.metric)
			if met == nil {
				t.Fatal("metric not found")
			}
			if got := sumByAttr(t, met, tc.key, tc.value); got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}

	skipped := findMetric(rm, "heychef.playback.skipped")
	if skipped == nil {
		t.Fatal("playback.skipped not found")
	}
	sum := skipped.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 2 {
		t.Errorf("playback.skipped = %+v, want single point of 2", sum.DataPoints)
	}
}

func TestActiveSessions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	met := findMetric(collect(t, reader), "heychef.sessions.active")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not an int64 sum")
	}
	if sum.IsMonotonic {
		t.Error("active sessions must not be monotonic")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("value = %d, want 1", got)
	}
}

func TestRecordTimeToFirstAudio(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTimeToFirstAudio(ctx, 800*time.Millisecond, true)
	m.RecordTimeToFirstAudio(ctx, 2*time.Second, false)

	met := findMetric(collect(t, reader), "heychef.time_to_first_audio")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 2 {
		t.Errorf("data points = %d, want 2 (one per streaming value)", len(hist.DataPoints))
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	met := findMetric(collect(t, reader), "heychef.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got := histogramCount(t, met); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
