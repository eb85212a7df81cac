package observe

import (
	"context"
	"errors"
	"testing"

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

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"voxcal.stage.duration", m.StageDuration},
		{"voxcal.recording.duration", m.RecordingDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordStageAttachesStageAttribute(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStage(ctx, "Transcribed", 1.5)
	m.RecordStage(ctx, "Transcribed", 2.5)
	m.RecordStage(ctx, "Parsed", 0.3)

	rm := collect(t, reader)
	met := findMetric(rm, "voxcal.stage.duration")
	if met == nil {
		t.Fatal("metric voxcal.stage.duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("voxcal.stage.duration is not a histogram")
	}
	if len(hist.DataPoints) != 2 {
		t.Fatalf("expected 2 attribute sets, got %d", len(hist.DataPoints))
	}
	counts := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		stage, _ := dp.Attributes.Value(attribute.Key("stage"))
		counts[stage.AsString()] = dp.Count
	}
	if counts["Transcribed"] != 2 || counts["Parsed"] != 1 {
		t.Errorf("unexpected per-stage counts: %v", counts)
	}
}

func TestRecordProviderCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderCall(ctx, "transcriber", nil)
	m.RecordProviderCall(ctx, "transcriber", nil)
	m.RecordProviderCall(ctx, "transcriber", errors.New("boom"))
	// A cancellation is the caller's doing and must not count as a
	// provider error.
	m.RecordProviderCall(ctx, "transcriber", context.Canceled)

	rm := collect(t, reader)
	met := findMetric(rm, "voxcal.provider.requests")
	if met == nil {
		t.Fatal("metric voxcal.provider.requests not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("voxcal.provider.requests is not a sum")
	}
	byStatus := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		byStatus[status.AsString()] += dp.Value
	}
	if byStatus["ok"] != 3 || byStatus["error"] != 1 {
		t.Errorf("unexpected request counts by status: %v", byStatus)
	}

	errMet := findMetric(rm, "voxcal.provider.errors")
	if errMet == nil {
		t.Fatal("metric voxcal.provider.errors not found")
	}
	errSum, ok := errMet.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("voxcal.provider.errors is not a sum")
	}
	if len(errSum.DataPoints) != 1 || errSum.DataPoints[0].Value != 1 {
		t.Fatalf("unexpected error data points: %+v", errSum.DataPoints)
	}
	if kind, _ := errSum.DataPoints[0].Attributes.Value(attribute.Key("kind")); kind.AsString() != "transcriber" {
		t.Errorf("error kind = %q, want transcriber", kind.AsString())
	}
}

func TestRecordingsCounterByStatus(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.Recordings.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "done")))
	m.Recordings.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "done")))
	m.Recordings.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "failed")))

	rm := collect(t, reader)
	met := findMetric(rm, "voxcal.recordings")
	if met == nil {
		t.Fatal("metric voxcal.recordings not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("voxcal.recordings is not a sum")
	}
	values := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		values[status.AsString()] = dp.Value
	}
	if values["done"] != 2 || values["failed"] != 1 {
		t.Errorf("unexpected recording counts: %v", values)
	}
}

func TestActiveRecordingsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveRecordings.Add(ctx, 4)
	m.ActiveRecordings.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "voxcal.active_recordings")
	if met == nil {
		t.Fatal("metric voxcal.active_recordings not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("voxcal.active_recordings is not a sum")
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 3 {
		t.Errorf("unexpected gauge value: %+v", sum.DataPoints)
	}
}

func TestDefaultMetricsIsSingleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics must return the same instance")
	}
}
