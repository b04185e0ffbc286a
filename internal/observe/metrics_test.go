package observe

import (
	"context"
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

// sumValue returns the data point of a counter matching every attribute in
// want, or fails the test.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string, want ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		match := true
		for _, kv := range want {
			v, ok := dp.Attributes.Value(kv.Key)
			if !ok || v != kv.Value {
				match = false
				break
			}
		}
		if match {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %v", name, want)
	return 0
}

func histogramCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is not a histogram", name)
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

func TestRecordAPIRequest(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAPIRequest(ctx, "create", "201", 1.5)
	m.RecordAPIRequest(ctx, "create", "201", 0.5)
	m.RecordAPIRequest(ctx, "list", "200", 0.1)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "moments.api.requests", attribute.String("operation", "create"), attribute.String("status", "201")); got != 2 {
		t.Errorf("create requests = %d, want 2", got)
	}
	if got := histogramCount(t, rm, "moments.api.request.duration"); got != 3 {
		t.Errorf("duration samples = %d, want 3", got)
	}
}

func TestRecordAPIError(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAPIError(ctx, "get", "status")
	m.RecordAPIError(ctx, "get", "status")
	m.RecordAPIError(ctx, "create", "transport")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "moments.api.errors", attribute.String("operation", "get"), attribute.String("kind", "status")); got != 2 {
		t.Errorf("get/status errors = %d, want 2", got)
	}
	if got := sumValue(t, rm, "moments.api.errors", attribute.String("kind", "transport")); got != 1 {
		t.Errorf("transport errors = %d, want 1", got)
	}
}

func TestRecordUpload(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordUpload(ctx, OutcomeSaved, 3)
	m.RecordUpload(ctx, OutcomeFailed, 4)
	m.RecordUpload(ctx, OutcomeSaved, 2)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "moments.uploads", Attr("outcome", OutcomeSaved)); got != 2 {
		t.Errorf("saved uploads = %d, want 2", got)
	}
	if got := sumValue(t, rm, "moments.uploads", Attr("outcome", OutcomeFailed)); got != 1 {
		t.Errorf("failed uploads = %d, want 1", got)
	}
	if got := histogramCount(t, rm, "moments.upload.duration"); got != 3 {
		t.Errorf("upload duration samples = %d, want 3", got)
	}
}

func TestRecordingLifecycle(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRecordingStarted(ctx)
	m.RecordRecordingEnded(ctx, 42)
	m.RecordRecordingStarted(ctx)
	m.RecordingsDiscarded.Add(ctx, 1)
	m.CapturedBytes.Add(ctx, 4096)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "moments.recordings.started"); got != 2 {
		t.Errorf("started = %d, want 2", got)
	}
	if got := sumValue(t, rm, "moments.active_recordings"); got != 1 {
		t.Errorf("active = %d, want 1", got)
	}
	if got := sumValue(t, rm, "moments.recordings.discarded"); got != 1 {
		t.Errorf("discarded = %d, want 1", got)
	}
	if got := sumValue(t, rm, "moments.capture.bytes"); got != 4096 {
		t.Errorf("captured bytes = %d, want 4096", got)
	}
	if got := histogramCount(t, rm, "moments.recording.length"); got != 1 {
		t.Errorf("length samples = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("route", "GET /healthz"),
		),
	)

	rm := collect(t, reader)
	if got := histogramCount(t, rm, "moments.http.request.duration"); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
