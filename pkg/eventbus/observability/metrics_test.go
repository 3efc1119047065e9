package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest installs a manual-reader meter provider for the test.
func setupMetricsTest(t *testing.T) *sdkmetric.ManualReader {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	original := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	t.Cleanup(func() {
		otel.SetMeterProvider(original)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	})
	return reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumOf totals every datapoint of an int64 counter.
func sumOf(t *testing.T, rm *metricdata.ResourceMetrics, name string) int64 {
	m := findMetric(rm, name)
	require.NotNil(t, m, "metric %s not found", name)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "Expected Sum type")

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewMetricsRecorder(t *testing.T) {
	setupMetricsTest(t)

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)

	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop, "Expected real metrics recorder, got noop")
}

func TestRecordPublish(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordPublish(ctx, "n8n.core.a", 5*time.Millisecond, nil)
	m.RecordPublish(ctx, "n8n.core.a", 7*time.Millisecond, errors.New("disk full"))

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumOf(t, rm, "eventbus.publish.count"))
	assert.Equal(t, int64(1), sumOf(t, rm, "eventbus.publish.errors"))

	latency := findMetric(rm, "eventbus.publish.latency_ms")
	require.NotNil(t, latency)
	hist, ok := latency.Data.(metricdata.Histogram[float64])
	require.True(t, ok, "Expected Histogram type")
	require.NotEmpty(t, hist.DataPoints)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
}

func TestRecordConfirmAndReplay(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordConfirm(ctx, "n8n.core.a")
	m.RecordConfirm(ctx, "n8n.core.b")
	m.RecordReplay(ctx, 3)

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumOf(t, rm, "eventbus.confirm.count"))
	assert.Equal(t, int64(3), sumOf(t, rm, "eventbus.replay.count"))
}

func TestRecordDispatch(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newOtelMetrics()
	require.NoError(t, err)

	m.RecordDispatch(context.Background(), 3, 1)

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "eventbus.broker.deliveries")
	require.NotNil(t, metric)
	sum, ok := metric.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	byMatch := map[bool]int64{}
	for _, dp := range sum.DataPoints {
		v, found := dp.Attributes.Value("matched")
		require.True(t, found)
		byMatch[v.AsBool()] += dp.Value
	}
	assert.Equal(t, int64(1), byMatch[true])
	assert.Equal(t, int64(2), byMatch[false])
}

func TestRecordCompaction(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordCompaction(ctx, 5, nil)
	m.RecordCompaction(ctx, 0, errors.New("locked"))

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(5), sumOf(t, rm, "eventbus.compaction.removed"))
	assert.Equal(t, int64(1), sumOf(t, rm, "eventbus.compaction.errors"))
}
