package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records event bus metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublish records a publish with its duration and error status.
	RecordPublish(ctx context.Context, eventName string, duration time.Duration, err error)

	// RecordConfirm records a message moved to the sent partition.
	RecordConfirm(ctx context.Context, eventName string)

	// RecordDispatch records a broker fan-out.
	RecordDispatch(ctx context.Context, processed, sent int)

	// RecordReplay records unsent messages replayed at startup.
	RecordReplay(ctx context.Context, count int)

	// RecordCompaction records a retention sweep.
	RecordCompaction(ctx context.Context, removed int, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	publishes        metric.Int64Counter
	publishLatency   metric.Float64Histogram
	publishErrors    metric.Int64Counter
	confirms         metric.Int64Counter
	deliveries       metric.Int64Counter
	replayed         metric.Int64Counter
	compacted        metric.Int64Counter
	compactionErrors metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("eventbus")

	publishes, err := meter.Int64Counter("eventbus.publish.count",
		metric.WithDescription("Number of published events"),
	)
	if err != nil {
		return nil, err
	}

	publishLatency, err := meter.Float64Histogram("eventbus.publish.latency_ms",
		metric.WithDescription("Publish latency (persist, forward, confirm) in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	publishErrors, err := meter.Int64Counter("eventbus.publish.errors",
		metric.WithDescription("Number of publishes that failed to persist"),
	)
	if err != nil {
		return nil, err
	}

	confirms, err := meter.Int64Counter("eventbus.confirm.count",
		metric.WithDescription("Number of events moved to the sent partition"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("eventbus.broker.deliveries",
		metric.WithDescription("Number of receiver deliveries"),
	)
	if err != nil {
		return nil, err
	}

	replayed, err := meter.Int64Counter("eventbus.replay.count",
		metric.WithDescription("Number of unsent events replayed at startup"),
	)
	if err != nil {
		return nil, err
	}

	compacted, err := meter.Int64Counter("eventbus.compaction.removed",
		metric.WithDescription("Number of sent events removed by retention"),
	)
	if err != nil {
		return nil, err
	}

	compactionErrors, err := meter.Int64Counter("eventbus.compaction.errors",
		metric.WithDescription("Number of failed retention sweeps"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		publishes:        publishes,
		publishLatency:   publishLatency,
		publishErrors:    publishErrors,
		confirms:         confirms,
		deliveries:       deliveries,
		replayed:         replayed,
		compacted:        compacted,
		compactionErrors: compactionErrors,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordPublish records a publish.
func (m *otelMetrics) RecordPublish(ctx context.Context, eventName string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("event_name", eventName))

	m.publishes.Add(ctx, 1, attrs)
	m.publishLatency.Record(ctx, float64(duration.Milliseconds()), attrs)

	if err != nil {
		m.publishErrors.Add(ctx, 1, attrs)
	}
}

// RecordConfirm records a confirmation.
func (m *otelMetrics) RecordConfirm(ctx context.Context, eventName string) {
	m.confirms.Add(ctx, 1, metric.WithAttributes(attribute.String("event_name", eventName)))
}

// RecordDispatch records a fan-out. Receivers that were considered but did
// not match are counted with matched=false.
func (m *otelMetrics) RecordDispatch(ctx context.Context, processed, sent int) {
	if sent > 0 {
		m.deliveries.Add(ctx, int64(sent), metric.WithAttributes(attribute.Bool("matched", true)))
	}
	if skipped := processed - sent; skipped > 0 {
		m.deliveries.Add(ctx, int64(skipped), metric.WithAttributes(attribute.Bool("matched", false)))
	}
}

// RecordReplay records replayed events.
func (m *otelMetrics) RecordReplay(ctx context.Context, count int) {
	m.replayed.Add(ctx, int64(count))
}

// RecordCompaction records a retention sweep.
func (m *otelMetrics) RecordCompaction(ctx context.Context, removed int, err error) {
	if err != nil {
		m.compactionErrors.Add(ctx, 1)
		return
	}
	m.compacted.Add(ctx, int64(removed))
}
