package eventbus

import (
	"log/slog"

	"github.com/randalmurphal/eventbus/pkg/eventbus/observability"
)

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder. Default: observability.NoopMetrics.
//
// Example:
//
//	bus := eventbus.New(eventbus.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(b *Bus) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithTracing enables OpenTelemetry spans for publish and forward.
// The global tracer provider is used.
func WithTracing() Option {
	return func(b *Bus) {
		b.spans = observability.NewSpanManager()
	}
}

// WithSpanManager sets a custom span manager.
func WithSpanManager(sm observability.SpanManager) Option {
	return func(b *Bus) {
		if sm != nil {
			b.spans = sm
		}
	}
}
