package logstore

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus/observability"
)

// Retention defaults.
const (
	DefaultCompactionInterval = 5 * time.Second
	DefaultRetention          = 10 * time.Second
)

// Option configures a writer.
type Option func(*Options)

// Options is the resolved writer configuration. Writers outside this
// package obtain it through ResolveOptions.
type Options struct {
	Logger             *slog.Logger
	Metrics            observability.MetricsRecorder
	CompactionInterval time.Duration
	Retention          time.Duration
}

// ResolveOptions applies opts over the defaults.
func ResolveOptions(opts ...Option) Options {
	o := Options{
		Logger:             slog.Default(),
		Metrics:            observability.NoopMetrics{},
		CompactionInterval: DefaultCompactionInterval,
		Retention:          DefaultRetention,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger used for retention reports.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *Options) {
		if m != nil {
			o.Metrics = m
		}
	}
}

// WithCompaction sets how often sent entries are swept and how long they
// are kept. A non-positive interval disables the background sweep.
func WithCompaction(interval, keepFor time.Duration) Option {
	return func(o *Options) {
		o.CompactionInterval = interval
		o.Retention = keepFor
	}
}

// WithoutCompaction disables the background sweep. FlushSentMessages can
// still be called directly.
func WithoutCompaction() Option {
	return WithCompaction(0, 0)
}
