// Package observability provides structured logging, metrics, and
// distributed tracing for the event bus.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
)

// EnrichLogger adds event context to a logger.
// Returns a new logger with event_id, event_name, and key fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, msg)
//	enriched.Info("forwarding") // includes event_id, event_name, key
func EnrichLogger(logger *slog.Logger, msg *message.Message) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event_id", msg.ID()),
		slog.String("event_name", msg.Name()),
		slog.String("key", msg.Key()),
	)
}

// LogPublish logs a message entering the bus.
func LogPublish(logger *slog.Logger, msg *message.Message) {
	if logger == nil {
		return
	}
	logger.Debug("event published",
		slog.String("event_id", msg.ID()),
		slog.String("event_name", msg.Name()),
	)
}

// LogConfirm logs a message moving to the sent partition.
func LogConfirm(logger *slog.Logger, msg *message.Message) {
	if logger == nil {
		return
	}
	logger.Debug("event confirmed",
		slog.String("event_id", msg.ID()),
		slog.String("key", msg.Key()),
	)
}

// LogForwardError logs a contained forwarder failure.
func LogForwardError(logger *slog.Logger, msg *message.Message, forwarder string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("forward failed",
		slog.String("event_id", msg.ID()),
		slog.String("event_name", msg.Name()),
		slog.String("forwarder", forwarder),
		slog.String("error", err.Error()),
	)
}

// LogRecovery logs unsent entries found at startup.
func LogRecovery(logger *slog.Logger, count int) {
	if logger == nil || count == 0 {
		return
	}
	logger.Warn("unsent events found at startup, replaying",
		slog.Int("count", count),
	)
}

// LogDispatch logs a broker fan-out.
func LogDispatch(logger *slog.Logger, msg *message.Message, processed, sent int) {
	if logger == nil {
		return
	}
	logger.Debug("event dispatched",
		slog.String("event_id", msg.ID()),
		slog.String("event_name", msg.Name()),
		slog.Int("processed", processed),
		slog.Int("sent", sent),
	)
}

// LogCompaction logs a retention sweep. Failures are warnings; the sweep
// is retried on the next tick.
func LogCompaction(logger *slog.Logger, removed int, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Warn("compaction failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if removed > 0 {
		logger.Debug("compaction removed sent events",
			slog.Int("count", removed),
		)
	}
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
