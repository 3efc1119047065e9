// Package relay forwards bus messages to external brokers.
//
// Each forwarder satisfies eventbus.Forwarder. It reports accepted once
// the remote transport acknowledged the publish: a NATS flush round trip,
// a Kafka produce acknowledgement, or an AMQP publisher confirm. The body
// is the message's serialized JSON, so any consumer can rebuild it with
// message.Decode.
//
// Transient transport failures are retried with jittered exponential
// backoff before the forwarder gives up. A forwarder that gives up reports
// not accepted, and the message stays in the unsent partition until the
// next replay.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	buserrors "github.com/randalmurphal/eventbus/pkg/eventbus/errors"
	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
	"github.com/randalmurphal/eventbus/pkg/eventbus/observability"
)

// Option configures a relay forwarder.
type Option func(*options)

type options struct {
	retry  buserrors.RetryConfig
	logger *slog.Logger
}

func resolve(opts []Option) options {
	o := options{
		retry:  buserrors.DefaultRetry,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithRetry sets the retry policy (default: errors.DefaultRetry).
func WithRetry(cfg buserrors.RetryConfig) Option {
	return func(o *options) {
		o.retry = cfg
	}
}

// WithLogger sets the logger used for retry attempts.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// deliver runs publish until it succeeds or the retry policy gives up.
func deliver(ctx context.Context, o options, relay string, msg *message.Message, publish func(context.Context) error) (bool, error) {
	cfg := o.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
			observability.EnrichLogger(o.logger, msg).Debug("relay publish failed, retrying",
				slog.String("relay", relay),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)
		}
	}

	res := buserrors.WithRetryContext(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, publish(ctx)
	})
	if res.Err != nil {
		return false, fmt.Errorf("%s relay: %w", relay, res.Err)
	}
	return true, nil
}
