package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/randalmurphal/eventbus/pkg/eventbus"
	"github.com/randalmurphal/eventbus/pkg/eventbus/broker"
	"github.com/randalmurphal/eventbus/pkg/eventbus/config"
	"github.com/randalmurphal/eventbus/pkg/eventbus/logstore"
	"github.com/randalmurphal/eventbus/pkg/eventbus/logstore/postgres"
	"github.com/randalmurphal/eventbus/pkg/eventbus/observability"
	"github.com/randalmurphal/eventbus/pkg/eventbus/relay"
)

// openWriter opens the configured log store.
func openWriter(ctx context.Context, s config.StoreSettings, logger *slog.Logger, compact bool) (logstore.Writer, error) {
	opts := []logstore.Option{logstore.WithLogger(logger)}
	if compact {
		opts = append(opts,
			logstore.WithCompaction(s.CompactionInterval, s.Retention),
			logstore.WithMetrics(observability.NewMetricsRecorder()),
		)
	} else {
		opts = append(opts, logstore.WithoutCompaction())
	}

	switch s.Driver {
	case config.DriverSQLite:
		w, err := logstore.NewSQLiteWriter(s.Path, opts...)
		if err != nil {
			return nil, err
		}
		return w, nil
	case config.DriverPostgres:
		w, err := postgres.New(ctx, s.DSN, opts...)
		if err != nil {
			return nil, err
		}
		return w, nil
	case config.DriverMemory:
		return logstore.NewMemoryWriter(opts...), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", s.Driver)
	}
}

// buildBroker registers every configured receiver. A receiver that fails
// to spawn is logged and kept registered.
func buildBroker(ctx context.Context, receivers []config.ReceiverSettings, console io.Writer, logger *slog.Logger) (*broker.Broker, error) {
	b := broker.New(
		broker.WithLogger(logger),
		broker.WithMetrics(observability.NewMetricsRecorder()),
	)

	entries := broker.DefaultEntryPoints(console)

	for _, rs := range receivers {
		var r *broker.Receiver
		ropts := []broker.ReceiverOption{broker.WithReceiverLogger(logger)}
		switch rs.Kind {
		case broker.KindFile:
			r = broker.NewFileReceiver(rs.Name, "", rs.File, ropts...)
		default:
			var err error
			if r, err = entries.NewReceiver(rs.Name, rs.Kind, ropts...); err != nil {
				b.TerminateAll()
				return nil, fmt.Errorf("receiver %s: %w", rs.Name, err)
			}
		}

		var spawnErr *broker.SpawnError
		if err := b.AddReceiver(ctx, r, rs.Subscriptions...); err != nil && !errors.As(err, &spawnErr) {
			b.TerminateAll()
			return nil, err
		}
	}
	return b, nil
}

// relayForwarder is a forwarder that holds a network connection.
type relayForwarder interface {
	eventbus.Forwarder
	Close() error
}

// buildRelays connects every relay whose address is configured.
func buildRelays(s config.RelaySettings, logger *slog.Logger) ([]relayForwarder, error) {
	var relays []relayForwarder
	fail := func(err error) ([]relayForwarder, error) {
		for _, r := range relays {
			_ = r.Close()
		}
		return nil, err
	}
	ropts := []relay.Option{relay.WithLogger(logger)}

	if s.NATSURL != "" {
		f, err := relay.NewNATSForwarder(relay.NATSConfig{URL: s.NATSURL, SubjectPrefix: s.NATSSubjectPrefix}, ropts...)
		if err != nil {
			return fail(err)
		}
		relays = append(relays, f)
	}
	if len(s.KafkaBrokers) > 0 {
		f, err := relay.NewKafkaForwarder(relay.KafkaConfig{Brokers: s.KafkaBrokers, Topic: s.KafkaTopic, ClientID: "eventbusd"}, ropts...)
		if err != nil {
			return fail(err)
		}
		relays = append(relays, f)
	}
	if s.AMQPURL != "" {
		f, err := relay.NewAMQPForwarder(relay.AMQPConfig{URL: s.AMQPURL, Exchange: s.AMQPExchange}, ropts...)
		if err != nil {
			return fail(err)
		}
		relays = append(relays, f)
	}
	return relays, nil
}

// host is a running bus with its collaborators.
type host struct {
	bus    *eventbus.Bus
	broker *broker.Broker
	relays []relayForwarder
	logger *slog.Logger
}

// startHost opens the store, builds receivers and relays and initializes
// the bus, which replays any backlog.
func startHost(ctx context.Context, s config.Settings, console io.Writer, logger *slog.Logger) (*host, error) {
	w, err := openWriter(ctx, s.Store, logger, true)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	b, err := buildBroker(ctx, s.Receivers, console, logger)
	if err != nil {
		_ = w.Close()
		return nil, err
	}

	relays, err := buildRelays(s.Relays, logger)
	if err != nil {
		b.TerminateAll()
		_ = w.Close()
		return nil, err
	}

	forwarders := []eventbus.Forwarder{broker.NewForwarder(b)}
	for _, r := range relays {
		forwarders = append(forwarders, r)
	}

	h := &host{
		bus: eventbus.New(
			eventbus.WithLogger(logger),
			eventbus.WithMetrics(observability.NewMetricsRecorder()),
			eventbus.WithTracing(),
		),
		broker: b,
		relays: relays,
		logger: logger,
	}
	if err := h.bus.Initialize(ctx, eventbus.Setup{
		Writers:    []logstore.Writer{w},
		Forwarders: forwarders,
	}); err != nil {
		_ = h.Close(ctx)
		return nil, fmt.Errorf("initialize bus: %w", err)
	}

	if rec := h.bus.Recovery(); rec != nil {
		logger.Warn("replayed unsent events from previous run", slog.Int("count", rec.Count))
	}
	return h, nil
}

// Close closes the bus and its store, lets receivers finish the events
// they already accepted, then closes the relays. Receivers still busy when
// ctx ends are terminated.
func (h *host) Close(ctx context.Context) error {
	var errs []error
	if err := h.bus.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := h.broker.StopAll(ctx); err != nil {
		h.logger.Warn("receivers did not drain before shutdown", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	for _, r := range h.relays {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
