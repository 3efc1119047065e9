package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	buserrors "github.com/randalmurphal/eventbus/pkg/eventbus/errors"
	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
)

// DefaultFlushTimeout bounds the round trip that confirms a NATS publish.
const DefaultFlushTimeout = 2 * time.Second

// NATSConfig configures a NATSForwarder.
type NATSConfig struct {
	URL           string
	SubjectPrefix string        // default "eventbus"
	FlushTimeout  time.Duration // default DefaultFlushTimeout
}

// Validate reports missing fields.
func (c NATSConfig) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("nats url is required")
	}
	return nil
}

// NATSForwarder publishes each message to <prefix>.<event name>.
type NATSForwarder struct {
	conn         *nats.Conn
	owned        bool
	prefix       string
	flushTimeout time.Duration
	opts         options
}

// NewNATSForwarder connects to cfg.URL with automatic reconnection.
func NewNATSForwarder(cfg NATSConfig, opts ...Option) (*NATSForwarder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("eventbus-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}
	f := NewNATSForwarderWithConn(nc, cfg.SubjectPrefix, opts...)
	f.owned = true
	if cfg.FlushTimeout > 0 {
		f.flushTimeout = cfg.FlushTimeout
	}
	return f, nil
}

// NewNATSForwarderWithConn publishes on an existing connection. Close
// does not close conn.
func NewNATSForwarderWithConn(conn *nats.Conn, prefix string, opts ...Option) *NATSForwarder {
	if prefix == "" {
		prefix = "eventbus"
	}
	return &NATSForwarder{
		conn:         conn,
		prefix:       prefix,
		flushTimeout: DefaultFlushTimeout,
		opts:         resolve(opts),
	}
}

// Name identifies the forwarder in logs and spans.
func (f *NATSForwarder) Name() string { return "nats" }

// Subject returns the subject msg is published on.
func (f *NATSForwarder) Subject(msg *message.Message) string {
	return f.prefix + "." + msg.Name()
}

// Forward publishes msg and waits for the server to process it. The
// message id is sent as Nats-Msg-Id so JetStream streams deduplicate
// replays.
func (f *NATSForwarder) Forward(ctx context.Context, msg *message.Message) (bool, error) {
	data, err := msg.MarshalJSON()
	if err != nil {
		return false, fmt.Errorf("nats relay: %w", err)
	}
	m := &nats.Msg{
		Subject: f.Subject(msg),
		Data:    data,
		Header:  nats.Header{},
	}
	m.Header.Set(nats.MsgIdHdr, msg.ID())
	m.Header.Set("Event-Level", string(msg.Level()))
	m.Header.Set("Event-Severity", string(msg.Severity()))

	return deliver(ctx, f.opts, "nats", msg, func(context.Context) error {
		if err := f.conn.PublishMsg(m); err != nil {
			return classifyNATS(err)
		}
		return classifyNATS(f.conn.FlushTimeout(f.flushTimeout))
	})
}

// Close drains the connection if the forwarder opened it.
func (f *NATSForwarder) Close() error {
	if !f.owned {
		return nil
	}
	if err := f.conn.Drain(); err != nil {
		f.conn.Close()
		return err
	}
	return nil
}

func classifyNATS(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrReconnectBufExceeded):
		return buserrors.Transient(err, "nats publish")
	case errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrMaxPayload),
		errors.Is(err, nats.ErrBadSubject):
		return buserrors.Permanent(err, "nats publish")
	}
	return err
}
