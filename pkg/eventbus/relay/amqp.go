package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rabbitmq/amqp091-go"

	buserrors "github.com/randalmurphal/eventbus/pkg/eventbus/errors"
	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
)

// ErrNacked indicates the AMQP broker refused a confirmed publish.
var ErrNacked = errors.New("amqp publish nacked")

// AMQPConfig configures an AMQPForwarder.
type AMQPConfig struct {
	URL      string
	Exchange string // topic exchange, declared durable; default "eventbus"
}

// Validate reports missing fields.
func (c AMQPConfig) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("amqp url is required")
	}
	return nil
}

// AMQPChannel is the part of *amqp091.Channel an AMQPForwarder uses.
type AMQPChannel interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) (*amqp091.DeferredConfirmation, error)
	Close() error
}

// AMQPForwarder publishes each message to a topic exchange with the event
// name as routing key, so queues can bind to n8n.workflow.# and similar.
type AMQPForwarder struct {
	conn     *amqp091.Connection
	ch       AMQPChannel
	exchange string
	opts     options
}

// NewAMQPForwarder dials cfg.URL, declares the exchange and puts the
// channel in confirm mode.
func NewAMQPForwarder(cfg AMQPConfig, opts ...Option) (*AMQPForwarder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "eventbus"
	}

	conn, err := amqp091.DialConfig(cfg.URL, amqp091.Config{})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	f := NewAMQPForwarderWithChannel(ch, cfg.Exchange, opts...)
	f.conn = conn
	return f, nil
}

// NewAMQPForwarderWithChannel publishes on an existing channel. If the
// channel is not in confirm mode a publish counts as accepted once written.
func NewAMQPForwarderWithChannel(ch AMQPChannel, exchange string, opts ...Option) *AMQPForwarder {
	return &AMQPForwarder{ch: ch, exchange: exchange, opts: resolve(opts)}
}

// Name identifies the forwarder in logs and spans.
func (f *AMQPForwarder) Name() string { return "amqp" }

// Publishing builds the AMQP message for msg.
func (f *AMQPForwarder) Publishing(msg *message.Message) (amqp091.Publishing, error) {
	data, err := msg.MarshalJSON()
	if err != nil {
		return amqp091.Publishing{}, err
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    msg.ID(),
		Timestamp:    msg.Timestamp(),
		Type:         msg.Name(),
		Headers: amqp091.Table{
			"event-level":    string(msg.Level()),
			"event-severity": string(msg.Severity()),
		},
		Body: data,
	}, nil
}

// Forward publishes msg and waits for the broker's confirm.
func (f *AMQPForwarder) Forward(ctx context.Context, msg *message.Message) (bool, error) {
	pub, err := f.Publishing(msg)
	if err != nil {
		return false, fmt.Errorf("amqp relay: %w", err)
	}
	return deliver(ctx, f.opts, "amqp", msg, func(ctx context.Context) error {
		conf, err := f.ch.PublishWithDeferredConfirmWithContext(ctx, f.exchange, msg.Name(), false, false, pub)
		if err != nil {
			return classifyAMQP(err)
		}
		if conf == nil {
			return nil
		}
		acked, err := conf.WaitContext(ctx)
		if err != nil {
			return err
		}
		if !acked {
			return buserrors.Transient(ErrNacked, "amqp publish")
		}
		return nil
	})
}

// Close closes the channel, and the connection if the forwarder dialed it.
func (f *AMQPForwarder) Close() error {
	var errs []error
	if err := f.ch.Close(); err != nil {
		errs = append(errs, err)
	}
	if f.conn != nil {
		if err := f.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func classifyAMQP(err error) error {
	var amqpErr *amqp091.Error
	if errors.As(err, &amqpErr) {
		if amqpErr.Recover {
			return buserrors.Transient(err, "amqp publish")
		}
		return buserrors.Permanent(err, "amqp publish")
	}
	return err
}
