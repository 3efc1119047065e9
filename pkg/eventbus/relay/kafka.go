package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	buserrors "github.com/randalmurphal/eventbus/pkg/eventbus/errors"
	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
)

// KafkaConfig configures a KafkaForwarder.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Validate reports missing fields.
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka brokers are required")
	}
	if c.Topic == "" {
		return errors.New("kafka topic is required")
	}
	return nil
}

// KafkaProducer is the part of *kgo.Client a KafkaForwarder uses.
type KafkaProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaForwarder produces each message as one record keyed by the message
// key, so replays of the same message land on the same partition.
type KafkaForwarder struct {
	client KafkaProducer
	topic  string
	opts   options
}

// NewKafkaForwarder creates a client for cfg. Every in-sync replica must
// acknowledge a record before it counts as accepted.
func NewKafkaForwarder(cfg KafkaConfig, opts ...Option) (*KafkaForwarder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("new kafka client: %w", err)
	}
	return NewKafkaForwarderWithClient(cl, cfg.Topic, opts...), nil
}

// NewKafkaForwarderWithClient produces through an existing client. Close
// closes it.
func NewKafkaForwarderWithClient(client KafkaProducer, topic string, opts ...Option) *KafkaForwarder {
	return &KafkaForwarder{client: client, topic: topic, opts: resolve(opts)}
}

// Name identifies the forwarder in logs and spans.
func (f *KafkaForwarder) Name() string { return "kafka" }

// Record builds the Kafka record for msg.
func (f *KafkaForwarder) Record(msg *message.Message) (*kgo.Record, error) {
	data, err := msg.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic:     f.topic,
		Key:       []byte(msg.Key()),
		Value:     data,
		Timestamp: msg.Timestamp(),
		Headers: []kgo.RecordHeader{
			{Key: "event-name", Value: []byte(msg.Name())},
			{Key: "event-level", Value: []byte(msg.Level())},
			{Key: "event-severity", Value: []byte(msg.Severity())},
		},
	}, nil
}

// Forward produces msg and waits for the acknowledgement.
func (f *KafkaForwarder) Forward(ctx context.Context, msg *message.Message) (bool, error) {
	rec, err := f.Record(msg)
	if err != nil {
		return false, fmt.Errorf("kafka relay: %w", err)
	}
	return deliver(ctx, f.opts, "kafka", msg, func(ctx context.Context) error {
		return classifyKafka(f.client.ProduceSync(ctx, rec).FirstErr())
	})
}

// Close closes the client.
func (f *KafkaForwarder) Close() error {
	f.client.Close()
	return nil
}

func classifyKafka(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, kgo.ErrClientClosed):
		return buserrors.Permanent(err, "kafka produce")
	case errors.Is(err, kgo.ErrRecordTimeout), kerr.IsRetriable(err):
		return buserrors.Transient(err, "kafka produce")
	}
	var kafkaErr *kerr.Error
	if errors.As(err, &kafkaErr) {
		return buserrors.Permanent(err, "kafka produce")
	}
	return err
}
