package relay_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
	"github.com/randalmurphal/eventbus/pkg/eventbus/relay"
)

// fakeProducer returns errs in order, then succeeds.
type fakeProducer struct {
	mu      sync.Mutex
	errs    []error
	records []*kgo.Record
	closed  bool
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if len(p.errs) > 0 {
		err, p.errs = p.errs[0], p.errs[1:]
	}
	var results kgo.ProduceResults
	for _, r := range rs {
		p.records = append(p.records, r)
		results = append(results, kgo.ProduceResult{Record: r, Err: err})
	}
	return results
}

func (p *fakeProducer) Close() { p.closed = true }

func TestKafkaForwarder_Record(t *testing.T) {
	f := relay.NewKafkaForwarderWithClient(&fakeProducer{}, "events")
	msg := message.New("n8n.workflow.workflowStarted", message.WithLevel(message.LevelDebug))

	rec, err := f.Record(msg)
	require.NoError(t, err)
	assert.Equal(t, "events", rec.Topic)
	assert.Equal(t, msg.Key(), string(rec.Key))
	assert.True(t, msg.Timestamp().Equal(rec.Timestamp))
	assert.Equal(t, []kgo.RecordHeader{
		{Key: "event-name", Value: []byte("n8n.workflow.workflowStarted")},
		{Key: "event-level", Value: []byte("debug")},
		{Key: "event-severity", Value: []byte("normal")},
	}, rec.Headers)

	decoded, err := message.Decode(rec.Value)
	require.NoError(t, err)
	assert.Equal(t, msg.ID(), decoded.ID())
}

func TestKafkaForwarder_Forward(t *testing.T) {
	tests := []struct {
		name         string
		errs         []error
		wantAccepted bool
		wantCalls    int
	}{
		{"success", nil, true, 1},
		{"retriable then success", []error{kerr.NotLeaderForPartition}, true, 2},
		{"record timeout then success", []error{kgo.ErrRecordTimeout}, true, 2},
		{"retries exhausted", []error{kerr.NotLeaderForPartition, kerr.NotLeaderForPartition, kerr.NotLeaderForPartition}, false, 3},
		{"permanent kafka error", []error{kerr.MessageTooLarge}, false, 1},
		{"client closed", []error{kgo.ErrClientClosed}, false, 1},
		{"unknown error", []error{errors.New("boom")}, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProducer{errs: tt.errs}
			f := relay.NewKafkaForwarderWithClient(p, "events",
				relay.WithRetry(fastRetry), relay.WithLogger(discardLogger()))

			accepted, err := f.Forward(context.Background(), message.New("n8n.core.x"))
			assert.Equal(t, tt.wantAccepted, accepted)
			if tt.wantAccepted {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
			assert.Len(t, p.records, tt.wantCalls)
		})
	}
}

func TestKafkaForwarder_Close(t *testing.T) {
	p := &fakeProducer{}
	f := relay.NewKafkaForwarderWithClient(p, "events")
	require.NoError(t, f.Close())
	assert.True(t, p.closed)
	assert.Equal(t, "kafka", f.Name())
}

func TestKafkaConfig_Validate(t *testing.T) {
	assert.ErrorContains(t, relay.KafkaConfig{Topic: "t"}.Validate(), "brokers")
	assert.ErrorContains(t, relay.KafkaConfig{Brokers: []string{"b:9092"}}.Validate(), "topic")

	// The client connects lazily, so construction needs no broker.
	f, err := relay.NewKafkaForwarder(relay.KafkaConfig{
		Brokers:  []string{"127.0.0.1:1"},
		Topic:    "events",
		ClientID: "eventbus-test",
	})
	require.NoError(t, err)
	require.NoError(t, f.Close())
}
