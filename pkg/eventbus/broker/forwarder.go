package broker

import (
	"context"

	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
)

// Forwarder feeds a bus into a local broker.
//
// Forward reports accepted when at least one live receiver was
// considered, whether or not it matched the message. A message that
// matches nobody is therefore confirmed as soon as any receiver is
// running. Callers that need match-based confirmation should inspect
// DispatchResult.Sent via the broker directly.
type Forwarder struct {
	broker *Broker
}

// NewForwarder creates a forwarder over b.
func NewForwarder(b *Broker) *Forwarder {
	return &Forwarder{broker: b}
}

// Name identifies the forwarder in logs and spans.
func (f *Forwarder) Name() string { return "broker" }

// Forward dispatches msg. Delivery failures are returned alongside the
// accepted flag; they do not withdraw acceptance.
func (f *Forwarder) Forward(ctx context.Context, msg *message.Message) (bool, error) {
	res, err := f.broker.AddMessage(ctx, msg)
	return res.Processed > 0, err
}

// AddReceiver registers a receiver on the underlying broker.
func (f *Forwarder) AddReceiver(ctx context.Context, r *Receiver, sets ...message.SubscriptionSet) error {
	return f.broker.AddReceiver(ctx, r, sets...)
}

// AddSubscription merges sets into an existing receiver's subscriptions.
func (f *Forwarder) AddSubscription(name string, sets ...message.SubscriptionSet) error {
	return f.broker.AddSubscriptionSets(name, sets...)
}

// Broker returns the underlying broker.
func (f *Forwarder) Broker() *Broker { return f.broker }
