package eventbus

import (
	"context"
	"fmt"

	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
)

// Forwarder delivers a persisted message somewhere.
//
// accepted reports that at least one subscriber was present to receive
// the message; the bus confirms the message when any forwarder accepts.
// err describes delivery failures. A forwarder may return both: some
// subscribers received the message and others failed.
type Forwarder interface {
	Forward(ctx context.Context, msg *message.Message) (accepted bool, err error)
}

// ForwarderFunc adapts a function to Forwarder.
type ForwarderFunc func(ctx context.Context, msg *message.Message) (bool, error)

// Forward implements Forwarder.
func (f ForwarderFunc) Forward(ctx context.Context, msg *message.Message) (bool, error) {
	return f(ctx, msg)
}

// forwarderName returns f's Name() if it has one, otherwise its type.
func forwarderName(f Forwarder) string {
	if n, ok := f.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", f)
}
