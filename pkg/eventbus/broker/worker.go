package broker

import "context"

// Worker is the code a receiver runs in isolation.
//
// Receive gets the serialized message; its error is logged by the
// receiver and never reaches the publisher. Configure handles out-of-band
// control such as setting an output path or pausing delivery.
// Implementations must not block indefinitely.
type Worker interface {
	Receive(ctx context.Context, data []byte) error
	Configure(ctx context.Context, key string, value any) error
}

// EntryPoint builds a fresh worker for each spawn, so a respawned
// receiver never inherits state from its predecessor.
type EntryPoint func() Worker

// WorkerFuncs adapts plain functions to Worker. A nil ConfigureFunc
// accepts and ignores every control message.
type WorkerFuncs struct {
	ReceiveFunc   func(ctx context.Context, data []byte) error
	ConfigureFunc func(ctx context.Context, key string, value any) error
}

// Receive implements Worker.
func (w WorkerFuncs) Receive(ctx context.Context, data []byte) error {
	if w.ReceiveFunc == nil {
		return nil
	}
	return w.ReceiveFunc(ctx, data)
}

// Configure implements Worker.
func (w WorkerFuncs) Configure(ctx context.Context, key string, value any) error {
	if w.ConfigureFunc == nil {
		return nil
	}
	return w.ConfigureFunc(ctx, key, value)
}
