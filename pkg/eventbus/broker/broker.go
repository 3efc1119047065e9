package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
	"github.com/randalmurphal/eventbus/pkg/eventbus/observability"
)

// DispatchResult reports one fan-out.
type DispatchResult struct {
	// Processed counts live receivers considered, matched or not.
	Processed int
	// Sent counts receivers the message was handed to.
	Sent int
}

// registration is one entry of the receiver table.
type registration struct {
	receiver *Receiver
	sets     []message.SubscriptionSet
}

// ReceiverInfo is a snapshot of one registration.
type ReceiverInfo struct {
	Name          string
	State         State
	Generation    string
	Subscriptions []message.SubscriptionSet
}

// Broker is an in-process fan-out router. Table mutations are exclusive
// with the dispatch read of the table. Deliveries happen after the lock is
// released, so a receiver removed mid-dispatch fails its send with
// ErrWorkerTerminated and a blocked receiver never holds up the table.
type Broker struct {
	mu      sync.RWMutex
	regs    map[string]*registration
	order   []string
	logger  *slog.Logger
	metrics observability.MetricsRecorder
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(b *Broker) {
		if m != nil {
			b.metrics = m
		}
	}
}

// New creates an empty broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		regs:    make(map[string]*registration),
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddReceiver registers r with the given subscription sets, replacing any
// receiver of the same name. The old worker is terminated before the new
// one is spawned. If spawning fails the registration is still recorded,
// without a live worker, and the *SpawnError is returned.
func (b *Broker) AddReceiver(ctx context.Context, r *Receiver, sets ...message.SubscriptionSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	name := r.Name()
	if old, ok := b.regs[name]; ok {
		old.receiver.Terminate()
	} else {
		b.order = append(b.order, name)
	}

	err := r.Launch(ctx)
	if err != nil {
		b.logger.Error("receiver failed to spawn",
			slog.String("receiver", name),
			slog.String("error", err.Error()),
		)
	}

	b.regs[name] = &registration{
		receiver: r,
		sets:     slices.Clone(sets),
	}
	return err
}

// RemoveReceiver terminates and unregisters a receiver.
func (b *Broker) RemoveReceiver(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, ok := b.regs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReceiverNotFound, name)
	}
	reg.receiver.Terminate()
	delete(b.regs, name)
	b.order = slices.DeleteFunc(b.order, func(n string) bool { return n == name })
	return nil
}

// AddSubscriptionSets merges sets into a receiver's subscriptions. A set
// whose name is already present replaces the earlier one in place.
func (b *Broker) AddSubscriptionSets(name string, sets ...message.SubscriptionSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, ok := b.regs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReceiverNotFound, name)
	}
	reg.sets = message.MergeSets(reg.sets, sets)
	return nil
}

// RemoveSubscriptionSet removes every subscription set named setName from
// every receiver and returns how many were removed.
func (b *Broker) RemoveSubscriptionSet(setName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, reg := range b.regs {
		var n int
		reg.sets, n = message.RemoveSets(reg.sets, setName)
		total += n
	}
	return total
}

// AddMessage delivers msg to every live receiver with a matching
// subscription set. Deliveries run concurrently. A failed delivery is
// reported as a *DispatchError in the joined error and does not affect
// the other receivers. A receiver whose mailbox is full blocks only its
// own delivery, until it drains, is terminated, or ctx ends.
func (b *Broker) AddMessage(ctx context.Context, msg *message.Message) (DispatchResult, error) {
	data, err := msg.MarshalJSON()
	if err != nil {
		return DispatchResult{}, fmt.Errorf("serialize %s: %w", msg.ID(), err)
	}

	result, matched := b.match(msg)

	var (
		sent  atomic.Int32
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	for _, r := range matched {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Send(ctx, data); err != nil {
				dispatchErr := &DispatchError{Receiver: r.Name(), EventID: msg.ID(), Err: err}
				b.logger.Warn("delivery failed",
					slog.String("receiver", r.Name()),
					slog.String("event_id", msg.ID()),
					slog.String("error", err.Error()),
				)
				errMu.Lock()
				errs = append(errs, dispatchErr)
				errMu.Unlock()
				return
			}
			sent.Add(1)
		}()
	}
	wg.Wait()

	result.Sent = int(sent.Load())
	observability.LogDispatch(b.logger, msg, result.Processed, result.Sent)
	b.metrics.RecordDispatch(ctx, result.Processed, result.Sent)
	return result, errors.Join(errs...)
}

// match snapshots the live receivers whose subscriptions match msg.
func (b *Broker) match(msg *message.Message) (DispatchResult, []*Receiver) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result DispatchResult
	var matched []*Receiver
	for _, name := range b.order {
		reg := b.regs[name]
		if !reg.receiver.Live() {
			continue
		}
		result.Processed++
		if message.MatchAny(reg.sets, msg) {
			matched = append(matched, reg.receiver)
		}
	}
	return result, matched
}

// TerminateReceiver stops one receiver's worker but keeps its
// registration.
func (b *Broker) TerminateReceiver(name string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	reg, ok := b.regs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReceiverNotFound, name)
	}
	reg.receiver.Terminate()
	return nil
}

// TerminateAll stops every receiver's worker immediately, dropping
// queued messages.
func (b *Broker) TerminateAll() {
	for _, r := range b.snapshot() {
		r.Terminate()
	}
}

// StopAll stops every receiver gracefully, delivering what each has
// already queued. Receivers stop concurrently. Any receiver still busy
// when ctx ends is terminated and reported in the joined error.
func (b *Broker) StopAll(ctx context.Context) error {
	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	for _, r := range b.snapshot() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Stop(ctx); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("stop %s: %w", r.Name(), err))
				errMu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// snapshot returns the registered receivers in registration order.
func (b *Broker) snapshot() []*Receiver {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Receiver, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.regs[name].receiver)
	}
	return out
}

// Receiver returns the registered receiver with the given name.
func (b *Broker) Receiver(name string) (*Receiver, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	reg, ok := b.regs[name]
	if !ok {
		return nil, false
	}
	return reg.receiver, true
}

// Receivers returns a snapshot of the table in registration order.
func (b *Broker) Receivers() []ReceiverInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	infos := make([]ReceiverInfo, 0, len(b.order))
	for _, name := range b.order {
		reg := b.regs[name]
		infos = append(infos, ReceiverInfo{
			Name:          name,
			State:         reg.receiver.State(),
			Generation:    reg.receiver.Generation(),
			Subscriptions: slices.Clone(reg.sets),
		})
	}
	return infos
}
