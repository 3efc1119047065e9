package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus/logstore"
	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
	"github.com/randalmurphal/eventbus/pkg/eventbus/observability"
)

// Setup is the configuration applied by Initialize.
type Setup struct {
	// Writers persist every message, in order. The bus owns them and
	// closes them on Close.
	Writers []logstore.Writer

	// Forwarders are offered every persisted message, in order.
	Forwarders []Forwarder
}

// Query selects a partition for Events.
type Query struct {
	// Unsent selects messages not yet confirmed. Otherwise the sent
	// partition is returned.
	Unsent bool
}

// Bus sequences persist, forward and confirm for every published message.
// Create one with New and configure it with Initialize.
type Bus struct {
	mu         sync.RWMutex
	writers    []logstore.Writer
	forwarders []Forwarder
	closed     bool
	recovery   *RecoveryWarning

	inflight sync.WaitGroup
	pending  atomic.Int64

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// New creates a bus with no writers or forwarders.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Initialize replaces the writers and forwarders, publishes the startup
// event, then replays every message left in the unsent partition by an
// earlier run, oldest first. The startup event itself is not replayed.
//
// Writers dropped by the new setup are closed.
func (b *Bus) Initialize(ctx context.Context, setup Setup) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	var dropped []logstore.Writer
	for _, w := range b.writers {
		if !slices.Contains(setup.Writers, w) {
			dropped = append(dropped, w)
		}
	}
	b.writers = slices.Clone(setup.Writers)
	b.forwarders = slices.Clone(setup.Forwarders)
	b.recovery = nil
	b.mu.Unlock()

	for _, w := range dropped {
		if err := w.Close(); err != nil {
			b.logger.Warn("close replaced writer", slog.String("error", err.Error()))
		}
	}

	startup := message.New(message.NameBusInitialized, message.WithLevel(message.LevelDebug))
	if err := b.Publish(ctx, startup); err != nil {
		return fmt.Errorf("publish startup event: %w", err)
	}

	return b.replay(ctx, startup.ID())
}

// replay re-forwards the unsent backlog, skipping skipID.
func (b *Bus) replay(ctx context.Context, skipID string) error {
	writers, forwarders, err := b.snapshot()
	if err != nil {
		return err
	}

	backlog := make(map[string]bool)
	for _, w := range writers {
		keys, err := w.RecoverUnsentMessages(ctx)
		if err != nil {
			return fmt.Errorf("recover unsent: %w", err)
		}
		for _, k := range keys {
			backlog[k] = true
		}
	}

	unsent, err := b.EventsUnsent(ctx)
	if err != nil {
		return fmt.Errorf("recover unsent: %w", err)
	}
	var pending []*message.Message
	for _, msg := range unsent {
		if msg.ID() != skipID && backlog[msg.Key()] {
			pending = append(pending, msg)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	warning := &RecoveryWarning{Count: len(pending)}
	for _, msg := range pending {
		warning.Keys = append(warning.Keys, msg.Key())
	}
	b.mu.Lock()
	b.recovery = warning
	b.mu.Unlock()
	observability.LogRecovery(b.logger, warning.Count)

	replayed := 0
	for _, msg := range pending {
		if err := ctx.Err(); err != nil {
			b.metrics.RecordReplay(ctx, replayed)
			return err
		}
		if err := b.forwardAndConfirm(ctx, msg, writers, forwarders); err != nil {
			b.metrics.RecordReplay(ctx, replayed)
			return err
		}
		replayed++
	}
	b.metrics.RecordReplay(ctx, replayed)
	return nil
}

// Recovery returns the unsent backlog replayed by the last Initialize, or
// nil if there was none.
func (b *Bus) Recovery() *RecoveryWarning {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.recovery
}

// snapshot returns the current writers and forwarders.
func (b *Bus) snapshot() ([]logstore.Writer, []Forwarder, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, nil, ErrBusClosed
	}
	return b.writers, b.forwarders, nil
}

// Publish persists msg to every writer, offers it to every forwarder and
// confirms it if any forwarder accepted.
//
// A writer failure is returned as a *logstore.WriteError, a closed store
// included, and the message is neither forwarded nor confirmed; the
// producer may retry. Forwarder errors are logged and never returned.
func (b *Bus) Publish(ctx context.Context, msg *message.Message) (err error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	writers, forwarders := b.writers, b.forwarders
	b.inflight.Add(1)
	b.pending.Add(1)
	b.mu.RUnlock()
	defer func() {
		b.pending.Add(-1)
		b.inflight.Done()
	}()

	start := time.Now()
	ctx, span := b.spans.StartPublishSpan(ctx, msg)
	defer func() {
		b.spans.EndSpanWithError(span, err)
		b.metrics.RecordPublish(ctx, msg.Name(), time.Since(start), err)
	}()

	for _, w := range writers {
		if err := w.PutMessage(ctx, msg); err != nil {
			return err
		}
	}
	observability.LogPublish(b.logger, msg)
	b.spans.AddSpanEvent(ctx, "persisted")

	return b.forwardAndConfirm(ctx, msg, writers, forwarders)
}

// forwardAndConfirm offers msg to every forwarder and confirms it on
// acceptance.
func (b *Bus) forwardAndConfirm(ctx context.Context, msg *message.Message, writers []logstore.Writer, forwarders []Forwarder) error {
	accepted := false
	for _, f := range forwarders {
		ok, err := b.forward(ctx, f, msg)
		if err != nil {
			observability.LogForwardError(b.logger, msg, forwarderName(f), err)
		}
		accepted = accepted || ok
	}
	if !accepted {
		return nil
	}
	return b.confirm(ctx, msg, writers)
}

func (b *Bus) forward(ctx context.Context, f Forwarder, msg *message.Message) (bool, error) {
	ctx, span := b.spans.StartForwardSpan(ctx, forwarderName(f))
	ok, err := f.Forward(ctx, msg)
	b.spans.EndSpanWithError(span, err)
	return ok, err
}

// Confirm moves msg from unsent to sent in every writer. Confirming an
// already confirmed message is a no-op.
func (b *Bus) Confirm(ctx context.Context, msg *message.Message) error {
	writers, _, err := b.snapshot()
	if err != nil {
		return err
	}
	return b.confirm(ctx, msg, writers)
}

func (b *Bus) confirm(ctx context.Context, msg *message.Message, writers []logstore.Writer) error {
	for _, w := range writers {
		if err := w.ConfirmMessageSent(ctx, msg.Key()); err != nil {
			return err
		}
	}
	observability.LogConfirm(b.logger, msg)
	b.metrics.RecordConfirm(ctx, msg.Name())
	return nil
}

// Events returns the messages of one partition. With several writers the
// result is the union by message id, in key order.
func (b *Bus) Events(ctx context.Context, q Query) ([]*message.Message, error) {
	writers, _, err := b.snapshot()
	if err != nil {
		return nil, err
	}

	list := func(w logstore.Writer) ([]*message.Message, error) {
		if q.Unsent {
			return w.MessagesUnsent(ctx)
		}
		return w.MessagesSent(ctx)
	}

	switch len(writers) {
	case 0:
		return nil, nil
	case 1:
		return list(writers[0])
	}

	seen := make(map[string]bool)
	var union []*message.Message
	for _, w := range writers {
		msgs, err := list(w)
		if err != nil {
			return nil, err
		}
		for _, msg := range msgs {
			if seen[msg.ID()] {
				continue
			}
			seen[msg.ID()] = true
			union = append(union, msg)
		}
	}
	slices.SortFunc(union, func(a, b *message.Message) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return union, nil
}

// EventsSent returns confirmed messages still within retention.
func (b *Bus) EventsSent(ctx context.Context) ([]*message.Message, error) {
	return b.Events(ctx, Query{})
}

// EventsUnsent returns persisted messages no forwarder has accepted yet.
func (b *Bus) EventsUnsent(ctx context.Context) ([]*message.Message, error) {
	return b.Events(ctx, Query{Unsent: true})
}

// Close stops accepting publishes, waits for in-flight publishes until ctx
// is done, and closes every writer. Publishes still running when ctx ends
// are logged; Close does not fail because of them. Close is idempotent.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	writers := b.writers
	b.writers, b.forwarders = nil, nil
	b.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		b.logger.Error("closing event bus with publishes in flight",
			slog.Int64("count", b.pending.Load()),
		)
	}

	var errs []error
	for _, w := range writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
