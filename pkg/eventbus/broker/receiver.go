package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// State is a receiver's lifecycle stage.
type State int

// Receiver states.
const (
	StateUnspawned State = iota
	StateRunning
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnspawned:
		return "unspawned"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// DefaultMailboxSize is the number of messages a receiver buffers before
// Send blocks.
const DefaultMailboxSize = 256

// generation ids are short and only need to be unique per process.
const (
	generationAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	generationLength   = 8
)

// LaunchHook runs after a worker is spawned and before the receiver is
// considered ready. It typically sends Configure calls.
type LaunchHook func(ctx context.Context, r *Receiver) error

// envelope is one mailbox item: a delivery, or a control call when reply
// is set.
type envelope struct {
	data  []byte
	key   string
	value any
	reply chan error
}

// spawn is the per-generation state of one worker.
type spawn struct {
	generation string
	cancel     context.CancelFunc
	mailbox    chan envelope
	// closed is closed once the receiver stops accepting messages.
	closed chan struct{}
	// drain asks the loop to finish the queued messages and exit.
	drain chan struct{}
	// killed is closed by a hard termination.
	killed <-chan struct{}
	done   chan struct{}
}

// Receiver owns one worker: it spawns it, feeds it, and tears it down.
type Receiver struct {
	name        string
	entry       EntryPoint
	hook        LaunchHook
	mailboxSize int
	logger      *slog.Logger

	// sendMu is held shared while a message is being enqueued so Stop can
	// wait out in-flight sends before draining.
	sendMu sync.RWMutex

	mu    sync.Mutex
	state State
	cur   *spawn
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// WithLaunchHook sets a hook run after each spawn.
func WithLaunchHook(h LaunchHook) ReceiverOption {
	return func(r *Receiver) {
		r.hook = h
	}
}

// WithMailboxSize sets the mailbox capacity (default: DefaultMailboxSize).
func WithMailboxSize(n int) ReceiverOption {
	return func(r *Receiver) {
		if n > 0 {
			r.mailboxSize = n
		}
	}
}

// WithReceiverLogger sets the logger for worker failures.
func WithReceiverLogger(logger *slog.Logger) ReceiverOption {
	return func(r *Receiver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReceiver creates an unspawned receiver.
func NewReceiver(name string, entry EntryPoint, opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		name:        name,
		entry:       entry,
		mailboxSize: DefaultMailboxSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the receiver's registration key.
func (r *Receiver) Name() string { return r.name }

// State returns the current lifecycle stage.
func (r *Receiver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Generation returns the id of the current (or last) spawn, or "" if the
// receiver was never spawned.
func (r *Receiver) Generation() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return ""
	}
	return r.cur.generation
}

// Live reports whether the receiver has a running worker.
func (r *Receiver) Live() bool {
	return r.State() == StateRunning
}

// Done returns a channel closed when the current worker goroutine exits,
// or nil if the receiver was never spawned.
func (r *Receiver) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return nil
	}
	return r.cur.done
}

// Launch spawns a fresh worker. A running worker is terminated first.
// On failure the receiver is left without a live worker and a
// *SpawnError is returned.
func (r *Receiver) Launch(ctx context.Context) error {
	r.Terminate()

	worker, err := r.build()
	if err != nil {
		return &SpawnError{Receiver: r.name, Err: err}
	}

	generation, err := nanoid.Generate(generationAlphabet, generationLength)
	if err != nil {
		return &SpawnError{Receiver: r.name, Err: err}
	}
	generation = "wk-" + generation

	loopCtx, cancel := context.WithCancel(context.Background())
	sp := &spawn{
		generation: generation,
		cancel:     cancel,
		mailbox:    make(chan envelope, r.mailboxSize),
		closed:     make(chan struct{}),
		drain:      make(chan struct{}),
		killed:     loopCtx.Done(),
		done:       make(chan struct{}),
	}

	r.mu.Lock()
	r.state = StateRunning
	r.cur = sp
	r.mu.Unlock()

	go r.loop(loopCtx, worker, sp)

	r.logger.Debug("receiver spawned",
		slog.String("receiver", r.name),
		slog.String("worker_id", generation),
	)

	if r.hook != nil {
		if err := r.hook(ctx, r); err != nil {
			r.Terminate()
			return &SpawnError{Receiver: r.name, Err: fmt.Errorf("launch hook: %w", err)}
		}
	}
	return nil
}

// build calls the entry point, turning a panic or nil worker into an error.
func (r *Receiver) build() (w Worker, err error) {
	if r.entry == nil {
		return nil, errors.New("no entry point")
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("entry point panicked: %v", p)
		}
	}()
	if w = r.entry(); w == nil {
		return nil, errors.New("entry point returned nil worker")
	}
	return w, nil
}

func (r *Receiver) loop(ctx context.Context, w Worker, sp *spawn) {
	defer close(sp.done)
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("worker panicked",
				slog.String("receiver", r.name),
				slog.String("worker_id", sp.generation),
				slog.Any("panic", p),
			)
			r.terminateGeneration(sp.generation)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sp.drain:
			// No sender can enqueue once drain is closed, so an empty
			// mailbox means the backlog is done.
			for {
				select {
				case env := <-sp.mailbox:
					if ctx.Err() != nil {
						return
					}
					r.dispatch(ctx, w, sp.generation, env)
				default:
					return
				}
			}
		case env := <-sp.mailbox:
			if ctx.Err() != nil {
				return
			}
			r.dispatch(ctx, w, sp.generation, env)
		}
	}
}

func (r *Receiver) dispatch(ctx context.Context, w Worker, generation string, env envelope) {
	if env.reply != nil {
		env.reply <- w.Configure(ctx, env.key, env.value)
		return
	}
	if err := w.Receive(ctx, env.data); err != nil {
		r.logger.Warn("worker receive failed",
			slog.String("receiver", r.name),
			slog.String("worker_id", generation),
			slog.String("error", err.Error()),
		)
	}
}

// Terminate stops the worker immediately. Queued messages are dropped and
// senders blocked on a full mailbox are released with ErrWorkerTerminated.
// Terminating a receiver that is not running is a no-op.
func (r *Receiver) Terminate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminateLocked()
}

// Stop shuts the worker down gracefully: new sends are refused, messages
// already queued are delivered, and Stop waits for the worker to exit.
// If ctx ends first the worker is terminated and ctx's error is returned.
// Stopping a receiver that is not running is a no-op.
func (r *Receiver) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return nil
	}
	sp := r.cur
	r.state = StateTerminated
	close(sp.closed)
	r.mu.Unlock()

	// Wait for senders that saw the receiver running.
	r.sendMu.Lock()
	r.sendMu.Unlock() //nolint:staticcheck // empty critical section
	close(sp.drain)

	select {
	case <-sp.done:
		sp.cancel()
		r.logger.Debug("receiver stopped",
			slog.String("receiver", r.name),
			slog.String("worker_id", sp.generation),
		)
		return nil
	case <-ctx.Done():
		sp.cancel()
		r.logger.Warn("receiver stop timed out, queued messages dropped",
			slog.String("receiver", r.name),
			slog.String("worker_id", sp.generation),
			slog.Int("queued", len(sp.mailbox)),
		)
		return ctx.Err()
	}
}

func (r *Receiver) terminateGeneration(generation string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != nil && r.cur.generation == generation {
		r.terminateLocked()
	}
}

func (r *Receiver) terminateLocked() {
	if r.cur == nil {
		return
	}
	// A receiver being stopped is already Terminated but may still be
	// draining, so cancel regardless of state.
	r.cur.cancel()
	if r.state != StateRunning {
		return
	}
	r.state = StateTerminated
	close(r.cur.closed)
}

// handle returns the live spawn.
func (r *Receiver) handle() (*spawn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning {
		return nil, ErrWorkerTerminated
	}
	return r.cur, nil
}

// enqueue puts env in the live mailbox. It fails with ErrWorkerTerminated
// once the receiver is terminated or stopped, even while blocked on a full
// mailbox.
func (r *Receiver) enqueue(ctx context.Context, env envelope) (*spawn, error) {
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()

	sp, err := r.handle()
	if err != nil {
		return nil, err
	}
	select {
	case <-sp.closed:
		return nil, ErrWorkerTerminated
	default:
	}
	select {
	case sp.mailbox <- env:
		return sp, nil
	case <-sp.closed:
		return nil, ErrWorkerTerminated
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send queues data for the worker without waiting for it to be processed.
// It blocks only while the mailbox is full.
func (r *Receiver) Send(ctx context.Context, data []byte) error {
	_, err := r.enqueue(ctx, envelope{data: data})
	return err
}

// Configure sends a control message and waits for the worker's answer.
// Control messages are ordered with deliveries.
func (r *Receiver) Configure(ctx context.Context, key string, value any) error {
	reply := make(chan error, 1)
	sp, err := r.enqueue(ctx, envelope{key: key, value: value, reply: reply})
	if err != nil {
		return err
	}

	select {
	case err := <-reply:
		return err
	case <-sp.done:
	case <-sp.killed:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	default:
		return ErrWorkerTerminated
	}
}
