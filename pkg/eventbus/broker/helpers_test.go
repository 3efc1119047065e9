package broker_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus/broker"
	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder is a Worker that reports every delivered event name.
type recorder struct {
	events chan string

	mu      sync.Mutex
	configs map[string]any
}

func newRecorder() *recorder {
	return &recorder{events: make(chan string, 64), configs: make(map[string]any)}
}

func (r *recorder) Receive(_ context.Context, data []byte) error {
	msg, err := message.Decode(data)
	if err != nil {
		return err
	}
	r.events <- msg.Name()
	return nil
}

func (r *recorder) Configure(_ context.Context, key string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[key] = value
	return nil
}

func (r *recorder) entry() broker.EntryPoint {
	return func() broker.Worker { return r }
}

// next waits for one delivery.
func (r *recorder) next(t *testing.T) string {
	t.Helper()
	select {
	case name := <-r.events:
		return name
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
		return ""
	}
}

// none asserts nothing is delivered for a short while.
func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case name := <-r.events:
		t.Fatalf("unexpected delivery of %s", name)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitDone(t *testing.T, r *broker.Receiver) {
	t.Helper()
	done := r.Done()
	require.NotNil(t, done)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker goroutine did not exit")
	}
}

// blocker is a Worker whose Receive ignores ctx and blocks until released.
type blocker struct {
	started chan struct{}
	release chan struct{}
	first   sync.Once
	freed   sync.Once
}

func newBlocker() *blocker {
	return &blocker{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blocker) Receive(context.Context, []byte) error {
	b.first.Do(func() { close(b.started) })
	<-b.release
	return nil
}

func (b *blocker) Configure(context.Context, string, any) error { return nil }

func (b *blocker) entry() broker.EntryPoint {
	return func() broker.Worker { return b }
}

func (b *blocker) unblock() {
	b.freed.Do(func() { close(b.release) })
}

// waitStarted waits until the worker is inside Receive.
func (b *blocker) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-b.started:
	case <-time.After(time.Second):
		t.Fatal("worker never started receiving")
	}
}

// within runs fn and fails the test if it does not return promptly.
func within(t *testing.T, fn func() error) error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- fn() }()
	select {
	case err := <-errc:
		return err
	case <-time.After(time.Second):
		t.Fatal("call did not return")
		return nil
	}
}
