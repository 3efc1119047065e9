package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
)

// Receiver kinds understood by DefaultEntryPoints.
const (
	KindConsole = "console"
	KindFile    = "file"
)

// ConsoleWorker prints each event as one line.
type ConsoleWorker struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
}

// NewConsoleWorker writes to out, colouring event names when out is a
// terminal and NO_COLOR is unset.
func NewConsoleWorker(out io.Writer) *ConsoleWorker {
	return &ConsoleWorker{out: out, color: shouldUseColor(out)}
}

func shouldUseColor(out io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Receive implements Worker.
func (w *ConsoleWorker) Receive(_ context.Context, data []byte) error {
	msg, err := message.Decode(data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	name := msg.Name()
	if w.color {
		name = "\x1b[36m" + name + "\x1b[0m"
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = fmt.Fprintf(w.out, "Received Event %s || Payload: %s\n", name, payload)
	return err
}

// Configure implements Worker. The only key is "color" (bool).
func (w *ConsoleWorker) Configure(_ context.Context, key string, value any) error {
	switch key {
	case "color":
		on, ok := value.(bool)
		if !ok {
			return fmt.Errorf("color: want bool, got %T", value)
		}
		w.mu.Lock()
		w.color = on
		w.mu.Unlock()
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownControl, key)
}

// NewConsoleReceiver creates a receiver printing to out.
func NewConsoleReceiver(name string, out io.Writer, opts ...ReceiverOption) *Receiver {
	return NewReceiver(name, func() Worker { return NewConsoleWorker(out) }, opts...)
}
