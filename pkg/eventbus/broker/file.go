package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File worker control keys.
const (
	ControlSetFileName = "setFileName"
	ControlPause       = "pause"
	ControlStart       = "start"
)

// DefaultLogFile is used by NewFileReceiver when no path is given.
const DefaultLogFile = "event_log.txt"

// FileWorker appends one JSON line per event to a file. It starts paused
// and without a file; both must be configured before anything is written.
// Only the owning receiver goroutine touches its fields.
type FileWorker struct {
	path   string
	paused bool
}

// NewFileWorker creates a paused worker with no output file.
func NewFileWorker() *FileWorker {
	return &FileWorker{paused: true}
}

// Receive implements Worker. Events arriving while paused are dropped.
func (w *FileWorker) Receive(_ context.Context, data []byte) error {
	if w.paused {
		return nil
	}
	if w.path == "" {
		return errors.New("no file name configured")
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	line := make([]byte, 0, len(data)+1)
	line = append(append(line, data...), '\n')
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("append event log: %w", err)
	}
	return f.Close()
}

// Configure implements Worker.
func (w *FileWorker) Configure(_ context.Context, key string, value any) error {
	switch key {
	case ControlSetFileName:
		path, ok := value.(string)
		if !ok || path == "" {
			return fmt.Errorf("%s: want non-empty string, got %T", key, value)
		}
		w.path = path
	case ControlPause:
		w.paused = true
	case ControlStart:
		w.paused = false
	default:
		return fmt.Errorf("%w: %s", ErrUnknownControl, key)
	}
	return nil
}

// NewFileReceiver creates a receiver that, on every spawn, points its
// worker at path and starts it. A bare file name is placed in dir.
func NewFileReceiver(name, dir, path string, opts ...ReceiverOption) *Receiver {
	if path == "" {
		path = DefaultLogFile
	}
	if filepath.Dir(path) == "." && dir != "" {
		path = filepath.Join(dir, path)
	}

	opts = append([]ReceiverOption{WithLaunchHook(FileLaunchHook(path))}, opts...)
	return NewReceiver(name, func() Worker { return NewFileWorker() }, opts...)
}

// FileLaunchHook sets the output path and starts the worker.
func FileLaunchHook(path string) LaunchHook {
	return func(ctx context.Context, r *Receiver) error {
		if err := r.Configure(ctx, ControlSetFileName, path); err != nil {
			return err
		}
		return r.Configure(ctx, ControlStart, nil)
	}
}

// DefaultEntryPoints registers the console and file workers. Console
// output goes to console, or stdout if nil.
func DefaultEntryPoints(console io.Writer) *EntryPoints {
	if console == nil {
		console = os.Stdout
	}
	e := NewEntryPoints()
	e.MustRegister(KindConsole, func() Worker { return NewConsoleWorker(console) })
	e.MustRegister(KindFile, func() Worker { return NewFileWorker() })
	return e
}
