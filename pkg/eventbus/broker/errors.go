package broker

import (
	"errors"
	"fmt"
)

// Sentinel errors for broker operations.
var (
	// ErrReceiverNotFound indicates no receiver is registered under a name.
	ErrReceiverNotFound = errors.New("receiver not found")

	// ErrWorkerTerminated indicates the receiver has no running worker.
	ErrWorkerTerminated = errors.New("worker terminated")

	// ErrUnknownControl indicates a worker does not understand a
	// Configure key.
	ErrUnknownControl = errors.New("unknown control key")

	// ErrEntryPointExists indicates an entry point name is already taken.
	ErrEntryPointExists = errors.New("entry point already registered")
)

// SpawnError is returned when a receiver's worker fails to start. The
// registration is kept but has no live handle, so dispatch skips it.
type SpawnError struct {
	Receiver string
	Err      error
}

// Error implements the error interface.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn receiver %s: %v", e.Receiver, e.Err)
}

// Unwrap returns the underlying error.
func (e *SpawnError) Unwrap() error {
	return e.Err
}

// DispatchError reports that delivery to one receiver failed. Other
// receivers are unaffected.
type DispatchError struct {
	Receiver string
	EventID  string
	Err      error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s to %s: %v", e.EventID, e.Receiver, e.Err)
}

// Unwrap returns the underlying error.
func (e *DispatchError) Unwrap() error {
	return e.Err
}
