package broker

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// EntryPoints is a thread-safe table of worker entry points indexed by
// kind, used by hosts that build receivers from configuration.
type EntryPoints struct {
	mu      sync.RWMutex
	entries map[string]EntryPoint
}

// NewEntryPoints creates an empty table.
func NewEntryPoints() *EntryPoints {
	return &EntryPoints{
		entries: make(map[string]EntryPoint),
	}
}

// Register adds an entry point. Kinds are unique.
func (e *EntryPoints) Register(kind string, ep EntryPoint) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.entries[kind]; ok {
		return fmt.Errorf("%w: %s", ErrEntryPointExists, kind)
	}
	e.entries[kind] = ep
	return nil
}

// MustRegister is Register that panics on a duplicate kind.
func (e *EntryPoints) MustRegister(kind string, ep EntryPoint) {
	if err := e.Register(kind, ep); err != nil {
		panic(err)
	}
}

// Get returns the entry point for kind and whether it exists.
func (e *EntryPoints) Get(kind string) (EntryPoint, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ep, ok := e.entries[kind]
	return ep, ok
}

// Kinds returns the registered kinds, sorted.
func (e *EntryPoints) Kinds() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Sorted(maps.Keys(e.entries))
}

// NewReceiver builds a receiver of the given kind.
func (e *EntryPoints) NewReceiver(name, kind string, opts ...ReceiverOption) (*Receiver, error) {
	ep, ok := e.Get(kind)
	if !ok {
		return nil, fmt.Errorf("unknown receiver kind %q (have %v)", kind, e.Kinds())
	}
	return NewReceiver(name, ep, opts...), nil
}
