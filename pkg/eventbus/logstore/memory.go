package logstore

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
)

// MemoryWriter is an in-memory log store for tests and ephemeral hosts.
// Data is lost when the process exits.
type MemoryWriter struct {
	mu        sync.RWMutex
	unsent    map[string]storedEntry
	sent      map[string]storedEntry
	closed    bool
	compactor *Compactor
}

var _ Writer = (*MemoryWriter)(nil)

// storedEntry holds the serialized form so reads never alias the
// producer's payload.
type storedEntry struct {
	ts   int64
	data []byte
}

// NewMemoryWriter creates an empty in-memory log store.
func NewMemoryWriter(opts ...Option) *MemoryWriter {
	w := &MemoryWriter{
		unsent: make(map[string]storedEntry),
		sent:   make(map[string]storedEntry),
	}
	w.compactor = StartCompactor(w.FlushSentMessages, ResolveOptions(opts...))
	return w
}

// PutMessage implements Writer.
func (w *MemoryWriter) PutMessage(_ context.Context, msg *message.Message) error {
	key := msg.Key()
	data, err := msg.MarshalJSON()
	if err != nil {
		return &WriteError{Op: "put", Key: key, Err: err}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return &WriteError{Op: "put", Key: key, Err: ErrStoreClosed}
	}

	if _, ok := w.sent[key]; ok {
		return nil
	}
	if _, ok := w.unsent[key]; ok {
		return nil
	}
	w.unsent[key] = storedEntry{ts: msg.Timestamp().UnixMilli(), data: data}
	return nil
}

// ConfirmMessageSent implements Writer.
func (w *MemoryWriter) ConfirmMessageSent(_ context.Context, key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return &WriteError{Op: "confirm", Key: key, Err: ErrStoreClosed}
	}

	entry, ok := w.unsent[key]
	if !ok {
		return nil
	}
	delete(w.unsent, key)
	w.sent[key] = entry
	return nil
}

// Messages implements Writer.
func (w *MemoryWriter) Messages(_ context.Context) ([]*message.Message, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return nil, ErrStoreClosed
	}

	all := make(map[string]storedEntry, len(w.unsent)+len(w.sent))
	maps.Copy(all, w.unsent)
	maps.Copy(all, w.sent)
	return decodeSorted(all)
}

// MessagesSent implements Writer.
func (w *MemoryWriter) MessagesSent(_ context.Context) ([]*message.Message, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return nil, ErrStoreClosed
	}
	return decodeSorted(w.sent)
}

// MessagesUnsent implements Writer.
func (w *MemoryWriter) MessagesUnsent(_ context.Context) ([]*message.Message, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return nil, ErrStoreClosed
	}
	return decodeSorted(w.unsent)
}

// RecoverUnsentMessages implements Writer.
func (w *MemoryWriter) RecoverUnsentMessages(_ context.Context) ([]string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return nil, ErrStoreClosed
	}
	return slices.Sorted(maps.Keys(w.unsent)), nil
}

// FlushSentMessages implements Writer.
func (w *MemoryWriter) FlushSentMessages(_ context.Context, ageLimit time.Duration) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrStoreClosed
	}

	cutoff := Cutoff(time.Now(), ageLimit)
	removed := 0
	for key, entry := range w.sent {
		if entry.ts < cutoff {
			delete(w.sent, key)
			removed++
		}
	}
	return removed, nil
}

// Close implements Writer.
func (w *MemoryWriter) Close() error {
	w.compactor.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	w.unsent = nil
	w.sent = nil
	return nil
}

// Len returns the number of entries in a partition.
// Useful for testing.
func (w *MemoryWriter) Len(p Partition) int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if p == PartitionSent {
		return len(w.sent)
	}
	return len(w.unsent)
}

func decodeSorted(entries map[string]storedEntry) ([]*message.Message, error) {
	msgs := make([]*message.Message, 0, len(entries))
	for _, key := range slices.Sorted(maps.Keys(entries)) {
		msg, err := DecodeEntry(key, entries[key].data)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
