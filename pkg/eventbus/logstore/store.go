// Package logstore provides the durable log behind the event bus.
//
// Every published message is appended to the unsent partition before any
// forwarder sees it. Confirmation moves the entry to the sent partition in
// one atomic step, so after a crash the unsent partition holds exactly the
// messages that still need delivery. Sent entries are kept for a short
// retention window and then removed by a background sweep.
package logstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
)

// Writer persists messages for crash recovery.
// Implementations must be safe for concurrent use.
type Writer interface {
	// PutMessage appends msg to the unsent partition under msg.Key().
	// Writing a key that is already present is a no-op.
	PutMessage(ctx context.Context, msg *message.Message) error

	// ConfirmMessageSent atomically moves key from unsent to sent.
	// Returns nil if key is not in unsent (already confirmed or unknown).
	ConfirmMessageSent(ctx context.Context, key string) error

	// Messages returns the entries of both partitions in key order.
	Messages(ctx context.Context) ([]*message.Message, error)

	// MessagesSent returns the sent partition in key order.
	MessagesSent(ctx context.Context) ([]*message.Message, error)

	// MessagesUnsent returns the unsent partition in key order.
	MessagesUnsent(ctx context.Context) ([]*message.Message, error)

	// RecoverUnsentMessages returns the keys currently in unsent, in order.
	RecoverUnsentMessages(ctx context.Context) ([]string, error)

	// FlushSentMessages deletes sent entries whose key timestamp is older
	// than ageLimit and returns how many were removed.
	FlushSentMessages(ctx context.Context, ageLimit time.Duration) (int, error)

	// Close stops background retention and releases the storage handle.
	// Close is idempotent.
	Close() error
}

// Partition names the two logical namespaces of a log store.
type Partition string

// Partitions.
const (
	PartitionUnsent Partition = "unsent"
	PartitionSent   Partition = "sent"
)

// Sentinel errors for log store operations.
var (
	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("log store closed")

	// ErrCorruptEntry indicates a stored value could not be decoded.
	ErrCorruptEntry = errors.New("corrupt log entry")
)

// WriteError is returned when appending or confirming fails at the storage
// layer. A publish that fails with WriteError was not durably recorded.
type WriteError struct {
	Op  string // "put" or "confirm"
	Key string
	Err error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("log store %s %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *WriteError) Unwrap() error {
	return e.Err
}

// CompactionError is reported when a retention sweep fails. It is logged
// and never returned to publishers.
type CompactionError struct {
	Err error
}

// Error implements the error interface.
func (e *CompactionError) Error() string {
	return fmt.Sprintf("compact sent partition: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *CompactionError) Unwrap() error {
	return e.Err
}

// DecodeEntry turns a stored value back into a message.
func DecodeEntry(key string, data []byte) (*message.Message, error) {
	msg, err := message.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: key %s: %v", ErrCorruptEntry, key, err)
	}
	return msg, nil
}

// Cutoff returns the key-timestamp threshold in epoch millis below which
// sent entries are eligible for removal.
func Cutoff(now time.Time, ageLimit time.Duration) int64 {
	return now.Add(-ageLimit).UnixMilli()
}
