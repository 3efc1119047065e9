// Package archive exports the event log as JSONL and ships it to
// destinations such as S3.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus/logstore"
	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
)

// Record types.
const (
	TypeHeader = "header"
	TypeSent   = "sent"
	TypeUnsent = "unsent"
)

// Source is anything that can list both partitions of the log. *eventbus.Bus
// satisfies it; wrap a bare writer with WriterSource.
type Source interface {
	EventsSent(ctx context.Context) ([]*message.Message, error)
	EventsUnsent(ctx context.Context) ([]*message.Message, error)
}

// WriterSource adapts a logstore.Writer to Source.
func WriterSource(w logstore.Writer) Source {
	return writerSource{w}
}

type writerSource struct {
	w logstore.Writer
}

func (s writerSource) EventsSent(ctx context.Context) ([]*message.Message, error) {
	return s.w.MessagesSent(ctx)
}

func (s writerSource) EventsUnsent(ctx context.Context) ([]*message.Message, error) {
	return s.w.MessagesUnsent(ctx)
}

// Header is the first line of an export.
type Header struct {
	Version     string    `json:"version"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	SentCount   int       `json:"sent_count"`
	UnsentCount int       `json:"unsent_count"`
}

// Record is one message line. Type names the partition it was read from.
type Record struct {
	Type string          `json:"type"`
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data"`
}

// ExportJSONL writes both partitions of src to w: a header line, then one
// record per message in key order.
func ExportJSONL(ctx context.Context, src Source, w io.Writer) error {
	sent, err := src.EventsSent(ctx)
	if err != nil {
		return fmt.Errorf("list sent: %w", err)
	}
	unsent, err := src.EventsUnsent(ctx)
	if err != nil {
		return fmt.Errorf("list unsent: %w", err)
	}

	records := make([]Record, 0, len(sent)+len(unsent))
	add := func(typ string, msgs []*message.Message) error {
		for _, msg := range msgs {
			data, err := msg.MarshalJSON()
			if err != nil {
				return fmt.Errorf("encode %s: %w", msg.ID(), err)
			}
			records = append(records, Record{Type: typ, Key: msg.Key(), Data: data})
		}
		return nil
	}
	if err := add(TypeSent, sent); err != nil {
		return err
	}
	if err := add(TypeUnsent, unsent); err != nil {
		return err
	}
	slices.SortStableFunc(records, func(a, b Record) int {
		return strings.Compare(a.Key, b.Key)
	})

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(Header{
		Version:     "1",
		Type:        TypeHeader,
		Timestamp:   time.Now().UTC(),
		SentCount:   len(sent),
		UnsentCount: len(unsent),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode record %s: %w", r.Key, err)
		}
	}
	return nil
}
