// Package message defines the event record carried by the bus and the
// subscription filters used to route it.
//
// A Message is immutable once created, except for its Payload which the
// producer may replace before publishing. Identity (id), creation time,
// name, level and severity never change, so Key and Group are stable for
// the lifetime of the record and across serialization.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Level is the logging verbosity of an event.
type Level string

// Level constants.
const (
	LevelDebug   Level = "debug"
	LevelVerbose Level = "verbose"
	LevelInfo    Level = "info"
	LevelError   Level = "error"
)

// ParseLevel validates a level string. An empty string yields LevelInfo.
func ParseLevel(s string) (Level, error) {
	switch l := Level(s); l {
	case "":
		return LevelInfo, nil
	case LevelDebug, LevelVerbose, LevelInfo, LevelError:
		return l, nil
	}
	return "", fmt.Errorf("%w: level %q", ErrInvalidMessage, s)
}

// Severity is the business impact of an event.
type Severity string

// Severity constants.
const (
	SeverityLow     Severity = "low"
	SeverityNormal  Severity = "normal"
	SeverityHigh    Severity = "high"
	SeverityHighest Severity = "highest"
)

// ParseSeverity validates a severity string. An empty string yields
// SeverityNormal.
func ParseSeverity(s string) (Severity, error) {
	switch sv := Severity(s); sv {
	case "":
		return SeverityNormal, nil
	case SeverityLow, SeverityNormal, SeverityHigh, SeverityHighest:
		return sv, nil
	}
	return "", fmt.Errorf("%w: severity %q", ErrInvalidMessage, s)
}

// ErrInvalidMessage indicates a serialized message could not be decoded.
var ErrInvalidMessage = errors.New("invalid message")

// timestampLayout is RFC 3339 with fixed millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Message is one occurrence published on the bus.
type Message struct {
	id       string
	ts       time.Time
	name     string
	level    Level
	severity Severity

	// Payload is opaque structured data. It may be replaced before the
	// message is published, never after.
	Payload any
}

// Option configures message creation.
type Option func(*Message)

// WithLevel sets the log level (default: info).
func WithLevel(l Level) Option {
	return func(m *Message) {
		m.level = l
	}
}

// WithSeverity sets the severity (default: normal).
func WithSeverity(s Severity) Option {
	return func(m *Message) {
		m.severity = s
	}
}

// WithPayload sets the payload (default: empty object).
func WithPayload(p any) Option {
	return func(m *Message) {
		m.Payload = p
	}
}

// WithID sets a specific id (default: random UUID).
func WithID(id string) Option {
	return func(m *Message) {
		m.id = id
	}
}

// WithTimestamp sets a specific creation time (default: time.Now()).
// The value is truncated to millisecond precision. Times before the Unix
// epoch are clamped to it so storage keys keep their fixed width.
func WithTimestamp(t time.Time) Option {
	return func(m *Message) {
		m.ts = truncate(t)
	}
}

// New creates a message with the given dot-delimited name,
// e.g. "n8n.workflow.workflowStarted".
func New(name string, opts ...Option) *Message {
	m := &Message{
		id:       uuid.New().String(),
		ts:       truncate(time.Now()),
		name:     name,
		level:    LevelInfo,
		severity: SeverityNormal,
		Payload:  map[string]any{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// truncate drops the monotonic reading and anything below a millisecond,
// so a message compares equal to its decoded copy.
func truncate(t time.Time) time.Time {
	return time.UnixMilli(clampMillis(t.UnixMilli())).UTC()
}

// clampMillis keeps key timestamps non-negative.
func clampMillis(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	return ms
}

// ID returns the unique message identifier.
func (m *Message) ID() string { return m.id }

// Timestamp returns the creation time (millisecond precision, UTC).
func (m *Message) Timestamp() time.Time { return m.ts }

// Name returns the full event name.
func (m *Message) Name() string { return m.name }

// Level returns the log level.
func (m *Message) Level() Level { return m.level }

// Severity returns the severity.
func (m *Message) Severity() Severity { return m.severity }

// Group returns the first two dot-segments of the name
// ("n8n.workflow" for "n8n.workflow.workflowStarted"). Names with fewer
// than two segments have no group and return "", so a group
// subscription never matches a bare name like "n8n". This differs from
// matchers that treat a bare name as its own group.
func (m *Message) Group() string {
	first := strings.IndexByte(m.name, '.')
	if first <= 0 {
		return ""
	}
	rest := m.name[first+1:]
	if rest == "" {
		return ""
	}
	if second := strings.IndexByte(rest, '.'); second >= 0 {
		if second == 0 {
			return ""
		}
		return m.name[:first+1+second]
	}
	return m.name
}

// Key returns the storage key "<epoch millis>-<id>". Millis are zero-padded
// to 13 digits so lexicographic order equals chronological order.
func (m *Message) Key() string {
	return FormatKey(m.ts, m.id)
}

// FormatKey builds a storage key from a timestamp and id. Times before
// the Unix epoch encode as zero.
func FormatKey(ts time.Time, id string) string {
	return fmt.Sprintf("%013d-%s", clampMillis(ts.UnixMilli()), id)
}

// KeyTime extracts the creation time encoded in a storage key.
func KeyTime(key string) (time.Time, error) {
	millis, _, ok := strings.Cut(key, "-")
	if !ok {
		return time.Time{}, fmt.Errorf("%w: key %q", ErrInvalidMessage, key)
	}
	ms, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: key %q: %v", ErrInvalidMessage, key, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// String returns the serialized form.
func (m *Message) String() string {
	data, err := m.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("message %s: %v", m.id, err)
	}
	return string(data)
}

// wire is the serialized layout. Payload is embedded as a JSON string so
// stores never mistake it for a container value.
type wire struct {
	ID        string   `json:"id"`
	Timestamp string   `json:"ts"`
	EventName string   `json:"eventName"`
	Level     Level    `json:"level"`
	Severity  Severity `json:"severity"`
	Payload   string   `json:"payload"`
}

// MarshalJSON implements json.Marshaler.
func (m *Message) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload of %s: %w", m.id, err)
	}
	return json.Marshal(wire{
		ID:        m.id,
		Timestamp: m.ts.Format(timestampLayout),
		EventName: m.name,
		Level:     m.level,
		Severity:  m.severity,
		Payload:   string(payload),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if w.ID == "" || w.EventName == "" || w.Timestamp == "" {
		return fmt.Errorf("%w: id, ts and eventName are required", ErrInvalidMessage)
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: ts: %v", ErrInvalidMessage, err)
	}
	level, err := ParseLevel(string(w.Level))
	if err != nil {
		return err
	}
	severity, err := ParseSeverity(string(w.Severity))
	if err != nil {
		return err
	}

	var payload any
	if w.Payload != "" {
		if err := json.Unmarshal([]byte(w.Payload), &payload); err != nil {
			return fmt.Errorf("%w: payload: %v", ErrInvalidMessage, err)
		}
	}

	*m = Message{
		id:       w.ID,
		ts:       truncate(ts),
		name:     w.EventName,
		level:    level,
		severity: severity,
		Payload:  payload,
	}
	return nil
}

// Decode parses a serialized message.
func Decode(data []byte) (*Message, error) {
	m := &Message{}
	if err := m.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return m, nil
}
