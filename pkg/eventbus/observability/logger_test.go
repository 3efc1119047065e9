package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHandler captures log records for testing.
type testHandler struct {
	buf   *bytes.Buffer
	level slog.Level
	attrs []slog.Attr
}

func newTestHandler() *testHandler {
	return &testHandler{
		buf:   &bytes.Buffer{},
		level: slog.LevelDebug,
	}
}

func (h *testHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *testHandler) Handle(_ context.Context, r slog.Record) error {
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	for _, attr := range h.attrs {
		data[attr.Key] = attr.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})
	return json.NewEncoder(h.buf).Encode(data)
}

func (h *testHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newH := &testHandler{
		buf:   h.buf,
		level: h.level,
		attrs: make([]slog.Attr, len(h.attrs)+len(attrs)),
	}
	copy(newH.attrs, h.attrs)
	copy(newH.attrs[len(h.attrs):], attrs)
	return newH
}

func (h *testHandler) WithGroup(_ string) slog.Handler {
	return h
}

func (h *testHandler) records() []map[string]any {
	var records []map[string]any
	for _, line := range bytes.Split(h.buf.Bytes(), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err == nil {
			records = append(records, m)
		}
	}
	return records
}

func (h *testHandler) last() map[string]any {
	records := h.records()
	if len(records) == 0 {
		return nil
	}
	return records[len(records)-1]
}

func testMessage() *message.Message {
	return message.New("n8n.workflow.workflowStarted",
		message.WithID("evt-1"),
		message.WithTimestamp(time.UnixMilli(1700000000000)),
	)
}

func TestEnrichLogger(t *testing.T) {
	t.Run("adds event_id, event_name, and key", func(t *testing.T) {
		h := newTestHandler()
		enriched := EnrichLogger(slog.New(h), testMessage())
		enriched.Info("test message")

		record := h.last()
		require.NotNil(t, record)
		assert.Equal(t, "evt-1", record["event_id"])
		assert.Equal(t, "n8n.workflow.workflowStarted", record["event_name"])
		assert.Equal(t, "1700000000000-evt-1", record["key"])
		assert.Equal(t, "test message", record["msg"])
	})

	t.Run("nil logger returns nil", func(t *testing.T) {
		assert.Nil(t, EnrichLogger(nil, testMessage()))
	})
}

func TestLogHelpers(t *testing.T) {
	msg := testMessage()

	tests := []struct {
		name    string
		log     func(*slog.Logger)
		level   string
		message string
		attrs   map[string]any
	}{
		{
			name:    "publish",
			log:     func(l *slog.Logger) { LogPublish(l, msg) },
			level:   "DEBUG",
			message: "event published",
			attrs:   map[string]any{"event_id": "evt-1"},
		},
		{
			name:    "confirm",
			log:     func(l *slog.Logger) { LogConfirm(l, msg) },
			level:   "DEBUG",
			message: "event confirmed",
			attrs:   map[string]any{"key": msg.Key()},
		},
		{
			name:    "forward error",
			log:     func(l *slog.Logger) { LogForwardError(l, msg, "broker", errors.New("boom")) },
			level:   "WARN",
			message: "forward failed",
			attrs:   map[string]any{"forwarder": "broker", "error": "boom"},
		},
		{
			name:    "recovery",
			log:     func(l *slog.Logger) { LogRecovery(l, 3) },
			level:   "WARN",
			message: "unsent events found at startup, replaying",
			attrs:   map[string]any{"count": float64(3)},
		},
		{
			name:    "dispatch",
			log:     func(l *slog.Logger) { LogDispatch(l, msg, 2, 1) },
			level:   "DEBUG",
			message: "event dispatched",
			attrs:   map[string]any{"processed": float64(2), "sent": float64(1)},
		},
		{
			name:    "compaction failure",
			log:     func(l *slog.Logger) { LogCompaction(l, 0, errors.New("disk")) },
			level:   "WARN",
			message: "compaction failed",
			attrs:   map[string]any{"error": "disk"},
		},
		{
			name:    "compaction removed",
			log:     func(l *slog.Logger) { LogCompaction(l, 4, nil) },
			level:   "DEBUG",
			message: "compaction removed sent events",
			attrs:   map[string]any{"count": float64(4)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler()
			tt.log(slog.New(h))

			record := h.last()
			require.NotNil(t, record)
			assert.Equal(t, tt.level, record["level"])
			assert.Equal(t, tt.message, record["msg"])
			for k, v := range tt.attrs {
				assert.Equal(t, v, record[k], k)
			}
		})
	}
}

func TestLogHelpers_Quiet(t *testing.T) {
	h := newTestHandler()
	logger := slog.New(h)

	LogRecovery(logger, 0)
	LogCompaction(logger, 0, nil)

	assert.Empty(t, h.records())
}

func TestLogHelpers_NilLogger(t *testing.T) {
	msg := testMessage()
	assert.NotPanics(t, func() {
		LogPublish(nil, msg)
		LogConfirm(nil, msg)
		LogForwardError(nil, msg, "x", errors.New("e"))
		LogRecovery(nil, 1)
		LogDispatch(nil, msg, 1, 1)
		LogCompaction(nil, 1, errors.New("e"))
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(10 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), float64(10))
}
