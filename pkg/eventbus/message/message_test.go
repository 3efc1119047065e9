package message_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	msg := message.New("n8n.workflow.workflowStarted")

	assert.NotEmpty(t, msg.ID())
	assert.Equal(t, "n8n.workflow.workflowStarted", msg.Name())
	assert.Equal(t, message.LevelInfo, msg.Level())
	assert.Equal(t, message.SeverityNormal, msg.Severity())
	assert.Equal(t, map[string]any{}, msg.Payload)
	assert.WithinDuration(t, time.Now(), msg.Timestamp(), time.Second)
	assert.Equal(t, time.UTC, msg.Timestamp().Location())
}

func TestNew_Options(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	msg := message.New("n8n.core.started",
		message.WithID("fixed-id"),
		message.WithTimestamp(ts),
		message.WithLevel(message.LevelDebug),
		message.WithSeverity(message.SeverityHigh),
		message.WithPayload(map[string]any{"id": "42"}),
	)

	assert.Equal(t, "fixed-id", msg.ID())
	assert.True(t, ts.Truncate(time.Millisecond).Equal(msg.Timestamp()))
	assert.Equal(t, message.LevelDebug, msg.Level())
	assert.Equal(t, message.SeverityHigh, msg.Severity())
	assert.Equal(t, map[string]any{"id": "42"}, msg.Payload)
}

func TestNew_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		msg := message.New("n8n.core.tick")
		require.False(t, seen[msg.ID()], "duplicate id %s", msg.ID())
		require.False(t, seen[msg.Key()], "duplicate key %s", msg.Key())
		seen[msg.ID()] = true
		seen[msg.Key()] = true
	}
}

func TestGroup(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"n8n.workflow.workflowStarted", "n8n.workflow"},
		{"n8n.core.eventBusInitialized", "n8n.core"},
		{"n8n.nodes", "n8n.nodes"},
		{"n8n.nodes.a.b.c", "n8n.nodes"},
		{"single", ""},
		{"n8n", ""},
		{".leading", ""},
		{"trailing.", ""},
		{"a..b", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, message.New(tt.name).Group())
		})
	}
}

func TestKey(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	msg := message.New("n8n.core.x", message.WithID("abc"), message.WithTimestamp(ts))

	assert.Equal(t, "1700000000123-abc", msg.Key())
	assert.Equal(t, msg.Key(), msg.Key(), "key must be stable")

	parsed, err := message.KeyTime(msg.Key())
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))
}

func TestKey_ZeroPadded(t *testing.T) {
	msg := message.New("n8n.core.x", message.WithID("abc"), message.WithTimestamp(time.UnixMilli(42)))
	assert.Equal(t, "0000000000042-abc", msg.Key())
}

func TestKey_ChronologicalOrder(t *testing.T) {
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	offsets := []time.Duration{0, time.Millisecond, time.Second, time.Hour, 24 * time.Hour, 365 * 24 * time.Hour}

	var prev *message.Message
	for _, off := range offsets {
		msg := message.New("n8n.core.x", message.WithTimestamp(base.Add(off)))
		if prev != nil {
			assert.Less(t, prev.Key(), msg.Key(), "key of earlier message must sort first")
		}
		prev = msg
	}
}

func TestKey_PreEpochClamped(t *testing.T) {
	before := time.Date(1969, 7, 20, 20, 17, 0, 0, time.UTC)
	msg := message.New("n8n.core.x", message.WithID("abc"), message.WithTimestamp(before))

	assert.True(t, msg.Timestamp().Equal(time.Unix(0, 0)), msg.Timestamp())
	assert.Equal(t, "0000000000000-abc", msg.Key())
	assert.Equal(t, "0000000000000-xyz", message.FormatKey(before, "xyz"))

	parsed, err := message.KeyTime(msg.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(0), parsed.UnixMilli())

	later := message.New("n8n.core.x", message.WithTimestamp(time.UnixMilli(1)))
	assert.Less(t, msg.Key(), later.Key())
}

func TestKeyTime_Invalid(t *testing.T) {
	for _, key := range []string{"", "nodash", "abc-def"} {
		_, err := message.KeyTime(key)
		assert.ErrorIs(t, err, message.ErrInvalidMessage, key)
	}
}

func TestRoundTrip(t *testing.T) {
	payloads := []any{
		map[string]any{"id": "42"},
		map[string]any{"nested": map[string]any{"list": []any{"a", true, 1.5}}},
		[]any{"x", "y"},
		"plain string",
		nil,
	}

	for _, p := range payloads {
		orig := message.New("n8n.workflow.workflowStarted",
			message.WithLevel(message.LevelVerbose),
			message.WithSeverity(message.SeverityHighest),
			message.WithPayload(p),
		)

		data, err := json.Marshal(orig)
		require.NoError(t, err)

		decoded, err := message.Decode(data)
		require.NoError(t, err)

		assert.Equal(t, orig.ID(), decoded.ID())
		assert.Equal(t, orig.Name(), decoded.Name())
		assert.Equal(t, orig.Level(), decoded.Level())
		assert.Equal(t, orig.Severity(), decoded.Severity())
		assert.True(t, orig.Timestamp().Equal(decoded.Timestamp()))
		assert.Equal(t, orig.Key(), decoded.Key())
		assert.Equal(t, p, decoded.Payload)
	}
}

func TestMarshal_PayloadDoubleEncoded(t *testing.T) {
	msg := message.New("n8n.workflow.workflowStarted", message.WithPayload(map[string]any{"id": "42"}))

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.String()), &raw))

	assert.Equal(t, `{"id":"42"}`, raw["payload"])
	assert.Equal(t, "n8n.workflow.workflowStarted", raw["eventName"])
	assert.Equal(t, "info", raw["level"])
	assert.Equal(t, "normal", raw["severity"])
	assert.True(t, strings.HasSuffix(raw["ts"].(string), "Z"))
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{"},
		{"missing id", `{"ts":"2024-01-01T00:00:00.000Z","eventName":"a.b"}`},
		{"bad ts", `{"id":"1","ts":"yesterday","eventName":"a.b"}`},
		{"bad level", `{"id":"1","ts":"2024-01-01T00:00:00.000Z","eventName":"a.b","level":"loud"}`},
		{"bad severity", `{"id":"1","ts":"2024-01-01T00:00:00.000Z","eventName":"a.b","severity":"meh"}`},
		{"bad payload", `{"id":"1","ts":"2024-01-01T00:00:00.000Z","eventName":"a.b","payload":"{"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := message.Decode([]byte(tt.data))
			assert.ErrorIs(t, err, message.ErrInvalidMessage)
		})
	}
}

func TestDecode_DefaultsLevelAndSeverity(t *testing.T) {
	msg, err := message.Decode([]byte(`{"id":"1","ts":"2024-01-01T00:00:00.000Z","eventName":"a.b"}`))
	require.NoError(t, err)

	assert.Equal(t, message.LevelInfo, msg.Level())
	assert.Equal(t, message.SeverityNormal, msg.Severity())
	assert.Nil(t, msg.Payload)
}

func TestPayloadReassignment(t *testing.T) {
	msg := message.New("n8n.workflow.workflowStarted")
	key := msg.Key()

	msg.Payload = map[string]any{"late": true}

	assert.Equal(t, key, msg.Key(), "payload changes must not affect the key")
	assert.Contains(t, msg.String(), `late`)
}
