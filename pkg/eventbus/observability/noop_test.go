package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestNoopMetrics(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordPublish(ctx, "n8n.core.a", time.Millisecond, errors.New("x"))
		m.RecordConfirm(ctx, "n8n.core.a")
		m.RecordDispatch(ctx, 2, 1)
		m.RecordReplay(ctx, 1)
		m.RecordCompaction(ctx, 1, nil)
	})
}

func TestNoopSpanManager(t *testing.T) {
	var sm SpanManager = NoopSpanManager{}
	ctx := context.Background()

	newCtx, span := sm.StartPublishSpan(ctx, testMessage())
	assert.Equal(t, ctx, newCtx, "noop must not wrap the context")
	assert.False(t, span.IsRecording())

	newCtx, span = sm.StartForwardSpan(ctx, "broker")
	assert.Equal(t, ctx, newCtx)

	assert.NotPanics(t, func() {
		sm.EndSpanWithError(span, errors.New("x"))
		sm.AddSpanEvent(ctx, "evt", attribute.String("k", "v"))
	})
}
