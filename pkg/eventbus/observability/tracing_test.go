package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTracingTest installs an in-memory span exporter for the test.
func setupTracingTest(t *testing.T) *tracetest.InMemoryExporter {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer("eventbus")

	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		tracer = otel.Tracer("eventbus")
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down tracer provider: %v", err)
		}
	})
	return exporter
}

func attrString(attrs []attribute.KeyValue, key string) string {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value.AsString()
		}
	}
	return ""
}

func TestStartPublishSpan(t *testing.T) {
	exporter := setupTracingTest(t)
	sm := NewSpanManager()

	_, span := sm.StartPublishSpan(context.Background(), testMessage())
	sm.EndSpanWithError(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "eventbus.publish", spans[0].Name)
	assert.Equal(t, "evt-1", attrString(spans[0].Attributes, "event.id"))
	assert.Equal(t, "n8n.workflow.workflowStarted", attrString(spans[0].Attributes, "event.name"))
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
}

func TestStartForwardSpan_ChildOfPublish(t *testing.T) {
	exporter := setupTracingTest(t)
	sm := NewSpanManager()

	ctx, publish := sm.StartPublishSpan(context.Background(), testMessage())
	_, forward := sm.StartForwardSpan(ctx, "broker")
	sm.EndSpanWithError(forward, errors.New("no receivers"))
	sm.EndSpanWithError(publish, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	var fwd *tracetest.SpanStub
	for i := range spans {
		if spans[i].Name == "eventbus.forward.broker" {
			fwd = &spans[i]
		}
	}
	require.NotNil(t, fwd)
	assert.Equal(t, spans[1].SpanContext.SpanID(), fwd.Parent.SpanID())
	assert.Equal(t, codes.Error, fwd.Status.Code)
	assert.Equal(t, "no receivers", fwd.Status.Description)
	require.Len(t, fwd.Events, 1, "error should be recorded as an event")
}

func TestAddSpanEvent(t *testing.T) {
	exporter := setupTracingTest(t)
	sm := NewSpanManager()

	ctx, span := sm.StartPublishSpan(context.Background(), testMessage())
	sm.AddSpanEvent(ctx, "persisted", attribute.Int("writers", 2))
	sm.EndSpanWithError(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "persisted", spans[0].Events[0].Name)
}

func TestSpanManager_NilSafety(t *testing.T) {
	sm := NewSpanManager()
	assert.NotPanics(t, func() {
		sm.EndSpanWithError(nil, errors.New("x"))
		sm.AddSpanEvent(context.Background(), "no span")
	})
}
