package observability

import (
	"context"

	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer uses the global OTel tracer provider.
var tracer = otel.Tracer("eventbus")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartPublishSpan starts a span covering persist, forward and confirm
	// of one message.
	StartPublishSpan(ctx context.Context, msg *message.Message) (context.Context, trace.Span)

	// StartForwardSpan starts a child span for one forwarder call.
	StartForwardSpan(ctx context.Context, forwarder string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartPublishSpan starts a span for a publish.
func (m *otelSpanManager) StartPublishSpan(ctx context.Context, msg *message.Message) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventbus.publish",
		trace.WithAttributes(
			attribute.String("event.id", msg.ID()),
			attribute.String("event.name", msg.Name()),
			attribute.String("event.level", string(msg.Level())),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
}

// StartForwardSpan starts a span for a forwarder call.
func (m *otelSpanManager) StartForwardSpan(ctx context.Context, forwarder string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventbus.forward."+forwarder,
		trace.WithAttributes(
			attribute.String("forwarder", forwarder),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
