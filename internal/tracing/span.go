package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RunAttributes identifies a run on the exported resource.
func RunAttributes(runID, target, scenario string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("gamestorm.run.id", runID),
		attribute.String("server.address", target),
	}
	if scenario != "" {
		attrs = append(attrs, attribute.String("gamestorm.run.scenario", scenario))
	}
	return attrs
}

// StartSessionSpan starts the span covering one session's whole lifecycle.
func StartSessionSpan(ctx context.Context, tracer trace.Tracer, id int, target string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "session",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.Int("gamestorm.session.id", id),
		attribute.String("server.address", target),
	)
	return ctx, span
}

// AddTransition records a state change as a span event.
func AddTransition(span trace.Span, from, to string, spent time.Duration) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent("transition", trace.WithAttributes(
		attribute.String("gamestorm.state.from", from),
		attribute.String("gamestorm.state.to", to),
		attribute.Int64("gamestorm.state.spent_ms", spent.Milliseconds()),
	))
}

// SessionResultAttributes describes how a session ended.
func SessionResultAttributes(state string, framesSent, framesReceived int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("gamestorm.session.final_state", state),
		attribute.Int64("gamestorm.session.frames_sent", framesSent),
		attribute.Int64("gamestorm.session.frames_received", framesReceived),
	}
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
