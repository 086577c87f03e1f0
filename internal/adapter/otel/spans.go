package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "supportdesk"

// StartAnswerSpan starts a span around one answering call.
func StartAnswerSpan(ctx context.Context, tenantID, botID, conversationID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "knowledge.answer",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("bot.id", botID),
			attribute.String("conversation.id", conversationID),
		),
	)
}

// StartTransitionSpan starts a span around a conversation state change.
func StartTransitionSpan(ctx context.Context, transition, tenantID, conversationID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "conversation."+transition,
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("conversation.id", conversationID),
		),
	)
}

// EndSpan records err, if any, and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
