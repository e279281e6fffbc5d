package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agentrelay"

// StartTaskSpan starts a span covering one task execution.
func StartTaskSpan(ctx context.Context, taskID, kind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.content_kind", kind),
		),
	)
}

// StartDownstreamSpan starts a span for the call to the chosen agent.
func StartDownstreamSpan(ctx context.Context, agentID, endpoint string, streaming bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "downstream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("agent.endpoint", endpoint),
			attribute.Bool("agent.streaming", streaming),
		),
	)
}
