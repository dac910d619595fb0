package agent

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"zen/internal/event"
)

const (
	traceScopeAgent = "zen.agent"

	traceSpanRun         = "zen.agent.run"
	traceSpanLLMGenerate = "zen.llm.generate"
	traceSpanToolExecute = "zen.tool.execute"

	traceAttrUserID   = "zen.user_id"
	traceAttrThreadID = "zen.thread_id"
	traceAttrRunID    = "zen.run_id"
	traceAttrTurn     = "zen.turn"
	traceAttrToolName = "zen.tool_name"
	traceAttrDegraded = "zen.degraded"
)

func startRunSpan(ctx context.Context, spanName string, scope event.Scope, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	spanAttrs := make([]attribute.KeyValue, 0, len(attrs)+3)
	spanAttrs = append(spanAttrs,
		attribute.String(traceAttrUserID, scope.UserID),
		attribute.String(traceAttrThreadID, scope.ThreadID),
		attribute.String(traceAttrRunID, scope.RunID),
	)
	spanAttrs = append(spanAttrs, attrs...)
	return otel.Tracer(traceScopeAgent).Start(ctx, spanName, trace.WithAttributes(spanAttrs...))
}

func markSpanResult(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
