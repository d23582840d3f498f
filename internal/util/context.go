package util

import (
	"context"
	"time"
)

// Context keys.
type ctxKey string

const (
	ctxKeyCallID    ctxKey = "call_id"
	ctxKeyService   ctxKey = "service"
	ctxKeyProtocol  ctxKey = "protocol"
	ctxKeyTraceID   ctxKey = "trace_id"
	ctxKeySpanID    ctxKey = "span_id"
	ctxKeyStartTime ctxKey = "start_time"
)

// ContextWithCallID adds a call ID to the context.
func ContextWithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, ctxKeyCallID, callID)
}

// CallIDFromContext extracts the call ID from context.
func CallIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyCallID).(string); ok {
		return v
	}
	return ""
}

// ContextWithService adds the calling service name to the context.
func ContextWithService(ctx context.Context, service string) context.Context {
	return context.WithValue(ctx, ctxKeyService, service)
}

// ServiceFromContext extracts the service name from context.
func ServiceFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyService).(string); ok {
		return v
	}
	return ""
}

// ContextWithProtocol adds the protocol name to the context.
func ContextWithProtocol(ctx context.Context, protocol string) context.Context {
	return context.WithValue(ctx, ctxKeyProtocol, protocol)
}

// ProtocolFromContext extracts the protocol name from context.
func ProtocolFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyProtocol).(string); ok {
		return v
	}
	return ""
}

// ContextWithTraceID adds a trace ID to the context.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKeyTraceID, traceID)
}

// TraceIDFromContext extracts the trace ID from context.
func TraceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyTraceID).(string); ok {
		return v
	}
	return ""
}

// ContextWithSpanID adds a span ID to the context.
func ContextWithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, ctxKeySpanID, spanID)
}

// SpanIDFromContext extracts the span ID from context.
func SpanIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeySpanID).(string); ok {
		return v
	}
	return ""
}

// ContextWithStartTime adds a start time to the context.
func ContextWithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ctxKeyStartTime, t)
}

// StartTimeFromContext extracts the start time from context.
func StartTimeFromContext(ctx context.Context) time.Time {
	if v, ok := ctx.Value(ctxKeyStartTime).(time.Time); ok {
		return v
	}
	return time.Time{}
}

// ElapsedTime returns the elapsed time since the start time in context.
func ElapsedTime(ctx context.Context) time.Duration {
	startTime := StartTimeFromContext(ctx)
	if startTime.IsZero() {
		return 0
	}
	return time.Since(startTime)
}
