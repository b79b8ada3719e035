package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
)

type spanKey struct{}

// ContextWithSpan returns ctx with s as the current span. The span context
// is also stored the way otel expects it so propagators can read it.
func ContextWithSpan(ctx context.Context, s *Span) context.Context {
	ctx = context.WithValue(ctx, spanKey{}, s)
	return trace.ContextWithSpanContext(ctx, s.sc)
}

// ContextWithRemoteParent returns ctx whose next span continues the remote
// trace sc. Any local span already in ctx is hidden.
func ContextWithRemoteParent(ctx context.Context, sc trace.SpanContext) context.Context {
	ctx = context.WithValue(ctx, spanKey{}, (*Span)(nil))
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

// SpanFromContext returns the current span. It never returns nil: without a
// span in ctx the result is a non-recording span whose methods do nothing.
func SpanFromContext(ctx context.Context) *Span {
	if s, ok := ctx.Value(spanKey{}).(*Span); ok && s != nil {
		return s
	}
	return nonRecording(trace.SpanContextFromContext(ctx))
}

// spanFromContext returns the local recording parent, if any.
func spanFromContext(ctx context.Context) *Span {
	s, ok := ctx.Value(spanKey{}).(*Span)
	if !ok || s == nil || !s.recording {
		return nil
	}
	return s
}

// TraceIDFromContext returns the trace id of the current span, or the zero
// id.
func TraceIDFromContext(ctx context.Context) trace.TraceID {
	return trace.SpanContextFromContext(ctx).TraceID()
}

// FormatTrace renders the current trace position for log lines.
func FormatTrace(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return fmt.Sprintf("[trace:%s span:%s]", sc.TraceID(), sc.SpanID())
}
