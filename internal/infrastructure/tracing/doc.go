/*
Package tracing records spans: timed, attributed operations linked into
traces by parent ids.

# Overview

A Tracer creates spans and, when they end, hands an immutable Record to an
Exporter (normally the export pipeline). The current span of a call chain
travels in context.Context, so concurrent requests never share a current
span and no goroutine-local state is needed.

# Span lifecycle

	span, ctx := tracer.StartSpan(ctx, "load user", tracing.WithKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttribute("user.id", 42)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

Rules enforced by Span:
  - Attributes: last write per key wins, original key order is kept.
  - Status: Error is sticky; a later Ok is ignored.
  - After End every mutation is a no-op with a throttled warning.
  - End closes still-open children first, marking them Error and
    span.orphaned=true, so a handler that forgets End cannot leak spans.
  - Spans nest at most DefaultMaxDepth deep; Start reports
    ErrMaxDepthExceeded beyond that and StartSpan degrades to a
    non-recording span.

# Propagation

Inject and Extract speak W3C trace context (traceparent, tracestate) via
the otel propagation package. An extracted remote parent makes the next
span a child in the caller's trace.
*/
package tracing
