package instrument

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

// startServerSpan opens the root span for an inbound request. A valid
// traceparent continues the caller's trace; otherwise a new trace starts
// regardless of what ctx already carries.
func startServerSpan(tracer *tracing.Tracer, cfg *config, r *http.Request, clientIP string) (*tracing.Span, context.Context) {
	ctx := r.Context()
	opts := []tracing.StartOption{
		tracing.WithKind(trace.SpanKindServer),
		tracing.WithAttributes(requestAttributes(r, clientIP)...),
	}

	remote := false
	if cfg.propagate {
		ctx = tracing.ExtractHTTP(ctx, r.Header)
		remote = trace.SpanContextFromContext(ctx).IsRemote()
	}
	if !remote {
		opts = append(opts, tracing.WithNewRoot())
	}
	return tracer.StartSpan(ctx, r.Method+" "+r.URL.Path, opts...)
}

func requestAttributes(r *http.Request, clientIP string) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}

	attrs := []attribute.KeyValue{
		attribute.String(tracing.AttrHTTPMethod, r.Method),
		attribute.String(tracing.AttrHTTPURL, scheme+"://"+r.Host+r.URL.RequestURI()),
		attribute.String(tracing.AttrHTTPScheme, scheme),
		attribute.String(tracing.AttrHTTPHost, r.Host),
		attribute.String(tracing.AttrHTTPTarget, r.URL.Path),
		attribute.String(tracing.AttrHTTPUserAgent, r.UserAgent()),
	}
	if r.ContentLength >= 0 {
		attrs = append(attrs, attribute.Int64(tracing.AttrHTTPRequestSize, r.ContentLength))
	}
	if clientIP != "" {
		attrs = append(attrs, attribute.String(tracing.AttrHTTPClientIP, clientIP))
	}
	return attrs
}

// serverOutcome is what the handler produced.
type serverOutcome struct {
	route   string
	status  int
	written int64
	elapsed time.Duration
	err     error
}

// finishServerSpan records the outcome and ends the span. A known route
// template replaces the raw path in the span name.
func finishServerSpan(span *tracing.Span, r *http.Request, out serverOutcome) {
	if out.route != "" {
		span.SetName(r.Method + " " + out.route)
		span.SetAttribute(tracing.AttrHTTPRoute, out.route)
	}
	span.SetAttribute(tracing.AttrHTTPDurationMS, tracing.Milliseconds(out.elapsed))
	if r.Context().Err() != nil {
		span.SetAttribute(tracing.AttrRequestCanceled, true)
	}
	if out.err != nil {
		span.RecordError(out.err)
	}
	if out.status > 0 {
		span.SetAttribute(tracing.AttrHTTPStatusCode, out.status)
		span.SetAttribute(tracing.AttrHTTPResponseSize, out.written)
		span.SetStatus(httpStatus(out.status))
	}
	span.End()
}

// failServerSpan records a handler panic and ends the span. The caller
// re-panics.
func failServerSpan(span *tracing.Span, r *http.Request, out serverOutcome, v any) {
	span.RecordPanic(v)
	span.SetStatus(codes.Error, panicMessage(v))
	finishServerSpan(span, r, out)
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
