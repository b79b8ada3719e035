package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// propagator speaks W3C traceparent/tracestate.
var propagator propagation.TextMapPropagator = propagation.TraceContext{}

// Inject writes the current span context into carrier.
func Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	propagator.Inject(ctx, carrier)
}

// InjectHTTP writes the current span context into HTTP headers.
func InjectHTTP(ctx context.Context, h http.Header) {
	Inject(ctx, propagation.HeaderCarrier(h))
}

// Extract reads a remote span context from carrier. When one is present the
// returned context makes the next span its child.
func Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	sc := trace.SpanContextFromContext(propagator.Extract(context.Background(), carrier))
	if !sc.IsValid() {
		return ctx
	}
	return ContextWithRemoteParent(ctx, sc)
}

// ExtractHTTP reads a remote span context from HTTP headers.
func ExtractHTTP(ctx context.Context, h http.Header) context.Context {
	return Extract(ctx, propagation.HeaderCarrier(h))
}

// Fields lists the header names the propagator uses.
func Fields() []string {
	return propagator.Fields()
}
