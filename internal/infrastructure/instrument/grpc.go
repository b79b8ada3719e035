package instrument

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

// metadataCarrier adapts gRPC metadata to a propagation carrier.
type metadataCarrier metadata.MD

func (c metadataCarrier) Get(key string) string {
	if v := metadata.MD(c).Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (c metadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// UnaryServerInterceptor runs each unary call inside a SERVER span.
func UnaryServerInterceptor(tracer *tracing.Tracer, opts ...Option) grpc.UnaryServerInterceptor {
	cfg := newConfig(opts)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		span, ctx := startRPCServerSpan(ctx, tracer, cfg, info.FullMethod, false)
		defer endOnPanic(span)

		resp, err = handler(ctx, req)
		finishRPCSpan(span, err)
		return resp, err
	}
}

// StreamServerInterceptor runs each stream inside a SERVER span lasting
// until the handler returns.
func StreamServerInterceptor(tracer *tracing.Tracer, opts ...Option) grpc.StreamServerInterceptor {
	cfg := newConfig(opts)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		span, ctx := startRPCServerSpan(ss.Context(), tracer, cfg, info.FullMethod, true)
		defer endOnPanic(span)

		err := handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
		finishRPCSpan(span, err)
		return err
	}
}

// UnaryClientInterceptor runs each outgoing call inside a CLIENT span and
// forwards the trace context in metadata.
func UnaryClientInterceptor(tracer *tracing.Tracer, opts ...Option) grpc.UnaryClientInterceptor {
	cfg := newConfig(opts)
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) error {
		span, ctx := tracer.StartSpan(ctx, rpcSpanName(method),
			tracing.WithKind(trace.SpanKindClient),
			tracing.WithAttributes(rpcAttributes(method, false)...),
		)
		defer endOnPanic(span)

		if cfg.propagate {
			md, ok := metadata.FromOutgoingContext(ctx)
			if ok {
				md = md.Copy()
			} else {
				md = metadata.MD{}
			}
			tracing.Inject(ctx, metadataCarrier(md))
			ctx = metadata.NewOutgoingContext(ctx, md)
		}

		err := invoker(ctx, method, req, reply, cc, callOpts...)
		finishRPCSpan(span, err)
		return err
	}
}

type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context { return s.ctx }

func startRPCServerSpan(ctx context.Context, tracer *tracing.Tracer, cfg *config, fullMethod string, streaming bool) (*tracing.Span, context.Context) {
	opts := []tracing.StartOption{
		tracing.WithKind(trace.SpanKindServer),
		tracing.WithAttributes(rpcAttributes(fullMethod, streaming)...),
	}

	remote := false
	if cfg.propagate {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			ctx = tracing.Extract(ctx, metadataCarrier(md))
			remote = trace.SpanContextFromContext(ctx).IsRemote()
		}
	}
	if !remote {
		opts = append(opts, tracing.WithNewRoot())
	}
	return tracer.StartSpan(ctx, rpcSpanName(fullMethod), opts...)
}

func finishRPCSpan(span *tracing.Span, err error) {
	code := status.Code(err)
	span.SetAttribute(tracing.AttrRPCStatusCode, int64(code))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status.Convert(err).Message())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func rpcSpanName(fullMethod string) string {
	return strings.TrimPrefix(fullMethod, "/")
}

func rpcAttributes(fullMethod string, streaming bool) []attribute.KeyValue {
	service, method := splitMethod(fullMethod)
	attrs := []attribute.KeyValue{
		attribute.String(tracing.AttrRPCSystem, "grpc"),
		attribute.String(tracing.AttrRPCService, service),
		attribute.String(tracing.AttrRPCMethod, method),
	}
	if streaming {
		attrs = append(attrs, attribute.Bool(tracing.AttrRPCStreaming, true))
	}
	return attrs
}

// splitMethod splits "/pkg.Service/Method".
func splitMethod(fullMethod string) (string, string) {
	name := strings.TrimPrefix(fullMethod, "/")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
