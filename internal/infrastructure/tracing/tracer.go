package tracing

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/autotrace/internal/shared/id"
)

// DefaultMaxDepth caps how deeply spans may nest within one trace.
const DefaultMaxDepth = 1000

// ErrMaxDepthExceeded is returned by Start when the parent chain is already
// at the depth cap.
var ErrMaxDepthExceeded = errors.New("tracing: span depth limit exceeded")

// Exporter receives ended spans. Export must not block.
type Exporter interface {
	Export(Record)
}

// ExporterFunc adapts a function to Exporter.
type ExporterFunc func(Record)

// Export calls f(r).
func (f ExporterFunc) Export(r Record) { f(r) }

// Tracer creates spans and hands them to an Exporter when they end.
type Tracer struct {
	exporter Exporter
	resource *resource.Resource
	ids      *id.Generator
	maxDepth int
	logger   *zap.Logger
	warn     *rate.Limiter
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithResource attaches process identity to every record.
func WithResource(res *resource.Resource) Option {
	return func(t *Tracer) { t.resource = res }
}

// WithMaxDepth sets the nesting cap. Zero disables it.
func WithMaxDepth(depth int) Option {
	return func(t *Tracer) { t.maxDepth = depth }
}

// WithIDGenerator overrides the id source.
func WithIDGenerator(g *id.Generator) Option {
	return func(t *Tracer) { t.ids = g }
}

// New creates a tracer. A nil exporter discards spans.
func New(exporter Exporter, logger *zap.Logger, opts ...Option) *Tracer {
	if exporter == nil {
		exporter = ExporterFunc(func(Record) {})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracer{
		exporter: exporter,
		resource: resource.Empty(),
		ids:      id.Default(),
		maxDepth: DefaultMaxDepth,
		logger:   logger.Named("tracer"),
		warn:     rate.NewLimiter(rate.Every(time.Second), 10),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Resource returns the resource attached to every record.
func (t *Tracer) Resource() *resource.Resource {
	return t.resource
}

// StartOption configures a new span.
type StartOption func(*startConfig)

type startConfig struct {
	kind    trace.SpanKind
	attrs   []attribute.KeyValue
	newRoot bool
}

// WithKind sets the span kind. The default is internal.
func WithKind(kind trace.SpanKind) StartOption {
	return func(c *startConfig) { c.kind = kind }
}

// WithAttributes sets attributes at creation.
func WithAttributes(kv ...attribute.KeyValue) StartOption {
	return func(c *startConfig) { c.attrs = append(c.attrs, kv...) }
}

// WithNewRoot ignores any parent in the context and starts a new trace.
func WithNewRoot() StartOption {
	return func(c *startConfig) { c.newRoot = true }
}

// Start creates a span as a child of the span in ctx, or as a root when ctx
// carries none, and returns a context holding the new span. It fails only
// when the parent chain is at the depth cap; the returned span is then
// non-recording and ctx is returned unchanged.
func (t *Tracer) Start(ctx context.Context, name string, opts ...StartOption) (*Span, context.Context, error) {
	cfg := startConfig{kind: trace.SpanKindInternal}
	for _, opt := range opts {
		opt(&cfg)
	}
	switch cfg.kind {
	case trace.SpanKindServer, trace.SpanKindClient, trace.SpanKindInternal:
	default:
		cfg.kind = trace.SpanKindInternal
	}

	s := &Span{
		tracer:    t,
		name:      name,
		kind:      cfg.kind,
		depth:     1,
		recording: true,
	}

	traceID := trace.TraceID{}
	flags := trace.FlagsSampled
	if !cfg.newRoot {
		if p := spanFromContext(ctx); p != nil {
			if t.maxDepth > 0 && p.depth >= t.maxDepth {
				t.logger.Warn("span depth limit reached, span not recorded",
					zap.String("span", name),
					zap.String("trace_id", p.TraceID().String()),
					zap.Int("max_depth", t.maxDepth),
				)
				return nonRecording(p.sc), ctx, ErrMaxDepthExceeded
			}
			s.parent = p
			s.depth = p.depth + 1
			s.parentID = p.SpanID()
			traceID = p.TraceID()
			flags = p.sc.TraceFlags()
		} else if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			// Remote parent from propagated headers.
			s.parentID = sc.SpanID()
			traceID = sc.TraceID()
			flags = sc.TraceFlags() | trace.FlagsSampled
		}
	}
	if !traceID.IsValid() {
		traceID = t.ids.TraceID()
	}

	s.sc = trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     t.ids.SpanID(),
		TraceFlags: flags,
	})
	s.start = time.Now()
	if len(cfg.attrs) > 0 {
		s.setAttributesLocked(cfg.attrs)
	}
	if s.parent != nil {
		s.parent.adopt(s)
	}

	return s, ContextWithSpan(ctx, s), nil
}

// StartSpan is Start for call sites that cannot handle an error: on failure
// it returns a non-recording span and the unchanged context.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...StartOption) (*Span, context.Context) {
	span, ctx, _ := t.Start(ctx, name, opts...)
	return span, ctx
}

func (t *Tracer) export(rec Record) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("span exporter panicked",
				zap.Any("panic", r),
				zap.String("trace_id", rec.TraceID.String()),
			)
		}
	}()
	t.exporter.Export(rec)
}

func (t *Tracer) warnEnded(s *Span, op string) {
	if !t.warn.Allow() {
		return
	}
	t.logger.Warn("mutation on ended span ignored",
		zap.String("op", op),
		zap.String("span", s.name),
		zap.String("trace_id", s.TraceID().String()),
		zap.String("span_id", s.SpanID().String()),
	)
}

func (t *Tracer) debug(msg string, s *Span) {
	t.logger.Debug(msg,
		zap.String("span", s.name),
		zap.String("trace_id", s.TraceID().String()),
		zap.String("span_id", s.SpanID().String()),
	)
}
