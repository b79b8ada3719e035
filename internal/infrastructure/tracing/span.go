package tracing

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"
)

// Event is a timestamped annotation on a span.
type Event struct {
	Name       string
	Time       time.Time
	Attributes []attribute.KeyValue
}

// Status is the outcome of a span.
type Status struct {
	Code        codes.Code
	Description string
}

// Record is the immutable snapshot of an ended span handed to exporters.
// Sinks share records and must not modify them.
type Record struct {
	TraceID      trace.TraceID
	SpanID       trace.SpanID
	ParentSpanID trace.SpanID
	Name         string
	Kind         trace.SpanKind
	StartTime    time.Time
	EndTime      time.Time
	Attributes   []attribute.KeyValue
	Events       []Event
	Status       Status
	Resource     *resource.Resource
}

// Duration returns EndTime - StartTime.
func (r Record) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// IsRoot reports whether the span has no parent.
func (r Record) IsRoot() bool {
	return !r.ParentSpanID.IsValid()
}

// Attribute looks up an attribute by key.
func (r Record) Attribute(key string) (attribute.Value, bool) {
	for _, kv := range r.Attributes {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

// Span is a single traced operation. All methods are safe for concurrent
// use and never panic; after End they are no-ops that log a throttled
// warning.
type Span struct {
	tracer    *Tracer
	sc        trace.SpanContext
	parentID  trace.SpanID
	parent    *Span
	depth     int
	kind      trace.SpanKind
	start     time.Time
	recording bool

	mu        sync.Mutex
	name      string
	attrs     []attribute.KeyValue
	attrIndex map[attribute.Key]int
	events    []Event
	status    Status
	ended     bool
	end       time.Time
	children  []*Span // open children in start order
}

// nonRecording returns a span that carries sc but records nothing.
func nonRecording(sc trace.SpanContext) *Span {
	return &Span{sc: sc}
}

// SpanContext returns the span's immutable identity.
func (s *Span) SpanContext() trace.SpanContext {
	return s.sc
}

// TraceID returns the id shared by every span of the trace.
func (s *Span) TraceID() trace.TraceID {
	return s.sc.TraceID()
}

// SpanID returns the span's own id.
func (s *Span) SpanID() trace.SpanID {
	return s.sc.SpanID()
}

// ParentSpanID returns the parent's id, or the zero id for a root span.
func (s *Span) ParentSpanID() trace.SpanID {
	return s.parentID
}

// IsRecording reports whether the span is live: created successfully and
// not yet ended.
func (s *Span) IsRecording() bool {
	if !s.recording {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ended
}

// SetName replaces the span name.
func (s *Span) SetName(name string) {
	if !s.recording {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		s.tracer.warnEnded(s, "SetName")
		return
	}
	s.name = name
}

// SetAttribute sets one attribute from a Go scalar. Later writes to the same
// key win.
func (s *Span) SetAttribute(key string, value any) {
	s.SetAttributes(Attr(key, value))
}

// SetAttributes sets typed attributes. Later writes to the same key win and
// keep the key's original position.
func (s *Span) SetAttributes(kv ...attribute.KeyValue) {
	if !s.recording || len(kv) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		s.tracer.warnEnded(s, "SetAttributes")
		return
	}
	s.setAttributesLocked(kv)
}

func (s *Span) setAttributesLocked(kv []attribute.KeyValue) {
	for _, a := range kv {
		if !a.Valid() {
			continue
		}
		if i, ok := s.attrIndex[a.Key]; ok {
			s.attrs[i] = a
			continue
		}
		if s.attrIndex == nil {
			s.attrIndex = make(map[attribute.Key]int)
		}
		s.attrIndex[a.Key] = len(s.attrs)
		s.attrs = append(s.attrs, a)
	}
}

// AddEvent appends a timestamped event.
func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	if !s.recording {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		s.tracer.warnEnded(s, "AddEvent")
		return
	}
	s.addEventLocked(name, attrs)
}

func (s *Span) addEventLocked(name string, attrs []attribute.KeyValue) {
	s.events = append(s.events, Event{
		Name:       name,
		Time:       s.now(),
		Attributes: append([]attribute.KeyValue(nil), attrs...),
	})
}

// RecordError records err as an "exception" event carrying its type,
// message and the current stack. It does not change the status.
func (s *Span) RecordError(err error, attrs ...attribute.KeyValue) {
	if err == nil || !s.recording {
		return
	}
	s.recordException(fmt.Sprintf("%T", err), err.Error(), attrs)
}

// RecordPanic records a recovered panic value as an exception event.
func (s *Span) RecordPanic(v any) {
	if !s.recording {
		return
	}
	if err, ok := v.(error); ok {
		s.recordException(fmt.Sprintf("%T", err), err.Error(), nil)
		return
	}
	s.recordException(fmt.Sprintf("%T", v), fmt.Sprint(v), nil)
}

func (s *Span) recordException(typ, msg string, extra []attribute.KeyValue) {
	attrs := make([]attribute.KeyValue, 0, 3+len(extra))
	attrs = append(attrs,
		attribute.String(AttrExceptionType, typ),
		attribute.String(AttrExceptionMessage, msg),
		attribute.String(AttrExceptionStacktrace, string(debug.Stack())),
	)
	attrs = append(attrs, extra...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		s.tracer.warnEnded(s, "RecordError")
		return
	}
	s.addEventLocked(EventException, attrs)
}

// SetStatus sets the span status. Unset is ignored, and Ok never
// replaces an Error.
func (s *Span) SetStatus(code codes.Code, description string) {
	if !s.recording {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		s.tracer.warnEnded(s, "SetStatus")
		return
	}
	s.setStatusLocked(code, description)
}

func (s *Span) setStatusLocked(code codes.Code, description string) {
	switch code {
	case codes.Error:
		s.status = Status{Code: codes.Error, Description: description}
	case codes.Ok:
		if s.status.Code == codes.Error {
			s.tracer.debug("ignoring Ok status on errored span", s)
			return
		}
		s.status = Status{Code: codes.Ok}
	}
}

// End finalizes the span and hands it to the exporter. Children that are
// still open are ended first, in start order, with an Error status. Calling
// End twice is a no-op.
func (s *Span) End() {
	s.finish(false)
}

func (s *Span) finish(orphaned bool) {
	if !s.recording {
		return
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		if !orphaned {
			s.tracer.warnEnded(s, "End")
		}
		return
	}
	s.ended = true
	if orphaned {
		if s.status.Code != codes.Error {
			s.status = Status{Code: codes.Error, Description: "parent span ended before this span"}
		}
		s.setAttributesLocked([]attribute.KeyValue{attribute.Bool(AttrOrphaned, true)})
	}
	children := s.children
	s.children = nil
	s.mu.Unlock()

	for _, c := range children {
		c.finish(true)
	}

	s.mu.Lock()
	s.end = s.now()
	rec := s.recordLocked()
	s.mu.Unlock()

	if s.parent != nil {
		s.parent.release(s)
	}
	s.tracer.export(rec)
}

// now returns the current time expressed relative to the span start so
// timestamps follow the monotonic clock even if the wall clock steps.
func (s *Span) now() time.Time {
	return s.start.Add(time.Since(s.start))
}

func (s *Span) recordLocked() Record {
	return Record{
		TraceID:      s.sc.TraceID(),
		SpanID:       s.sc.SpanID(),
		ParentSpanID: s.parentID,
		Name:         s.name,
		Kind:         s.kind,
		StartTime:    s.start,
		EndTime:      s.end,
		Attributes:   append([]attribute.KeyValue(nil), s.attrs...),
		Events:       append([]Event(nil), s.events...),
		Status:       s.status,
		Resource:     s.tracer.resource,
	}
}

func (s *Span) adopt(child *Span) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.children = append(s.children, child)
}

func (s *Span) release(child *Span) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.children {
		if c == child {
			s.children = append(s.children[:i], s.children[i+1:]...)
			return
		}
	}
}
