package sinks

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

// DefaultStoreCapacity is the number of traces a Store keeps.
const DefaultStoreCapacity = 1000

// Trace is the aggregated view of all stored spans sharing a trace id.
type Trace struct {
	TraceID       string           `json:"trace_id"`
	RootService   string           `json:"root_service,omitempty"`
	RootOperation string           `json:"root_operation,omitempty"`
	StartTime     time.Time        `json:"start_time"`
	Duration      time.Duration    `json:"duration"`
	SpanCount     int              `json:"span_count"`
	Error         bool             `json:"error"`
	Spans         []tracing.Record `json:"-"`
}

// TraceQuery filters QueryTraces. Zero fields match everything.
type TraceQuery struct {
	ServiceName   string
	OperationName string
	StartTime     time.Time
	EndTime       time.Time
	MinDuration   time.Duration
	MaxDuration   time.Duration
	Tags          map[string]string
	ErrorsOnly    bool
	Limit         int
	Offset        int
}

// Store keeps the most recent traces in memory, evicting the oldest trace
// once capacity is reached.
type Store struct {
	capacity int

	mu     sync.RWMutex
	traces map[trace.TraceID]*Trace
	order  []trace.TraceID
}

// NewStore returns a store holding at most capacity traces.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultStoreCapacity
	}
	return &Store{
		capacity: capacity,
		traces:   make(map[trace.TraceID]*Trace),
	}
}

func (s *Store) Name() string { return "memory" }

func (s *Store) ExportBatch(_ context.Context, batch []tracing.Record) error {
	s.Ingest(batch)
	return nil
}

func (s *Store) Shutdown(context.Context) error { return nil }

// Ingest adds records to their traces.
func (s *Store) Ingest(records []tracing.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		t, ok := s.traces[rec.TraceID]
		if !ok {
			t = &Trace{TraceID: rec.TraceID.String()}
			s.traces[rec.TraceID] = t
			s.order = append(s.order, rec.TraceID)
			s.evictLocked()
		}
		t.Spans = append(t.Spans, rec)
		updateTrace(t, rec)
	}
}

func (s *Store) evictLocked() {
	for len(s.order) > s.capacity {
		delete(s.traces, s.order[0])
		s.order = s.order[1:]
	}
}

func updateTrace(t *Trace, rec tracing.Record) {
	t.SpanCount = len(t.Spans)
	if rec.Status.Code == codes.Error {
		t.Error = true
	}
	if rec.IsRoot() {
		t.RootService = tracing.ServiceName(rec.Resource)
		t.RootOperation = rec.Name
	}

	end := t.StartTime.Add(t.Duration)
	if t.StartTime.IsZero() || rec.StartTime.Before(t.StartTime) {
		t.StartTime = rec.StartTime
	}
	if rec.EndTime.After(end) {
		end = rec.EndTime
	}
	t.Duration = end.Sub(t.StartTime)
}

// GetTrace returns a copy of the trace with the given hex id.
func (s *Store) GetTrace(traceID string) (*Trace, bool) {
	tid, err := trace.TraceIDFromHex(traceID)
	if err != nil {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.traces[tid]
	if !ok {
		return nil, false
	}
	result := *t
	result.Spans = make([]tracing.Record, len(t.Spans))
	copy(result.Spans, t.Spans)
	return &result, true
}

// QueryTraces returns matching traces newest first, and the total number
// of matches before paging.
func (s *Store) QueryTraces(query TraceQuery) ([]Trace, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []Trace
	for _, t := range s.traces {
		if matchesQuery(t, query) {
			r := *t
			r.Spans = nil
			results = append(results, r)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].StartTime.After(results[j].StartTime)
	})

	total := len(results)
	if query.Offset > 0 {
		if query.Offset >= len(results) {
			results = nil
		} else {
			results = results[query.Offset:]
		}
	}
	if query.Limit > 0 && len(results) > query.Limit {
		results = results[:query.Limit]
	}
	return results, total
}

// Len returns the number of stored traces.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.traces)
}

func matchesQuery(t *Trace, q TraceQuery) bool {
	if q.ErrorsOnly && !t.Error {
		return false
	}
	if q.ServiceName != "" && t.RootService != q.ServiceName &&
		!anySpan(t, func(r *tracing.Record) bool { return tracing.ServiceName(r.Resource) == q.ServiceName }) {
		return false
	}
	if q.OperationName != "" &&
		!anySpan(t, func(r *tracing.Record) bool { return strings.Contains(r.Name, q.OperationName) }) {
		return false
	}

	if !q.StartTime.IsZero() && t.StartTime.Before(q.StartTime) {
		return false
	}
	if !q.EndTime.IsZero() && t.StartTime.After(q.EndTime) {
		return false
	}
	if q.MinDuration > 0 && t.Duration < q.MinDuration {
		return false
	}
	if q.MaxDuration > 0 && t.Duration > q.MaxDuration {
		return false
	}

	for key, value := range q.Tags {
		if !anySpan(t, func(r *tracing.Record) bool {
			v, ok := r.Attribute(key)
			return ok && v.Emit() == value
		}) {
			return false
		}
	}
	return true
}

func anySpan(t *Trace, fn func(*tracing.Record) bool) bool {
	for i := range t.Spans {
		if fn(&t.Spans[i]) {
			return true
		}
	}
	return false
}
