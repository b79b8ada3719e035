package sinks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/autotrace/internal/shared/id"
)

func TestStoreAggregatesTrace(t *testing.T) {
	s := NewStore(10)
	start := time.Now()
	tid := id.NewTraceID()

	root := span(tid, [8]byte{}, "GET /users/42", start, 20*time.Millisecond)
	child := span(tid, root.SpanID, "SELECT", start.Add(2*time.Millisecond), 30*time.Millisecond)
	child.Status = tracing.Status{Code: codes.Error, Description: "timeout"}

	// Children end first, so they arrive before the root.
	require.NoError(t, s.ExportBatch(context.Background(), []tracing.Record{child, root}))

	got, ok := s.GetTrace(tid.String())
	require.True(t, ok)
	assert.Equal(t, 2, got.SpanCount)
	assert.Equal(t, "checkout", got.RootService)
	assert.Equal(t, "GET /users/42", got.RootOperation)
	assert.True(t, got.StartTime.Equal(start))
	assert.Equal(t, 32*time.Millisecond, got.Duration)
	assert.True(t, got.Error)
	assert.Len(t, got.Spans, 2)

	got.Spans[0].Name = "mutated"
	again, _ := s.GetTrace(tid.String())
	assert.Equal(t, "SELECT", again.Spans[0].Name)
}

func TestStoreGetTraceMissing(t *testing.T) {
	s := NewStore(0)
	_, ok := s.GetTrace(id.NewTraceID().String())
	assert.False(t, ok)
	_, ok = s.GetTrace("not-hex")
	assert.False(t, ok)
}

func TestStoreEvictsOldest(t *testing.T) {
	s := NewStore(3)
	var ids []string
	for i := 0; i < 5; i++ {
		tid := id.NewTraceID()
		ids = append(ids, tid.String())
		s.Ingest([]tracing.Record{span(tid, [8]byte{}, fmt.Sprintf("op-%d", i), time.Now(), 0)})
	}

	assert.Equal(t, 3, s.Len())
	_, ok := s.GetTrace(ids[0])
	assert.False(t, ok)
	_, ok = s.GetTrace(ids[4])
	assert.True(t, ok)
}

func TestStoreQueryTraces(t *testing.T) {
	s := NewStore(100)
	base := time.Now()

	slow := span(id.NewTraceID(), [8]byte{}, "GET /slow", base, 500*time.Millisecond)
	fast := span(id.NewTraceID(), [8]byte{}, "GET /fast", base.Add(time.Second), 5*time.Millisecond)
	fast.Attributes = append(fast.Attributes, attribute.Int("http.status_code", 404))
	failed := span(id.NewTraceID(), [8]byte{}, "POST /users", base.Add(2*time.Second), 10*time.Millisecond)
	failed.Status = tracing.Status{Code: codes.Error}
	s.Ingest([]tracing.Record{slow, fast, failed})

	tests := []struct {
		name  string
		query TraceQuery
		want  []string
	}{
		{"all newest first", TraceQuery{}, []string{"POST /users", "GET /fast", "GET /slow"}},
		{"operation", TraceQuery{OperationName: "GET"}, []string{"GET /fast", "GET /slow"}},
		{"service", TraceQuery{ServiceName: "billing"}, nil},
		{"min duration", TraceQuery{MinDuration: 100 * time.Millisecond}, []string{"GET /slow"}},
		{"max duration", TraceQuery{MaxDuration: 6 * time.Millisecond}, []string{"GET /fast"}},
		{"tag", TraceQuery{Tags: map[string]string{"http.status_code": "404"}}, []string{"GET /fast"}},
		{"errors only", TraceQuery{ErrorsOnly: true}, []string{"POST /users"}},
		{"window", TraceQuery{StartTime: base.Add(500 * time.Millisecond), EndTime: base.Add(1500 * time.Millisecond)}, []string{"GET /fast"}},
		{"limit", TraceQuery{Limit: 1}, []string{"POST /users"}},
		{"offset", TraceQuery{Offset: 2}, []string{"GET /slow"}},
		{"offset past end", TraceQuery{Offset: 5}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := s.QueryTraces(tt.query)
			var names []string
			for _, tr := range got {
				names = append(names, tr.RootOperation)
				assert.Nil(t, tr.Spans)
			}
			assert.Equal(t, tt.want, names)
		})
	}

	_, total := s.QueryTraces(TraceQuery{Limit: 1})
	assert.Equal(t, 3, total)
}
