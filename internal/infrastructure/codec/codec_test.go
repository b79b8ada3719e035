package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

func sampleRecord(res *resource.Resource) tracing.Record {
	start := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	return tracing.Record{
		TraceID:      trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10},
		SpanID:       trace.SpanID{0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18},
		ParentSpanID: trace.SpanID{0x21, 0x22, 0x23, 0x24, 0x25, 0x26, 0x27, 0x28},
		Name:         "GET /users/:id",
		Kind:         trace.SpanKindServer,
		StartTime:    start,
		EndTime:      start.Add(42 * time.Millisecond),
		Attributes: []attribute.KeyValue{
			attribute.String("http.method", "GET"),
			attribute.Int64("http.status_code", 500),
			attribute.Float64("http.duration_ms", 42.5),
			attribute.Bool("request.canceled", false),
			attribute.StringSlice("tags", []string{"a", "b"}),
			attribute.Int64Slice("ports", []int64{80, 443}),
		},
		Events: []tracing.Event{{
			Name:       tracing.EventException,
			Time:       start.Add(time.Millisecond),
			Attributes: []attribute.KeyValue{attribute.String("exception.message", "boom")},
		}},
		Status:   tracing.Status{Code: codes.Error, Description: "boom"},
		Resource: res,
	}
}

func testResource() *resource.Resource {
	return resource.NewSchemaless(
		attribute.String("service.name", "checkout"),
		attribute.String("service.version", "2.1.0"),
	)
}

func assertSameRecord(t *testing.T, want, got tracing.Record) {
	t.Helper()
	assert.Equal(t, want.TraceID, got.TraceID)
	assert.Equal(t, want.SpanID, got.SpanID)
	assert.Equal(t, want.ParentSpanID, got.ParentSpanID)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Kind, got.Kind)
	assert.True(t, want.StartTime.Equal(got.StartTime), "start %v != %v", want.StartTime, got.StartTime)
	assert.True(t, want.EndTime.Equal(got.EndTime), "end %v != %v", want.EndTime, got.EndTime)
	assert.Equal(t, want.Attributes, got.Attributes)
	assert.Equal(t, want.Status, got.Status)
	require.Len(t, got.Events, len(want.Events))
	for i := range want.Events {
		assert.Equal(t, want.Events[i].Name, got.Events[i].Name)
		assert.True(t, want.Events[i].Time.Equal(got.Events[i].Time))
		assert.Equal(t, want.Events[i].Attributes, got.Events[i].Attributes)
	}
	require.NotNil(t, got.Resource)
	assert.True(t, want.Resource.Equal(got.Resource))
}

func TestOTLPRoundTrip(t *testing.T) {
	rec := sampleRecord(testResource())

	data, err := Marshal([]tracing.Record{rec})
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assertSameRecord(t, rec, got[0])
}

func TestResourceSpansGroupsByResource(t *testing.T) {
	a, b := testResource(), resource.NewSchemaless(attribute.String("service.name", "billing"))
	recs := []tracing.Record{sampleRecord(a), sampleRecord(b), sampleRecord(a)}

	rss := ResourceSpans(recs)
	require.Len(t, rss, 2)
	assert.Len(t, rss[0].ScopeSpans[0].Spans, 2)
	assert.Len(t, rss[1].ScopeSpans[0].Spans, 1)
	assert.Equal(t, ScopeName, rss[0].ScopeSpans[0].Scope.Name)
}

func TestSpanProtoMapping(t *testing.T) {
	rec := sampleRecord(nil)
	rec.ParentSpanID = trace.SpanID{}
	rec.Status = tracing.Status{Code: codes.Ok}

	sp := ResourceSpans([]tracing.Record{rec})[0].ScopeSpans[0].Spans[0]
	assert.Empty(t, sp.ParentSpanId, "root spans carry no parent id")
	assert.Equal(t, tracepb.Span_SPAN_KIND_SERVER, sp.Kind)
	assert.Equal(t, tracepb.Status_STATUS_CODE_OK, sp.Status.Code)
	assert.Equal(t, uint64(rec.StartTime.UnixNano()), sp.StartTimeUnixNano)
}

func TestFromResourceSpansRejectsBadIDs(t *testing.T) {
	rss := []*tracepb.ResourceSpans{{
		ScopeSpans: []*tracepb.ScopeSpans{{
			Spans: []*tracepb.Span{{TraceId: []byte{1, 2, 3}, SpanId: make([]byte, 8), Name: "short"}},
		}},
	}}
	_, err := FromResourceSpans(rss)
	assert.Error(t, err)
}

func TestUnmarshalGarbage(t *testing.T) {
	_, err := Unmarshal([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}

func TestJSONRoundTrip(t *testing.T) {
	rec := sampleRecord(testResource())

	line, err := EncodeJSON(rec)
	require.NoError(t, err)
	assert.NotContains(t, string(line), "\n")

	got, err := DecodeJSON(line)
	require.NoError(t, err)
	assertSameRecord(t, rec, got)
}

func TestToJSONFields(t *testing.T) {
	rec := sampleRecord(nil)
	doc, err := ToJSON(rec)
	require.NoError(t, err)

	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", doc.TraceID)
	assert.Equal(t, "2122232425262728", doc.ParentSpanID)
	assert.Equal(t, "server", doc.Kind)
	assert.Equal(t, "Error", doc.Status.Code)
	assert.InDelta(t, 42.0, doc.DurationMS, 0.001)
	assert.Empty(t, doc.Resource)
}

func TestDecodeJSONErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json", `{`},
		{"bad trace id", `{"trace_id":"zz","span_id":"1112131415161718"}`},
		{"bad span id", `{"trace_id":"0102030405060708090a0b0c0d0e0f10","span_id":"00"}`},
		{"unknown attribute type", `{"trace_id":"0102030405060708090a0b0c0d0e0f10","span_id":"1112131415161718","attributes":[{"key":"k","type":"MAP","value":{}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJSON([]byte(tt.line))
			assert.Error(t, err)
		})
	}
}
