package codec

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"
	collectortracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

const (
	// ScopeName identifies this instrumentation in exported spans.
	ScopeName = "github.com/GriffinCanCode/autotrace"
	// ScopeVersion is reported alongside ScopeName.
	ScopeVersion = "1.0.0"
)

// ResourceSpans groups records by resource, preserving first-seen order.
func ResourceSpans(records []tracing.Record) []*tracepb.ResourceSpans {
	var out []*tracepb.ResourceSpans
	scopes := make(map[*resource.Resource]*tracepb.ScopeSpans)

	for i := range records {
		rec := &records[i]
		ss, ok := scopes[rec.Resource]
		if !ok {
			ss = &tracepb.ScopeSpans{
				Scope: &commonpb.InstrumentationScope{Name: ScopeName, Version: ScopeVersion},
			}
			rs := &tracepb.ResourceSpans{
				Resource:   resourceProto(rec.Resource),
				ScopeSpans: []*tracepb.ScopeSpans{ss},
			}
			if rec.Resource != nil {
				rs.SchemaUrl = rec.Resource.SchemaURL()
			}
			scopes[rec.Resource] = ss
			out = append(out, rs)
		}
		ss.Spans = append(ss.Spans, spanProto(rec))
	}
	return out
}

// Request wraps records in a collector export request.
func Request(records []tracing.Record) *collectortracepb.ExportTraceServiceRequest {
	return &collectortracepb.ExportTraceServiceRequest{ResourceSpans: ResourceSpans(records)}
}

// Marshal encodes records as a serialized export request.
func Marshal(records []tracing.Record) ([]byte, error) {
	return proto.Marshal(Request(records))
}

// Unmarshal decodes a serialized export request.
func Unmarshal(data []byte) ([]tracing.Record, error) {
	var req collectortracepb.ExportTraceServiceRequest
	if err := proto.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode export request: %w", err)
	}
	return FromResourceSpans(req.GetResourceSpans())
}

// FromResourceSpans converts OTLP spans back to records. Spans sharing a
// ResourceSpans entry share one *resource.Resource.
func FromResourceSpans(rss []*tracepb.ResourceSpans) ([]tracing.Record, error) {
	var out []tracing.Record
	for _, rs := range rss {
		res := resourceFromProto(rs.GetResource(), rs.GetSchemaUrl())
		for _, ss := range rs.GetScopeSpans() {
			for _, sp := range ss.GetSpans() {
				rec, err := recordFromProto(sp)
				if err != nil {
					return nil, err
				}
				rec.Resource = res
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

func spanProto(rec *tracing.Record) *tracepb.Span {
	tid, sid := rec.TraceID, rec.SpanID
	sp := &tracepb.Span{
		TraceId:           tid[:],
		SpanId:            sid[:],
		Name:              rec.Name,
		Kind:              tracepb.Span_SpanKind(rec.Kind),
		StartTimeUnixNano: unixNano(rec.StartTime),
		EndTimeUnixNano:   unixNano(rec.EndTime),
		Attributes:        KeyValues(rec.Attributes),
		Status: &tracepb.Status{
			Code:    statusProto(rec.Status.Code),
			Message: rec.Status.Description,
		},
	}
	if rec.ParentSpanID.IsValid() {
		pid := rec.ParentSpanID
		sp.ParentSpanId = pid[:]
	}
	for _, ev := range rec.Events {
		sp.Events = append(sp.Events, &tracepb.Span_Event{
			Name:         ev.Name,
			TimeUnixNano: unixNano(ev.Time),
			Attributes:   KeyValues(ev.Attributes),
		})
	}
	return sp
}

func recordFromProto(sp *tracepb.Span) (tracing.Record, error) {
	var rec tracing.Record
	if len(sp.GetTraceId()) != len(rec.TraceID) {
		return rec, fmt.Errorf("span %q: trace id has %d bytes", sp.GetName(), len(sp.GetTraceId()))
	}
	if len(sp.GetSpanId()) != len(rec.SpanID) {
		return rec, fmt.Errorf("span %q: span id has %d bytes", sp.GetName(), len(sp.GetSpanId()))
	}
	copy(rec.TraceID[:], sp.GetTraceId())
	copy(rec.SpanID[:], sp.GetSpanId())
	switch n := len(sp.GetParentSpanId()); n {
	case 0:
	case len(rec.ParentSpanID):
		copy(rec.ParentSpanID[:], sp.GetParentSpanId())
	default:
		return rec, fmt.Errorf("span %q: parent span id has %d bytes", sp.GetName(), n)
	}

	rec.Name = sp.GetName()
	rec.Kind = trace.SpanKind(sp.GetKind())
	rec.StartTime = fromUnixNano(sp.GetStartTimeUnixNano())
	rec.EndTime = fromUnixNano(sp.GetEndTimeUnixNano())
	rec.Attributes = FromKeyValues(sp.GetAttributes())
	rec.Status = tracing.Status{
		Code:        statusFromProto(sp.GetStatus().GetCode()),
		Description: sp.GetStatus().GetMessage(),
	}
	for _, ev := range sp.GetEvents() {
		rec.Events = append(rec.Events, tracing.Event{
			Name:       ev.GetName(),
			Time:       fromUnixNano(ev.GetTimeUnixNano()),
			Attributes: FromKeyValues(ev.GetAttributes()),
		})
	}
	return rec, nil
}

func resourceProto(res *resource.Resource) *resourcepb.Resource {
	if res == nil {
		return &resourcepb.Resource{}
	}
	return &resourcepb.Resource{Attributes: KeyValues(res.Attributes())}
}

func resourceFromProto(res *resourcepb.Resource, schemaURL string) *resource.Resource {
	attrs := FromKeyValues(res.GetAttributes())
	if schemaURL == "" {
		return resource.NewSchemaless(attrs...)
	}
	return resource.NewWithAttributes(schemaURL, attrs...)
}

// otel codes order Unset, Error, Ok; OTLP orders Unset, Ok, Error.
func statusProto(c codes.Code) tracepb.Status_StatusCode {
	switch c {
	case codes.Ok:
		return tracepb.Status_STATUS_CODE_OK
	case codes.Error:
		return tracepb.Status_STATUS_CODE_ERROR
	default:
		return tracepb.Status_STATUS_CODE_UNSET
	}
}

func statusFromProto(c tracepb.Status_StatusCode) codes.Code {
	switch c {
	case tracepb.Status_STATUS_CODE_OK:
		return codes.Ok
	case tracepb.Status_STATUS_CODE_ERROR:
		return codes.Error
	default:
		return codes.Unset
	}
}

// KeyValues converts attributes to their OTLP form.
func KeyValues(kvs []attribute.KeyValue) []*commonpb.KeyValue {
	if len(kvs) == 0 {
		return nil
	}
	out := make([]*commonpb.KeyValue, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, &commonpb.KeyValue{Key: string(kv.Key), Value: anyValue(kv.Value)})
	}
	return out
}

// FromKeyValues converts OTLP attributes back. Unsupported value kinds
// (maps, bytes) are rendered as strings.
func FromKeyValues(kvs []*commonpb.KeyValue) []attribute.KeyValue {
	if len(kvs) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, attribute.KeyValue{Key: attribute.Key(kv.GetKey()), Value: valueFromAny(kv.GetValue())})
	}
	return out
}

func anyValue(v attribute.Value) *commonpb.AnyValue {
	switch v.Type() {
	case attribute.BOOL:
		return boolValue(v.AsBool())
	case attribute.INT64:
		return intValue(v.AsInt64())
	case attribute.FLOAT64:
		return doubleValue(v.AsFloat64())
	case attribute.STRING:
		return stringValue(v.AsString())
	case attribute.BOOLSLICE:
		return arrayOf(v.AsBoolSlice(), boolValue)
	case attribute.INT64SLICE:
		return arrayOf(v.AsInt64Slice(), intValue)
	case attribute.FLOAT64SLICE:
		return arrayOf(v.AsFloat64Slice(), doubleValue)
	case attribute.STRINGSLICE:
		return arrayOf(v.AsStringSlice(), stringValue)
	default:
		return stringValue(v.Emit())
	}
}

func boolValue(b bool) *commonpb.AnyValue {
	return &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: b}}
}

func intValue(i int64) *commonpb.AnyValue {
	return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: i}}
}

func doubleValue(f float64) *commonpb.AnyValue {
	return &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: f}}
}

func stringValue(s string) *commonpb.AnyValue {
	return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: s}}
}

func arrayOf[T any](vs []T, conv func(T) *commonpb.AnyValue) *commonpb.AnyValue {
	arr := &commonpb.ArrayValue{Values: make([]*commonpb.AnyValue, 0, len(vs))}
	for _, v := range vs {
		arr.Values = append(arr.Values, conv(v))
	}
	return &commonpb.AnyValue{Value: &commonpb.AnyValue_ArrayValue{ArrayValue: arr}}
}

func valueFromAny(v *commonpb.AnyValue) attribute.Value {
	switch x := v.GetValue().(type) {
	case *commonpb.AnyValue_BoolValue:
		return attribute.BoolValue(x.BoolValue)
	case *commonpb.AnyValue_IntValue:
		return attribute.Int64Value(x.IntValue)
	case *commonpb.AnyValue_DoubleValue:
		return attribute.Float64Value(x.DoubleValue)
	case *commonpb.AnyValue_StringValue:
		return attribute.StringValue(x.StringValue)
	case *commonpb.AnyValue_ArrayValue:
		return arrayFromAny(x.ArrayValue.GetValues())
	case *commonpb.AnyValue_BytesValue:
		return attribute.StringValue(fmt.Sprintf("%x", x.BytesValue))
	case nil:
		return attribute.StringValue("")
	default:
		return attribute.StringValue(v.String())
	}
}

// arrayFromAny takes the element type from the first element; OTLP arrays
// may be heterogeneous but attribute slices may not.
func arrayFromAny(vs []*commonpb.AnyValue) attribute.Value {
	if len(vs) == 0 {
		return attribute.StringSliceValue(nil)
	}
	switch vs[0].GetValue().(type) {
	case *commonpb.AnyValue_BoolValue:
		out := make([]bool, len(vs))
		for i, v := range vs {
			out[i] = v.GetBoolValue()
		}
		return attribute.BoolSliceValue(out)
	case *commonpb.AnyValue_IntValue:
		out := make([]int64, len(vs))
		for i, v := range vs {
			out[i] = v.GetIntValue()
		}
		return attribute.Int64SliceValue(out)
	case *commonpb.AnyValue_DoubleValue:
		out := make([]float64, len(vs))
		for i, v := range vs {
			out[i] = v.GetDoubleValue()
		}
		return attribute.Float64SliceValue(out)
	default:
		out := make([]string, len(vs))
		for i, v := range vs {
			out[i] = valueFromAny(v).Emit()
		}
		return attribute.StringSliceValue(out)
	}
}

func unixNano(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano())
}

func fromUnixNano(n uint64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(n)).UTC()
}
