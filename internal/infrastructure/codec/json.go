package codec

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

// SpanJSON is the line-oriented JSON form of a record. Attribute values
// carry their type so a decode restores the exact attribute kind.
type SpanJSON struct {
	TraceID      string      `json:"trace_id"`
	SpanID       string      `json:"span_id"`
	ParentSpanID string      `json:"parent_span_id,omitempty"`
	Name         string      `json:"name"`
	Kind         string      `json:"kind"`
	StartTime    time.Time   `json:"start_time"`
	EndTime      time.Time   `json:"end_time"`
	DurationMS   float64     `json:"duration_ms"`
	Attributes   []AttrJSON  `json:"attributes,omitempty"`
	Events       []EventJSON `json:"events,omitempty"`
	Status       StatusJSON  `json:"status"`
	Resource     []AttrJSON  `json:"resource,omitempty"`
}

// AttrJSON is a typed attribute.
type AttrJSON struct {
	Key   string          `json:"key"`
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// EventJSON is a span event.
type EventJSON struct {
	Name       string     `json:"name"`
	Time       time.Time  `json:"time"`
	Attributes []AttrJSON `json:"attributes,omitempty"`
}

// StatusJSON is a span status.
type StatusJSON struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

// ToJSON converts a record to its JSON form.
func ToJSON(rec tracing.Record) (SpanJSON, error) {
	out := SpanJSON{
		TraceID:    rec.TraceID.String(),
		SpanID:     rec.SpanID.String(),
		Name:       rec.Name,
		Kind:       rec.Kind.String(),
		StartTime:  rec.StartTime,
		EndTime:    rec.EndTime,
		DurationMS: tracing.Milliseconds(rec.Duration()),
		Status:     StatusJSON{Code: rec.Status.Code.String(), Description: rec.Status.Description},
	}
	if rec.ParentSpanID.IsValid() {
		out.ParentSpanID = rec.ParentSpanID.String()
	}

	var err error
	if out.Attributes, err = attrsJSON(rec.Attributes); err != nil {
		return out, err
	}
	for _, ev := range rec.Events {
		attrs, err := attrsJSON(ev.Attributes)
		if err != nil {
			return out, err
		}
		out.Events = append(out.Events, EventJSON{Name: ev.Name, Time: ev.Time, Attributes: attrs})
	}
	if rec.Resource != nil {
		if out.Resource, err = attrsJSON(rec.Resource.Attributes()); err != nil {
			return out, err
		}
	}
	return out, nil
}

// FromJSON converts the JSON form back to a record.
func FromJSON(in SpanJSON) (tracing.Record, error) {
	var rec tracing.Record
	var err error
	if rec.TraceID, err = trace.TraceIDFromHex(in.TraceID); err != nil {
		return rec, fmt.Errorf("trace_id %q: %w", in.TraceID, err)
	}
	if rec.SpanID, err = trace.SpanIDFromHex(in.SpanID); err != nil {
		return rec, fmt.Errorf("span_id %q: %w", in.SpanID, err)
	}
	if in.ParentSpanID != "" {
		if rec.ParentSpanID, err = trace.SpanIDFromHex(in.ParentSpanID); err != nil {
			return rec, fmt.Errorf("parent_span_id %q: %w", in.ParentSpanID, err)
		}
	}

	rec.Name = in.Name
	rec.Kind = parseKind(in.Kind)
	rec.StartTime = in.StartTime
	rec.EndTime = in.EndTime
	rec.Status = tracing.Status{Code: parseCode(in.Status.Code), Description: in.Status.Description}

	if rec.Attributes, err = attrsFromJSON(in.Attributes); err != nil {
		return rec, err
	}
	for _, ev := range in.Events {
		attrs, err := attrsFromJSON(ev.Attributes)
		if err != nil {
			return rec, err
		}
		rec.Events = append(rec.Events, tracing.Event{Name: ev.Name, Time: ev.Time, Attributes: attrs})
	}
	if len(in.Resource) > 0 {
		attrs, err := attrsFromJSON(in.Resource)
		if err != nil {
			return rec, err
		}
		rec.Resource = resource.NewSchemaless(attrs...)
	}
	return rec, nil
}

// EncodeJSON renders a record as a single JSON line without the trailing
// newline.
func EncodeJSON(rec tracing.Record) ([]byte, error) {
	doc, err := ToJSON(rec)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(doc)
}

// DecodeJSON parses a line written by EncodeJSON.
func DecodeJSON(data []byte) (tracing.Record, error) {
	var doc SpanJSON
	if err := sonic.Unmarshal(data, &doc); err != nil {
		return tracing.Record{}, fmt.Errorf("decode span json: %w", err)
	}
	return FromJSON(doc)
}

func attrsJSON(kvs []attribute.KeyValue) ([]AttrJSON, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make([]AttrJSON, 0, len(kvs))
	for _, kv := range kvs {
		raw, err := sonic.Marshal(kv.Value.AsInterface())
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", kv.Key, err)
		}
		out = append(out, AttrJSON{Key: string(kv.Key), Type: kv.Value.Type().String(), Value: raw})
	}
	return out, nil
}

func attrsFromJSON(in []AttrJSON) ([]attribute.KeyValue, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]attribute.KeyValue, 0, len(in))
	for _, a := range in {
		v, err := valueFromJSON(a)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", a.Key, err)
		}
		out = append(out, attribute.KeyValue{Key: attribute.Key(a.Key), Value: v})
	}
	return out, nil
}

func valueFromJSON(a AttrJSON) (attribute.Value, error) {
	switch a.Type {
	case attribute.BOOL.String():
		var v bool
		err := sonic.Unmarshal(a.Value, &v)
		return attribute.BoolValue(v), err
	case attribute.INT64.String():
		var v int64
		err := sonic.Unmarshal(a.Value, &v)
		return attribute.Int64Value(v), err
	case attribute.FLOAT64.String():
		var v float64
		err := sonic.Unmarshal(a.Value, &v)
		return attribute.Float64Value(v), err
	case attribute.STRING.String():
		var v string
		err := sonic.Unmarshal(a.Value, &v)
		return attribute.StringValue(v), err
	case attribute.BOOLSLICE.String():
		var v []bool
		err := sonic.Unmarshal(a.Value, &v)
		return attribute.BoolSliceValue(v), err
	case attribute.INT64SLICE.String():
		var v []int64
		err := sonic.Unmarshal(a.Value, &v)
		return attribute.Int64SliceValue(v), err
	case attribute.FLOAT64SLICE.String():
		var v []float64
		err := sonic.Unmarshal(a.Value, &v)
		return attribute.Float64SliceValue(v), err
	case attribute.STRINGSLICE.String():
		var v []string
		err := sonic.Unmarshal(a.Value, &v)
		return attribute.StringSliceValue(v), err
	default:
		return attribute.Value{}, fmt.Errorf("unknown type %q", a.Type)
	}
}

func parseKind(s string) trace.SpanKind {
	switch strings.ToLower(s) {
	case "internal":
		return trace.SpanKindInternal
	case "server":
		return trace.SpanKindServer
	case "client":
		return trace.SpanKindClient
	case "producer":
		return trace.SpanKindProducer
	case "consumer":
		return trace.SpanKindConsumer
	default:
		return trace.SpanKindUnspecified
	}
}

func parseCode(s string) codes.Code {
	switch s {
	case codes.Ok.String():
		return codes.Ok
	case codes.Error.String():
		return codes.Error
	default:
		return codes.Unset
	}
}
