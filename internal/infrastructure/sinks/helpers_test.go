package sinks

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/autotrace/internal/shared/id"
)

var testResource = resource.NewSchemaless(attribute.String("service.name", "checkout"))

// span builds a finished record; a zero parent makes it a root.
func span(tid trace.TraceID, parent trace.SpanID, name string, start time.Time, d time.Duration) tracing.Record {
	return tracing.Record{
		TraceID:      tid,
		SpanID:       id.NewSpanID(),
		ParentSpanID: parent,
		Name:         name,
		Kind:         trace.SpanKindServer,
		StartTime:    start,
		EndTime:      start.Add(d),
		Attributes:   []attribute.KeyValue{attribute.String("http.method", "GET")},
		Status:       tracing.Status{Code: codes.Ok},
		Resource:     testResource,
	}
}
