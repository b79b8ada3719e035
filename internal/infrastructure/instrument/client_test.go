package instrument

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

func TestTransportRecordsClientSpan(t *testing.T) {
	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		w.Header().Set("Content-Length", "2")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	tracer, rec := newTestTracer()
	client := &http.Client{Transport: NewTransport(nil, tracer)}

	parent, ctx := tracer.StartSpan(context.Background(), "request")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/todos/1?x=y", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	parent.End()

	span := rec.byName(t, "HTTP GET")
	assert.Equal(t, trace.SpanKindClient, span.Kind)
	assert.Equal(t, parent.SpanID(), span.ParentSpanID)
	assert.Equal(t, codes.Ok, span.Status.Code)
	assert.Equal(t, int64(200), attr(t, span, tracing.AttrHTTPStatusCode).AsInt64())
	assert.Equal(t, "/todos/1?x=y", attr(t, span, tracing.AttrHTTPTarget).AsString())
	assert.Equal(t, strings.TrimPrefix(srv.URL, "http://"), attr(t, span, tracing.AttrHTTPHost).AsString())
	assert.Equal(t, int64(2), attr(t, span, tracing.AttrHTTPResponseSize).AsInt64())
	assert.GreaterOrEqual(t, attr(t, span, tracing.AttrHTTPDurationMS).AsFloat64(), 0.0)

	assert.Equal(t, "00-"+span.TraceID.String()+"-"+span.SpanID.String()+"-01", traceparent)
}

func TestTransportErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tracer, rec := newTestTracer()
	client := &http.Client{Transport: NewTransport(nil, tracer)}
	resp, err := client.Post(srv.URL, "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()

	span := rec.only(t)
	assert.Equal(t, "HTTP POST", span.Name)
	assert.Equal(t, codes.Error, span.Status.Code)
	assert.Equal(t, "HTTP status code: 502", span.Status.Description)
}

func TestTransportConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tracer, rec := newTestTracer()
	client := &http.Client{Transport: NewTransport(nil, tracer)}
	_, err := client.Get(url)
	require.Error(t, err)

	span := rec.only(t)
	assert.Equal(t, codes.Error, span.Status.Code)
	assert.True(t, hasException(span))
	_, ok := span.Attribute(tracing.AttrHTTPStatusCode)
	assert.False(t, ok)
}

func TestTransportWithoutPropagation(t *testing.T) {
	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
	}))
	defer srv.Close()

	tracer, _ := newTestTracer()
	client := &http.Client{Transport: NewTransport(nil, tracer, WithPropagation(false))}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, traceparent)
}

func TestNewHTTPClient(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":1,"title":"write tests"}`))
	}))
	defer srv.Close()

	tracer, rec := newTestTracer()
	client := NewHTTPClient(tracer, ClientConfig{BaseURL: srv.URL, Timeout: 2 * time.Second})

	var out struct {
		ID    int    `json:"id"`
		Title string `json:"title"`
	}
	resp, err := client.R().SetContext(context.Background()).SetResult(&out).Get("/todos/1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "write tests", out.Title)
	assert.Equal(t, 1, attempts)

	span := rec.only(t)
	assert.Equal(t, "HTTP GET", span.Name)
	assert.Equal(t, "/todos/1", attr(t, span, tracing.AttrHTTPTarget).AsString())
}
