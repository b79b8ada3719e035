package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/config"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/logging"
)

type upstream struct {
	mu           sync.Mutex
	traceparents []string
}

func (u *upstream) last() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.traceparents) == 0 {
		return ""
	}
	return u.traceparents[len(u.traceparents)-1]
}

func newTestServer(t *testing.T) (*Server, *upstream) {
	t.Helper()
	up := &upstream{}
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up.mu.Lock()
		up.traceparents = append(up.traceparents, r.Header.Get("traceparent"))
		up.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"userId":1,"title":"write tests","completed":false}]`))
	}))
	t.Cleanup(api.Close)

	cfg := config.Default()
	cfg.Tracing.ServiceName = "demo-host"
	cfg.Tracing.Endpoint = ""
	cfg.Tracing.Console = false
	cfg.Tracing.MaxDelay = 10 * time.Millisecond
	cfg.Database.DSN = ":memory:"
	cfg.Demo.TodoAPIURL = api.URL
	cfg.Demo.Timeout = 2 * time.Second

	srv, err := NewServer(context.Background(), cfg, WithLogger(logging.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, up
}

func do(t *testing.T, srv *Server, method, target string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

type traceList struct {
	Traces []struct {
		TraceID       string `json:"trace_id"`
		RootService   string `json:"root_service"`
		RootOperation string `json:"root_operation"`
		SpanCount     int    `json:"span_count"`
		Error         bool   `json:"error"`
	} `json:"traces"`
	Total int `json:"total"`
}

type traceDetail struct {
	Spans []struct {
		TraceID      string `json:"trace_id"`
		SpanID       string `json:"span_id"`
		ParentSpanID string `json:"parent_span_id"`
		Name         string `json:"name"`
		Kind         string `json:"kind"`
	} `json:"spans"`
}

func flush(t *testing.T, srv *Server) {
	t.Helper()
	require.NoError(t, srv.Agent().ForceFlush(context.Background()))
}

func TestUserRequestProducesServerAndDatabaseSpans(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/users", map[string]string{
		"username": "ada", "email": "ada@example.com", "password": "pw",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		ID int64 `json:"id"`
	}
	decode(t, w, &created)

	w = do(t, srv, http.MethodGet, "/users/1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	flush(t, srv)

	var list traceList
	w = do(t, srv, http.MethodGet, "/debug/traces?operation="+url.QueryEscape("GET /users/:id"), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	require.Len(t, list.Traces, 1)
	assert.Equal(t, "demo-host", list.Traces[0].RootService)
	assert.GreaterOrEqual(t, list.Traces[0].SpanCount, 2)

	var detail traceDetail
	w = do(t, srv, http.MethodGet, "/debug/traces/"+list.Traces[0].TraceID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &detail)

	var rootID string
	for _, s := range detail.Spans {
		if s.Name == "GET /users/:id" {
			rootID = s.SpanID
			assert.Equal(t, "server", s.Kind)
			assert.Empty(t, s.ParentSpanID)
		}
	}
	require.NotEmpty(t, rootID)
	var selects int
	for _, s := range detail.Spans {
		if s.Name == "SELECT" {
			selects++
			assert.Equal(t, rootID, s.ParentSpanID)
		}
	}
	assert.Equal(t, 1, selects)
}

func TestInboundTraceparentIsContinued(t *testing.T) {
	srv, up := newTestServer(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	w := do(t, srv, http.MethodGet, "/external/todos", nil, http.Header{
		"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, strings.HasPrefix(up.last(), "00-"+traceID+"-"), up.last())
	flush(t, srv)

	var detail traceDetail
	w = do(t, srv, http.MethodGet, "/debug/traces/"+traceID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &detail)

	names := map[string]string{}
	for _, s := range detail.Spans {
		names[s.Name] = s.ParentSpanID
	}
	assert.Equal(t, "00f067aa0ba902b7", names["GET /external/todos"])
	assert.Contains(t, names, "HTTP GET")
}

func TestErrorResponsesMarkTraces(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, http.MethodGet, "/users/99", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, srv, http.MethodGet, "/users/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	flush(t, srv)

	var list traceList
	w = do(t, srv, http.MethodGet, "/debug/traces?errors=true", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	assert.Equal(t, 2, list.Total)
	for _, tr := range list.Traces {
		assert.True(t, tr.Error)
	}

	w = do(t, srv, http.MethodGet, "/debug/traces?min_duration=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, srv, http.MethodGet, "/debug/traces/00000000000000000000000000000001", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTracingStatusHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	var status struct {
		Service  string   `json:"service"`
		Degraded bool     `json:"degraded"`
		Sinks    []string `json:"sinks"`
	}
	w := do(t, srv, http.MethodGet, "/debug/tracing", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &status)
	assert.Equal(t, "demo-host", status.Service)
	assert.False(t, status.Degraded)
	assert.Equal(t, []string{"memory", "live"}, status.Sinks)

	var health struct {
		Status   string `json:"status"`
		Database struct {
			Connected bool `json:"connected"`
		} `json:"database"`
	}
	w = do(t, srv, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.True(t, health.Database.Connected)

	w = do(t, srv, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `autotrace_http_requests_total{method="GET",route="/health",status="200"} 1`)
	assert.Contains(t, w.Body.String(), "autotrace_degraded 0")

	w = do(t, srv, http.MethodPost, "/debug/flush", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
