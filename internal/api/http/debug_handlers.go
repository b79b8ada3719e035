package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/codec"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/sinks"
)

// TracingStatus reports whether tracing is degraded and where spans go
func (h *Handlers) TracingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.agent.Status())
}

// ListTraces queries the in-memory trace store
func (h *Handlers) ListTraces(c *gin.Context) {
	store := h.agent.Store()
	if store == nil {
		h.unavailable(c, "trace store")
		return
	}
	q, err := parseTraceQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	traces, total := store.QueryTraces(q)
	c.JSON(http.StatusOK, gin.H{
		"traces": traces,
		"total":  total,
		"limit":  q.Limit,
		"offset": q.Offset,
	})
}

// GetTrace returns one trace with all its spans
func (h *Handlers) GetTrace(c *gin.Context) {
	store := h.agent.Store()
	if store == nil {
		h.unavailable(c, "trace store")
		return
	}
	t, ok := store.GetTrace(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "trace not found"})
		return
	}

	spans := make([]codec.SpanJSON, 0, len(t.Spans))
	for _, rec := range t.Spans {
		s, err := codec.ToJSON(rec)
		if err != nil {
			h.fail(c, err)
			return
		}
		spans = append(spans, s)
	}
	c.JSON(http.StatusOK, gin.H{
		"trace": t,
		"spans": spans,
	})
}

// StreamSpans upgrades to the live span feed
func (h *Handlers) StreamSpans(c *gin.Context) {
	h.agent.Live().ServeHTTP(c.Writer, c.Request)
}

// FlushSpans exports everything queued so far
func (h *Handlers) FlushSpans(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	if err := h.agent.ForceFlush(ctx); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.agent.Status().Pipeline)
}

func parseTraceQuery(c *gin.Context) (sinks.TraceQuery, error) {
	q := sinks.TraceQuery{
		ServiceName:   c.Query("service"),
		OperationName: c.Query("operation"),
		ErrorsOnly:    c.Query("errors") == "true",
	}
	var err error
	if q.Limit, err = intQuery(c, "limit", 20); err != nil {
		return q, errBadParam("limit")
	}
	if q.Offset, err = intQuery(c, "offset", 0); err != nil {
		return q, errBadParam("offset")
	}
	for key, dst := range map[string]*time.Duration{"min_duration": &q.MinDuration, "max_duration": &q.MaxDuration} {
		if raw := c.Query(key); raw != "" {
			if *dst, err = time.ParseDuration(raw); err != nil {
				return q, errBadParam(key)
			}
		}
	}
	for key, dst := range map[string]*time.Time{"start": &q.StartTime, "end": &q.EndTime} {
		if raw := c.Query(key); raw != "" {
			if *dst, err = time.Parse(time.RFC3339, raw); err != nil {
				return q, errBadParam(key)
			}
		}
	}
	for _, tag := range c.QueryArray("tag") {
		k, v, ok := strings.Cut(tag, ":")
		if !ok {
			return q, errBadParam("tag")
		}
		if q.Tags == nil {
			q.Tags = make(map[string]string)
		}
		q.Tags[k] = v
	}
	return q, nil
}

type errBadParam string

func (e errBadParam) Error() string {
	return "invalid query parameter " + strconv.Quote(string(e))
}
