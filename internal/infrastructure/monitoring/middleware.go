package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection. Requests are
// labelled by route template to keep label cardinality bounded.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metrics == nil {
			c.Next()
			return
		}

		start := time.Now()
		method := c.Request.Method

		reqSize := c.Request.ContentLength
		if reqSize < 0 {
			reqSize = 0
		}

		metrics.RequestsInFlight.Inc()
		defer metrics.RequestsInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		duration := time.Since(start)
		status := strconv.Itoa(c.Writer.Status())
		respSize := int64(c.Writer.Size())
		if respSize < 0 {
			respSize = 0
		}

		metrics.RecordHTTPRequest(method, route, status, duration, reqSize, respSize)
	}
}

// Timer measures one batch delivery.
type Timer struct {
	start   time.Time
	metrics *Metrics
	sink    string
}

// NewTimer creates a new timer
func NewTimer(metrics *Metrics, sink string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		sink:    sink,
	}
}

// Stop records the delivery of n spans and returns the elapsed time.
func (t *Timer) Stop(n int, err error) time.Duration {
	d := time.Since(t.start)
	t.metrics.RecordExport(t.sink, n, d, err)
	return d
}
