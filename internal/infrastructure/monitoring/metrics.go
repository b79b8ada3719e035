package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can take it as an optional dependency.
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestSize      *prometheus.HistogramVec
	ResponseSize     *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Span pipeline metrics
	SpansEnqueued  prometheus.Counter
	SpansDropped   *prometheus.CounterVec
	SpansExported  *prometheus.CounterVec
	ExportFailures *prometheus.CounterVec
	ExportDuration *prometheus.HistogramVec
	QueueDepth     prometheus.Gauge
	BreakerState   *prometheus.GaugeVec
	Degraded       prometheus.Gauge

	// Live feed metrics
	WSConnections prometheus.Gauge

	startTime time.Time
	snapshot  MetricsSnapshot
	mu        sync.RWMutex
}

// MetricsSnapshot holds current metric values for the JSON debug endpoint.
type MetricsSnapshot struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	TotalDuration  float64 `json:"total_duration_seconds"`
	SpansEnqueued  int64   `json:"spans_enqueued"`
	SpansDropped   int64   `json:"spans_dropped"`
	SpansExported  int64   `json:"spans_exported"`
	ExportFailures int64   `json:"export_failures"`
	QueueDepth     int64   `json:"queue_depth"`
	Degraded       bool    `json:"degraded"`
	WSConnections  int64   `json:"live_connections"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// NewMetrics registers all metrics with reg. Pass prometheus.NewRegistry()
// in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{startTime: time.Now()}

	m.RequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrace_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	m.RequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autotrace_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)
	m.RequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autotrace_http_request_size_bytes",
			Help:    "HTTP request size in bytes",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
		[]string{"method", "route"},
	)
	m.ResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autotrace_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
		[]string{"method", "route"},
	)
	m.RequestsInFlight = factory.NewGauge(prometheus.GaugeOpts{
		Name: "autotrace_http_requests_in_flight",
		Help: "HTTP requests currently being served",
	})

	m.SpansEnqueued = factory.NewCounter(prometheus.CounterOpts{
		Name: "autotrace_spans_enqueued_total",
		Help: "Ended spans accepted by the export queue",
	})
	m.SpansDropped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrace_spans_dropped_total",
			Help: "Spans dropped before reaching a sink",
		},
		[]string{"sink", "reason"},
	)
	m.SpansExported = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrace_spans_exported_total",
			Help: "Spans delivered to a sink",
		},
		[]string{"sink"},
	)
	m.ExportFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrace_export_failures_total",
			Help: "Batches a sink failed to accept after retries",
		},
		[]string{"sink"},
	)
	m.ExportDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autotrace_export_duration_seconds",
			Help:    "Time to deliver one batch to a sink, retries included",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"sink"},
	)
	m.QueueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Name: "autotrace_queue_depth",
		Help: "Spans waiting for the next flush",
	})
	m.BreakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "autotrace_sink_breaker_state",
			Help: "Sink circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"sink"},
	)
	m.Degraded = factory.NewGauge(prometheus.GaugeOpts{
		Name: "autotrace_degraded",
		Help: "1 when the network sink is unavailable and spans go to the local sink only",
	})

	m.WSConnections = factory.NewGauge(prometheus.GaugeOpts{
		Name: "autotrace_live_connections",
		Help: "Open live span feed connections",
	})

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "autotrace_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, route).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, route).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// SpanEnqueued counts a span accepted by the queue.
func (m *Metrics) SpanEnqueued() {
	if m == nil {
		return
	}
	m.SpansEnqueued.Inc()
	m.mu.Lock()
	m.snapshot.SpansEnqueued++
	m.mu.Unlock()
}

// SpansDroppedFor counts n spans dropped for sink ("*" for all sinks).
func (m *Metrics) SpansDroppedFor(sink, reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SpansDropped.WithLabelValues(sink, reason).Add(float64(n))
	m.mu.Lock()
	m.snapshot.SpansDropped += int64(n)
	m.mu.Unlock()
}

// RecordExport records the outcome of delivering n spans to sink.
func (m *Metrics) RecordExport(sink string, n int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.ExportDuration.WithLabelValues(sink).Observe(duration.Seconds())
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.ExportFailures.WithLabelValues(sink).Inc()
		m.snapshot.ExportFailures++
		return
	}
	m.SpansExported.WithLabelValues(sink).Add(float64(n))
	m.snapshot.SpansExported += int64(n)
}

// SetQueueDepth sets the current queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
	m.mu.Lock()
	m.snapshot.QueueDepth = int64(n)
	m.mu.Unlock()
}

// SetBreakerState publishes a sink breaker state.
func (m *Metrics) SetBreakerState(sink string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(sink).Set(float64(state))
}

// SetDegraded flags whether tracing runs on the local sink only.
func (m *Metrics) SetDegraded(degraded bool) {
	if m == nil {
		return
	}
	v := 0.0
	if degraded {
		v = 1
	}
	m.Degraded.Set(v)
	m.mu.Lock()
	m.snapshot.Degraded = degraded
	m.mu.Unlock()
}

// IncWSConnections increments live feed connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.WSConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements live feed connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.WSConnections--
	m.mu.Unlock()
}

// Snapshot returns the current values for the JSON endpoint.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
