/*
Package monitoring provides Prometheus metrics for the host server and the
span export pipeline.

# Overview

Metrics are registered on an injected prometheus.Registerer. A nil
*Metrics records nothing, so the pipeline and sinks take it as optional.

# Metrics

- HTTP request count, latency and sizes by route template
- Spans enqueued, dropped (by sink and reason) and exported per sink
- Batch delivery latency and failures per sink
- Queue depth, per-sink breaker state, degraded flag
- Live feed connections and process uptime

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(monitoring.Handler(reg)))

	timer := monitoring.NewTimer(metrics, "otlp")
	err := sink.ExportBatch(ctx, batch)
	timer.Stop(len(batch), err)
*/
package monitoring
