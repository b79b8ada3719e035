/*
Package export moves ended spans from the request path to sinks.

Pipeline implements tracing.Exporter. Export appends to a bounded queue
under a mutex and returns; a single loop goroutine flushes when the queue
reaches BatchSize or when the oldest queued span has waited MaxDelay.

Every sink has its own worker goroutine, backlog, circuit breaker and
retry budget, so a slow or failing sink only loses its own batches:

	queue ──flush──▶ [otlp backlog]  ─▶ breaker ─▶ retry ─▶ otlp
	               ╰▶ [console backlog] ─▶ breaker ─▶ retry ─▶ console

Memory is bounded by QueueSize spans plus SinkBuffer batches per sink.
Anything beyond that is dropped and counted, never blocked on.
*/
package export
