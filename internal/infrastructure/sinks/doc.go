// Package sinks holds the destinations the export pipeline delivers batches
// to. Every sink satisfies export.Sink; each is invoked by its own pipeline
// worker, so ExportBatch only needs to be safe against Shutdown.
//
// Available sinks:
//   - Console: span summaries to a zap logger or JSON lines to a writer
//   - OTLP: an OpenTelemetry collector over gRPC
//   - Deferred: an OTLP sink activated lazily once the endpoint answers
//   - Kafka: one message per trace, protobuf encoded, keyed by trace id
//   - Redis: one stream entry per span
//   - Store: a bounded in-memory trace index for debugging
//   - Live: a WebSocket fan-out of finished spans
package sinks
