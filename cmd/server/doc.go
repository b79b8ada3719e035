// Package main is the entry point of the instrumented demo host.
//
// The host serves a small users API backed by a SQL store and a proxy to an
// external todo API. Every inbound request, query and outbound call is
// traced; spans are exported over OTLP/gRPC when the collector is reachable
// and to the console otherwise.
//
// Configuration:
//   - Environment variables (12-factor)
//   - Optional YAML or TOML file (-config)
//   - CLI flags (override both)
//
// Usage:
//
//	# Export to a local collector
//	./server -port 8000 -endpoint localhost:4317 -service-name demo
//
//	# Development mode (colored logs, debug level, console spans)
//	./server -dev -debug
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown, queued spans are flushed
package main
