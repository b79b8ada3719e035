// Package demo is a minimal host application used to exercise tracing end
// to end: a users store behind the traced database handle and a todo client
// behind the traced HTTP client.
//
// The store runs on sqlite (modernc.org/sqlite, no cgo) by default and on
// Postgres (lib/pq) when the driver is "postgres". Queries are written with
// "?" placeholders and rebound for Postgres.
package demo
