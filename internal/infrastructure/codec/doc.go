// Package codec converts span records to and from their wire forms: OTLP
// protobuf for collectors and brokers, and typed JSON lines for consoles,
// streams and the live feed.
package codec
