// Package instrument provides the interception points that wrap host
// operations in spans: inbound HTTP (net/http and Gin), outbound HTTP,
// database/sql statements and gRPC calls.
//
// Every wrapper follows the same shape: start a child of the span in the
// context, capture attributes before the call, run it, capture the outcome,
// and end the span on every exit path. Errors and panics from the wrapped
// operation are recorded and then returned or re-panicked unchanged.
package instrument
