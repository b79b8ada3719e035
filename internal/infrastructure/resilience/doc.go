/*
Package resilience provides the circuit breaker and bounded retry used to
deliver span batches to sinks.

# Overview

Each sink gets its own breaker, so a collector that is down fails fast
instead of holding batches while the other sinks keep receiving data.
Retry wraps cenkalti/backoff with a hard cap on attempts.

# Behavior

A breaker opens after ReadyToTrip approves the counts of a failed export.
While open it rejects exports with ErrCircuitOpen; the pipeline counts those
batches as dropped for that sink. After Timeout it lets MaxRequests trial
exports through and closes once they all succeed. Errors marked Permanent
are not retried and IsFailure can keep them from tripping the breaker.

# Usage

	// Create a circuit breaker
	breaker := resilience.New("otlp", resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("sink breaker", zap.String("sink", name), zap.Stringer("to", to))
		},
	})

	// Execute request through breaker, retrying twice
	err := breaker.Execute(func() error {
		return resilience.Retry(ctx, resilience.RetryPolicy{MaxRetries: 2, Backoff: 100 * time.Millisecond},
			func(ctx context.Context) error { return sink.ExportBatch(ctx, batch) })
	})

# States

- Closed: Normal operation, requests pass through
- Open: Service unavailable, requests fail immediately
- Half-Open: Testing if service recovered, limited requests allowed

# Pattern

The circuit breaker transitions between states based on success/failure rates:

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
