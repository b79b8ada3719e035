package instrument

import (
	"fmt"

	"go.opentelemetry.io/otel/codes"
)

type config struct {
	propagate bool
	dbSystem  string
}

// Option configures an interception point.
type Option func(*config)

// WithPropagation controls whether W3C trace context is read from inbound
// requests and written to outbound ones. It is on by default.
func WithPropagation(on bool) Option {
	return func(c *config) { c.propagate = on }
}

// WithDBSystem overrides the db.system attribute derived from the driver
// name.
func WithDBSystem(system string) Option {
	return func(c *config) { c.dbSystem = system }
}

func newConfig(opts []Option) *config {
	c := &config{propagate: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// httpStatus maps a response code to a span status: 2xx and 3xx succeed,
// everything else is an error.
func httpStatus(code int) (codes.Code, string) {
	if code >= 200 && code < 400 {
		return codes.Ok, ""
	}
	return codes.Error, fmt.Sprintf("HTTP status code: %d", code)
}

func panicMessage(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(v)
}
