package instrument

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

// Middleware wraps a net/http handler so every request runs inside a
// SERVER span. When the handler is a ServeMux the matched pattern becomes
// the route.
func Middleware(tracer *tracing.Tracer, opts ...Option) func(http.Handler) http.Handler {
	cfg := newConfig(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			span, ctx := startServerSpan(tracer, cfg, r, remoteIP(r.RemoteAddr))
			r = r.WithContext(ctx)

			rec := &responseCapture{}
			ww := rec.wrap(w)
			start := time.Now()

			defer func() {
				if v := recover(); v != nil {
					failServerSpan(span, r, rec.outcome(r, start), v)
					panic(v)
				}
			}()

			next.ServeHTTP(ww, r)
			out := rec.outcome(r, start)
			if out.status == 0 {
				out.status = http.StatusOK
			}
			finishServerSpan(span, r, out)
		})
	}
}

// responseCapture observes the status code and body size through
// httpsnoop so the wrapped writer keeps its optional interfaces.
type responseCapture struct {
	status  int
	written int64
}

func (c *responseCapture) wrap(w http.ResponseWriter) http.ResponseWriter {
	return httpsnoop.Wrap(w, httpsnoop.Hooks{
		WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
			return func(code int) {
				c.header(code)
				next(code)
			}
		},
		Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
			return func(b []byte) (int, error) {
				c.header(http.StatusOK)
				n, err := next(b)
				c.written += int64(n)
				return n, err
			}
		},
		ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
			return func(src io.Reader) (int64, error) {
				c.header(http.StatusOK)
				n, err := next(src)
				c.written += n
				return n, err
			}
		},
	})
}

// header keeps the first final status; 1xx informational responses other
// than 101 do not count.
func (c *responseCapture) header(code int) {
	if c.status != 0 {
		return
	}
	if code >= 200 || code == http.StatusSwitchingProtocols {
		c.status = code
	}
}

func (c *responseCapture) outcome(r *http.Request, start time.Time) serverOutcome {
	return serverOutcome{
		route:   patternRoute(r.Pattern),
		status:  c.status,
		written: c.written,
		elapsed: time.Since(start),
	}
}

// patternRoute strips the method and host from a ServeMux pattern such as
// "GET example.com/users/{id}".
func patternRoute(pattern string) string {
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		pattern = strings.TrimLeft(pattern[i+1:], " \t")
	}
	if i := strings.IndexByte(pattern, '/'); i > 0 {
		pattern = pattern[i:]
	}
	return pattern
}
