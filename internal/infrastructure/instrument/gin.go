package instrument

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

// GinMiddleware opens a SERVER span per request. Install it after
// gin.Recovery so a re-panicked handler failure still reaches the recovery
// handler.
func GinMiddleware(tracer *tracing.Tracer, opts ...Option) gin.HandlerFunc {
	cfg := newConfig(opts)
	return func(c *gin.Context) {
		r := c.Request
		span, ctx := startServerSpan(tracer, cfg, r, c.ClientIP())
		c.Request = r.WithContext(ctx)
		start := time.Now()

		outcome := func() serverOutcome {
			out := serverOutcome{
				route:   c.FullPath(),
				status:  c.Writer.Status(),
				elapsed: time.Since(start),
			}
			if size := c.Writer.Size(); size > 0 {
				out.written = int64(size)
			}
			if last := c.Errors.Last(); last != nil {
				out.err = last.Err
			}
			return out
		}

		defer func() {
			if v := recover(); v != nil {
				out := outcome()
				if !c.Writer.Written() {
					out.status = 0
				}
				failServerSpan(span, c.Request, out, v)
				panic(v)
			}
		}()

		c.Next()
		finishServerSpan(span, c.Request, outcome())
	}
}
