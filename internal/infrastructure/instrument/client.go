package instrument

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

// Transport is an http.RoundTripper that runs each request inside a CLIENT
// span and forwards the trace context to the server.
type Transport struct {
	base   http.RoundTripper
	tracer *tracing.Tracer
	cfg    *config
}

// NewTransport wraps base, or http.DefaultTransport when base is nil.
func NewTransport(base http.RoundTripper, tracer *tracing.Tracer, opts ...Option) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, tracer: tracer, cfg: newConfig(opts)}
}

func (t *Transport) RoundTrip(req *http.Request) (resp *http.Response, err error) {
	span, ctx := t.tracer.StartSpan(req.Context(), "HTTP "+req.Method,
		tracing.WithKind(trace.SpanKindClient),
		tracing.WithAttributes(
			attribute.String(tracing.AttrHTTPMethod, req.Method),
			attribute.String(tracing.AttrHTTPURL, req.URL.Redacted()),
			attribute.String(tracing.AttrHTTPTarget, req.URL.RequestURI()),
			attribute.String(tracing.AttrHTTPHost, req.URL.Host),
		),
	)

	req = req.Clone(ctx)
	if t.cfg.propagate {
		tracing.InjectHTTP(ctx, req.Header)
	}

	start := time.Now()
	defer func() {
		span.SetAttribute(tracing.AttrHTTPDurationMS, tracing.Milliseconds(time.Since(start)))
		if v := recover(); v != nil {
			span.RecordPanic(v)
			span.SetStatus(codes.Error, panicMessage(v))
			span.End()
			panic(v)
		}
		span.End()
	}()

	resp, err = t.base.RoundTrip(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttribute(tracing.AttrHTTPStatusCode, resp.StatusCode)
	if resp.ContentLength >= 0 {
		span.SetAttribute(tracing.AttrHTTPResponseSize, resp.ContentLength)
	}
	span.SetStatus(httpStatus(resp.StatusCode))
	return resp, nil
}

// ClientConfig configures NewHTTPClient.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
	UserAgent  string
}

// NewHTTPClient returns a resty client whose requests are traced. Each
// retry attempt is its own CLIENT span.
func NewHTTPClient(tracer *tracing.Tracer, cfg ClientConfig, opts ...Option) *resty.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 100 * time.Millisecond
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "autotrace/1.0"
	}

	// Pooled transport from retryablehttp; retries are resty's.
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	client := resty.New().
		SetTransport(NewTransport(retryClient.HTTPClient.Transport, tracer, opts...)).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(4*cfg.RetryWait).
		SetHeader("User-Agent", cfg.UserAgent)
	if cfg.BaseURL != "" {
		client.SetBaseURL(cfg.BaseURL)
	}
	return client
}
