package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/codec"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/probe"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

// OTLPConfig configures the collector connection.
type OTLPConfig struct {
	Endpoint string
	Insecure bool
	// Timeout bounds a single export.
	Timeout time.Duration
	// ConnectTimeout bounds the reachability probe of a Deferred sink.
	ConnectTimeout time.Duration
	Headers        map[string]string
}

// OTLP ships batches to an OpenTelemetry collector over gRPC. Retries
// are left to the pipeline.
type OTLP struct {
	client otlptrace.Client
}

// NewOTLP starts the gRPC client. The connection is established lazily,
// so this does not fail when the collector is down.
func NewOTLP(ctx context.Context, cfg OTLPConfig) (*OTLP, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{Enabled: false}),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if cfg.Timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.Timeout))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	client := otlptracegrpc.NewClient(opts...)
	if err := client.Start(ctx); err != nil {
		return nil, fmt.Errorf("start otlp client: %w", err)
	}
	return &OTLP{client: client}, nil
}

func (o *OTLP) Name() string { return "otlp" }

func (o *OTLP) ExportBatch(ctx context.Context, batch []tracing.Record) error {
	if len(batch) == 0 {
		return nil
	}
	return o.client.UploadTraces(ctx, codec.ResourceSpans(batch))
}

func (o *OTLP) Shutdown(ctx context.Context) error {
	return o.client.Stop(ctx)
}

// ErrNotConnected is returned by a Deferred sink whose endpoint has not
// answered a probe yet.
var ErrNotConnected = errors.New("otlp endpoint not reachable")

// Deferred activates an OTLP sink once the endpoint answers a probe. It is
// installed when the startup probe fails: every export re-probes (at most
// once per interval) and batches are rejected without retry until the
// endpoint is up.
type Deferred struct {
	cfg      OTLPConfig
	interval time.Duration
	logger   *zap.Logger
	check    func(ctx context.Context, endpoint string, timeout time.Duration) probe.Result
	onUp     func()

	mu        sync.Mutex
	sink      *OTLP
	lastProbe time.Time
	probing   bool
	closed    bool
}

// DeferredOption configures a Deferred sink.
type DeferredOption func(*Deferred)

// WithProbeInterval bounds how often the endpoint is re-probed.
func WithProbeInterval(d time.Duration) DeferredOption {
	return func(s *Deferred) { s.interval = d }
}

// OnConnect registers a callback run once the endpoint becomes reachable.
func OnConnect(fn func()) DeferredOption {
	return func(d *Deferred) { d.onUp = fn }
}

// NewDeferred returns a sink that connects to cfg.Endpoint on demand.
func NewDeferred(cfg OTLPConfig, logger *zap.Logger, opts ...DeferredOption) *Deferred {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deferred{
		cfg:      cfg,
		interval: 5 * time.Second,
		logger:   logger,
		check:    probe.Check,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Deferred) Name() string { return "otlp" }

// Connected reports whether the underlying sink is active.
func (d *Deferred) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sink != nil
}

func (d *Deferred) ExportBatch(ctx context.Context, batch []tracing.Record) error {
	sink, err := d.connect(ctx)
	if err != nil {
		return err
	}
	return sink.ExportBatch(ctx, batch)
}

func (d *Deferred) connect(ctx context.Context) (*OTLP, error) {
	d.mu.Lock()
	if d.sink != nil {
		sink := d.sink
		d.mu.Unlock()
		return sink, nil
	}
	if d.closed || d.probing || (!d.lastProbe.IsZero() && time.Since(d.lastProbe) < d.interval) {
		d.mu.Unlock()
		return nil, resilience.Permanent(ErrNotConnected)
	}
	d.lastProbe = time.Now()
	d.probing = true
	d.mu.Unlock()

	sink, err := d.dial(ctx)

	d.mu.Lock()
	d.probing = false
	if err == nil && d.closed {
		err = resilience.Permanent(ErrNotConnected)
	}
	if err != nil {
		d.mu.Unlock()
		if sink != nil {
			_ = sink.Shutdown(ctx)
		}
		return nil, err
	}
	d.sink = sink
	d.mu.Unlock()

	d.logger.Info("otlp endpoint reachable, export resumed", zap.String("endpoint", d.cfg.Endpoint))
	if d.onUp != nil {
		d.onUp()
	}
	return sink, nil
}

// dial probes the endpoint and starts the client. It runs without d.mu held.
func (d *Deferred) dial(ctx context.Context) (*OTLP, error) {
	timeout := d.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = probe.DefaultTimeout
	}
	if res := d.check(ctx, d.cfg.Endpoint, timeout); !res.Reachable {
		return nil, resilience.Permanent(fmt.Errorf("%w: %v", ErrNotConnected, res.Err))
	}
	return NewOTLP(ctx, d.cfg)
}

func (d *Deferred) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	sink := d.sink
	d.closed = true
	d.mu.Unlock()

	if sink == nil {
		return nil
	}
	return sink.Shutdown(ctx)
}
