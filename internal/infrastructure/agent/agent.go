// Package agent assembles the process-wide tracing context: resource,
// connectivity probe, sinks, export pipeline and tracer. A host builds one
// Agent at startup, injects its Tracer into the interception points, and
// calls Shutdown on exit to flush what is still queued.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/config"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/export"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/probe"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/sinks"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

// ProbeFunc checks an endpoint; probe.Check is the default.
type ProbeFunc func(ctx context.Context, endpoint string, timeout time.Duration) probe.Result

type options struct {
	metrics       *monitoring.Metrics
	registerer    prometheus.Registerer
	consoleWriter io.Writer
	extraSinks    []export.Sink
	probe         ProbeFunc
	reprobe       time.Duration
}

// Option configures Start.
type Option func(*options)

// WithMetrics reports pipeline and degraded state to m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRegisterer creates metrics on reg when WithMetrics is not given.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithConsoleWriter sets the destination of the json console format.
func WithConsoleWriter(w io.Writer) Option {
	return func(o *options) { o.consoleWriter = w }
}

// WithSinks adds sinks alongside the configured ones.
func WithSinks(s ...export.Sink) Option {
	return func(o *options) { o.extraSinks = append(o.extraSinks, s...) }
}

// WithProbe replaces the connectivity probe.
func WithProbe(fn ProbeFunc) Option {
	return func(o *options) { o.probe = fn }
}

// WithReprobeInterval bounds how often an unreachable endpoint is probed
// again.
func WithReprobeInterval(d time.Duration) Option {
	return func(o *options) { o.reprobe = d }
}

// Status is the queryable health of tracing.
type Status struct {
	Service  string        `json:"service"`
	Degraded bool          `json:"degraded"`
	Reason   string        `json:"reason,omitempty"`
	Endpoint string        `json:"endpoint,omitempty"`
	Probe    *probe.Result `json:"probe,omitempty"`
	Sinks    []string      `json:"sinks"`
	Pipeline export.Stats  `json:"pipeline"`
}

// Agent is the process-wide tracing context.
type Agent struct {
	cfg      config.TracingConfig
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	resource *resource.Resource
	tracer   *tracing.Tracer
	pipeline *export.Pipeline
	store    *sinks.Store
	live     *sinks.Live
	endpoint string

	degraded atomic.Bool
	mu       sync.RWMutex
	reason   string
	probed   *probe.Result

	shutdownOnce sync.Once
	shutdownErr  error
}

// Start builds the agent. Configuration problems and an unreachable
// endpoint are logged and leave the agent degraded to local sinks; Start
// only fails when no tracer can be built at all.
func Start(ctx context.Context, cfg config.TracingConfig, logger *zap.Logger, opts ...Option) (*Agent, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{probe: probe.Check, reprobe: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil && o.registerer != nil {
		o.metrics = monitoring.NewMetrics(o.registerer)
	}
	if o.consoleWriter == nil {
		o.consoleWriter = os.Stdout
	}

	a := &Agent{
		cfg:     cfg,
		logger:  logger.Named("agent"),
		metrics: o.metrics,
	}

	res, err := tracing.NewResource(ctx, tracing.ResourceConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Environment,
	})
	if err != nil {
		a.logger.Warn("resource detection incomplete", zap.Error(err))
	}
	if res == nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}
	a.resource = res

	valid := true
	if err := cfg.Validate(); err != nil {
		valid = false
		a.logger.Error("invalid tracing configuration, exporting to local sinks only", zap.Error(err))
		a.setDegraded(true, "invalid configuration: "+err.Error())
	}

	var out []export.Sink
	if cfg.MemoryTraces > 0 {
		a.store = sinks.NewStore(cfg.MemoryTraces)
		out = append(out, a.store)
	}
	a.live = sinks.NewLive(logger.Named("live"), o.metrics)
	out = append(out, a.live)

	if valid {
		out = append(out, a.networkSinks(ctx, &o)...)
	}

	if cfg.Console || a.degraded.Load() {
		console, err := sinks.NewConsoleFormat(cfg.ConsoleFormat, logger.Named("spans"), o.consoleWriter)
		if err != nil {
			console = sinks.NewConsole(logger.Named("spans"))
		}
		out = append(out, console)
	}
	out = append(out, o.extraSinks...)

	a.pipeline = export.New(export.Config{
		BatchSize:     cfg.BatchSize,
		MaxDelay:      cfg.MaxDelay,
		QueueSize:     cfg.QueueSize,
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  cfg.RetryBackoff,
		ExportTimeout: cfg.ExportTimeout,
	}, out, export.WithLogger(logger.Named("pipeline")), export.WithMetrics(o.metrics))

	depth := cfg.MaxDepth
	if depth <= 0 {
		depth = tracing.DefaultMaxDepth
	}
	a.tracer = tracing.New(a.pipeline, logger.Named("tracer"),
		tracing.WithResource(res),
		tracing.WithMaxDepth(depth),
	)

	a.logger.Info("tracing started",
		zap.String("service", cfg.ServiceName),
		zap.Strings("sinks", a.pipeline.Sinks()),
		zap.Bool("degraded", a.degraded.Load()),
	)
	return a, nil
}

// networkSinks probes the collector and builds the optional broker sinks.
func (a *Agent) networkSinks(ctx context.Context, o *options) []export.Sink {
	var out []export.Sink
	cfg := a.cfg

	if cfg.Endpoint != "" {
		out = append(out, a.collectorSink(ctx, o))
	}

	if len(cfg.KafkaBrokers) > 0 {
		k, err := sinks.NewKafka(sinks.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			a.logger.Error("kafka sink disabled", zap.Error(err))
		} else {
			out = append(out, k)
		}
	}

	if cfg.RedisURL != "" {
		r, err := sinks.NewRedis(sinks.RedisConfig{URL: cfg.RedisURL, Stream: cfg.RedisStream, MaxLen: cfg.RedisMaxLen})
		if err != nil {
			a.logger.Error("redis sink disabled", zap.Error(err))
		} else {
			out = append(out, r)
		}
	}
	return out
}

// collectorSink returns the OTLP sink when the probe succeeds, and a
// deferred one that connects on a later export when it does not.
func (a *Agent) collectorSink(ctx context.Context, o *options) export.Sink {
	endpoint, _ := config.HostPort(a.cfg.Endpoint)
	a.endpoint = endpoint
	otlpCfg := sinks.OTLPConfig{
		Endpoint:       endpoint,
		Insecure:       a.cfg.Insecure,
		Timeout:        a.cfg.ExportTimeout,
		ConnectTimeout: a.cfg.ConnectTimeout,
	}

	res := o.probe(ctx, endpoint, a.cfg.ConnectTimeout)
	a.mu.Lock()
	a.probed = &res
	a.mu.Unlock()

	if res.Reachable {
		sink, err := sinks.NewOTLP(ctx, otlpCfg)
		if err == nil {
			a.logger.Info("otlp endpoint reachable", zap.String("endpoint", endpoint), zap.Duration("latency", res.Latency))
			return sink
		}
		res.Err = err
	}

	a.logger.Warn("otlp endpoint unreachable, tracing degraded to local sinks",
		zap.String("endpoint", endpoint),
		zap.Duration("timeout", a.cfg.ConnectTimeout),
		zap.Error(res.Err),
	)
	a.setDegraded(true, "collector unreachable: "+res.Error())

	return sinks.NewDeferred(otlpCfg, a.logger,
		sinks.WithProbeInterval(o.reprobe),
		sinks.OnConnect(func() { a.setDegraded(false, "") }),
	)
}

func (a *Agent) setDegraded(degraded bool, reason string) {
	a.degraded.Store(degraded)
	a.mu.Lock()
	a.reason = reason
	a.mu.Unlock()
	a.metrics.SetDegraded(degraded)
}

// Tracer returns the process tracer.
func (a *Agent) Tracer() *tracing.Tracer { return a.tracer }

// Pipeline returns the export pipeline.
func (a *Agent) Pipeline() *export.Pipeline { return a.pipeline }

// Resource returns the resource attached to every span.
func (a *Agent) Resource() *resource.Resource { return a.resource }

// Store returns the in-memory trace store, or nil when disabled.
func (a *Agent) Store() *sinks.Store { return a.store }

// Live returns the live span feed.
func (a *Agent) Live() *sinks.Live { return a.live }

// Metrics returns the metrics the agent reports to, possibly nil.
func (a *Agent) Metrics() *monitoring.Metrics { return a.metrics }

// Degraded reports whether spans are limited to local sinks.
func (a *Agent) Degraded() bool { return a.degraded.Load() }

// Status returns the current tracing health.
func (a *Agent) Status() Status {
	a.mu.RLock()
	reason, probed := a.reason, a.probed
	a.mu.RUnlock()

	return Status{
		Service:  a.cfg.ServiceName,
		Degraded: a.degraded.Load(),
		Reason:   reason,
		Endpoint: a.endpoint,
		Probe:    probed,
		Sinks:    a.pipeline.Sinks(),
		Pipeline: a.pipeline.Stats(),
	}
}

// ForceFlush exports everything queued so far.
func (a *Agent) ForceFlush(ctx context.Context) error {
	return a.pipeline.ForceFlush(ctx)
}

// Shutdown flushes queued spans and closes every sink. Later calls return
// the first result.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		err := a.pipeline.Shutdown(ctx)
		if err != nil && !errors.Is(err, export.ErrPipelineClosed) {
			a.logger.Warn("tracing shutdown incomplete", zap.Error(err))
		}
		a.shutdownErr = err
		_ = a.logger.Sync()
	})
	return a.shutdownErr
}
