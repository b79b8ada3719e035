package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

var (
	// ErrPipelineClosed is returned by ForceFlush after Shutdown.
	ErrPipelineClosed = errors.New("export: pipeline closed")
	// ErrQueueFull is reported in logs and metrics when spans are dropped
	// because the queue is at capacity.
	ErrQueueFull = errors.New("export: queue full")
)

// Sink receives batches of ended spans. ExportBatch is called from a single
// goroutine per sink and must respect ctx. Batches are shared between sinks
// and must not be modified.
type Sink interface {
	Name() string
	ExportBatch(ctx context.Context, batch []tracing.Record) error
	Shutdown(ctx context.Context) error
}

// Config controls batching and delivery.
type Config struct {
	// BatchSize triggers a flush and caps the spans per ExportBatch call.
	BatchSize int
	// MaxDelay bounds how long the oldest queued span waits for a flush.
	MaxDelay time.Duration
	// QueueSize caps queued spans; further spans are dropped.
	QueueSize int
	// SinkBuffer caps batches waiting per sink; further batches are dropped
	// for that sink only.
	SinkBuffer int
	// MaxRetries and RetryBackoff bound redelivery of a failed batch.
	MaxRetries   int
	RetryBackoff time.Duration
	// ExportTimeout bounds a single ExportBatch attempt.
	ExportTimeout time.Duration
	// BreakerThreshold consecutive failed batches open a sink's breaker for
	// BreakerCooldown.
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

// DefaultConfig returns the default batching policy.
func DefaultConfig() Config {
	return Config{
		BatchSize:        512,
		MaxDelay:         5 * time.Second,
		QueueSize:        2048,
		SinkBuffer:       8,
		MaxRetries:       2,
		RetryBackoff:     100 * time.Millisecond,
		ExportTimeout:    10 * time.Second,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.QueueSize < c.BatchSize {
		c.QueueSize = 4 * c.BatchSize
	}
	if c.SinkBuffer <= 0 {
		c.SinkBuffer = d.SinkBuffer
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.ExportTimeout <= 0 {
		c.ExportTimeout = d.ExportTimeout
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = d.BreakerThreshold
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = d.BreakerCooldown
	}
	return c
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithMetrics publishes pipeline metrics.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline batches ended spans and delivers them to every sink. Export never
// blocks: spans that do not fit are dropped and counted.
type Pipeline struct {
	cfg     Config
	logger  *zap.Logger
	metrics *monitoring.Metrics
	runners []*sinkRunner

	mu       sync.Mutex
	queue    []tracing.Record
	oldest   time.Time
	closed   bool
	drainCtx context.Context

	kick     chan struct{}
	arm      chan struct{}
	flushReq chan chan struct{}
	stop     chan struct{}
	done     chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	warn    *rate.Limiter

	enqueued atomic.Uint64
	dropped  atomic.Uint64
	flushes  atomic.Uint64
	pending  atomic.Int64
}

// New starts a pipeline delivering to sinks. With no sinks it accepts and
// discards everything.
func New(cfg Config, sinks []Sink, opts ...Option) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		cfg:      cfg.withDefaults(),
		logger:   zap.NewNop(),
		kick:     make(chan struct{}, 1),
		arm:      make(chan struct{}, 1),
		flushReq: make(chan chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		warn:     rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("export")

	for _, s := range sinks {
		if s == nil {
			continue
		}
		r := newSinkRunner(p, s)
		p.runners = append(p.runners, r)
		p.workers.Add(1)
		go r.run()
	}

	go p.loop()
	return p
}

// Export enqueues an ended span. It implements tracing.Exporter.
func (p *Pipeline) Export(rec tracing.Record) {
	p.mu.Lock()
	if p.closed || len(p.runners) == 0 {
		p.mu.Unlock()
		return
	}
	if len(p.queue) >= p.cfg.QueueSize {
		p.mu.Unlock()
		p.dropped.Add(1)
		p.metrics.SpansDroppedFor("*", "queue_full", 1)
		if p.warn.Allow() {
			p.logger.Warn("dropping span", zap.Error(ErrQueueFull), zap.Int("queue_size", p.cfg.QueueSize))
		}
		return
	}
	wasEmpty := len(p.queue) == 0
	if wasEmpty {
		p.oldest = time.Now()
	}
	p.queue = append(p.queue, rec)
	depth := len(p.queue)
	p.mu.Unlock()

	p.enqueued.Add(1)
	p.metrics.SpanEnqueued()
	p.metrics.SetQueueDepth(depth)

	if wasEmpty {
		signal(p.arm)
	}
	if depth >= p.cfg.BatchSize {
		signal(p.kick)
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (p *Pipeline) loop() {
	defer close(p.done)

	timer := time.NewTimer(p.cfg.MaxDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-p.arm:
			p.mu.Lock()
			n, oldest := len(p.queue), p.oldest
			p.mu.Unlock()
			if n > 0 {
				timer.Reset(time.Until(oldest.Add(p.cfg.MaxDelay)))
			}
		case <-timer.C:
			p.flush(context.Background(), false)
		case <-p.kick:
			p.flush(context.Background(), false)
		case reply := <-p.flushReq:
			p.flush(context.Background(), false)
			close(reply)
		case <-p.stop:
			p.mu.Lock()
			drainCtx := p.drainCtx
			p.mu.Unlock()
			p.flush(drainCtx, true)
			return
		}
	}
}

// flush moves everything queued to the sink workers in BatchSize chunks.
// When draining it waits, until ctx is done, for room in each sink's backlog
// instead of dropping.
func (p *Pipeline) flush(ctx context.Context, drain bool) {
	p.mu.Lock()
	batch := p.queue
	p.queue = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	p.flushes.Add(1)
	p.metrics.SetQueueDepth(0)

	for start := 0; start < len(batch); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(batch))
		chunk := batch[start:end:end]
		for _, r := range p.runners {
			r.offer(ctx, drain, chunk)
		}
	}
}

// ForceFlush delivers everything queued and waits until every sink has
// processed it or ctx is done.
func (p *Pipeline) ForceFlush(ctx context.Context) error {
	reply := make(chan struct{})
	select {
	case p.flushReq <- reply:
	case <-p.done:
		return ErrPipelineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.waitIdle(ctx)
}

func (p *Pipeline) waitIdle(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for p.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Shutdown stops accepting spans, flushes the queue, waits for the sinks to
// drain and shuts them down. In-flight deliveries are abandoned when ctx
// expires.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.drainCtx = ctx
	p.mu.Unlock()

	close(p.stop)
	<-p.done

	for _, r := range p.runners {
		close(r.batches)
	}

	drained := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(drained)
	}()

	var errs []error
	select {
	case <-drained:
	case <-ctx.Done():
		p.cancel()
		<-drained
		errs = append(errs, fmt.Errorf("export: shutdown before sinks drained: %w", ctx.Err()))
	}
	p.cancel()

	for _, r := range p.runners {
		if err := r.sink.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", r.sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Sinks returns the sink names in delivery order.
func (p *Pipeline) Sinks() []string {
	names := make([]string, len(p.runners))
	for i, r := range p.runners {
		names[i] = r.sink.Name()
	}
	return names
}

// Stats is a point-in-time view of the pipeline.
type Stats struct {
	Enqueued uint64      `json:"enqueued"`
	Dropped  uint64      `json:"dropped"`
	Flushes  uint64      `json:"flushes"`
	Queued   int         `json:"queued"`
	Sinks    []SinkStats `json:"sinks"`
}

// SinkStats describes delivery to one sink.
type SinkStats struct {
	Name     string `json:"name"`
	Exported uint64 `json:"exported"`
	Failed   uint64 `json:"failed"`
	Dropped  uint64 `json:"dropped"`
	Breaker  string `json:"breaker"`
}

// Stats returns current counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	queued := len(p.queue)
	p.mu.Unlock()

	s := Stats{
		Enqueued: p.enqueued.Load(),
		Dropped:  p.dropped.Load(),
		Flushes:  p.flushes.Load(),
		Queued:   queued,
	}
	for _, r := range p.runners {
		s.Sinks = append(s.Sinks, r.stats())
	}
	return s
}

// sinkRunner owns delivery to one sink.
type sinkRunner struct {
	p       *Pipeline
	sink    Sink
	breaker *resilience.Breaker
	batches chan []tracing.Record
	logger  *zap.Logger

	exported atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
}

func newSinkRunner(p *Pipeline, s Sink) *sinkRunner {
	r := &sinkRunner{
		p:       p,
		sink:    s,
		batches: make(chan []tracing.Record, p.cfg.SinkBuffer),
		logger:  p.logger.With(zap.String("sink", s.Name())),
	}
	threshold := p.cfg.BreakerThreshold
	r.breaker = resilience.New(s.Name(), resilience.Settings{
		MaxRequests: 1,
		Timeout:     p.cfg.BreakerCooldown,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to resilience.State) {
			r.logger.Warn("sink breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			p.metrics.SetBreakerState(name, int(to))
		},
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		},
	})
	return r
}

func (r *sinkRunner) offer(ctx context.Context, wait bool, batch []tracing.Record) {
	r.p.pending.Add(1)
	if wait {
		select {
		case r.batches <- batch:
			return
		case <-ctx.Done():
		}
	} else {
		select {
		case r.batches <- batch:
			return
		default:
		}
	}
	r.p.pending.Add(-1)
	r.dropped.Add(uint64(len(batch)))
	r.p.metrics.SpansDroppedFor(r.sink.Name(), "sink_busy", len(batch))
	r.logger.Warn("sink backlog full, dropping batch", zap.Int("spans", len(batch)))
}

func (r *sinkRunner) run() {
	defer r.p.workers.Done()
	for batch := range r.batches {
		r.deliver(batch)
		r.p.pending.Add(-1)
	}
}

func (r *sinkRunner) deliver(batch []tracing.Record) {
	timer := monitoring.NewTimer(r.p.metrics, r.sink.Name())
	policy := resilience.RetryPolicy{MaxRetries: r.p.cfg.MaxRetries, Backoff: r.p.cfg.RetryBackoff}

	err := r.breaker.Execute(func() error {
		return resilience.Retry(r.p.ctx, policy, func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, r.p.cfg.ExportTimeout)
			defer cancel()
			return r.export(ctx, batch)
		})
	})
	elapsed := timer.Stop(len(batch), err)

	if err == nil {
		r.exported.Add(uint64(len(batch)))
		return
	}
	r.failed.Add(uint64(len(batch)))
	if resilience.IsRejection(err) {
		r.p.metrics.SpansDroppedFor(r.sink.Name(), "breaker_open", len(batch))
		r.logger.Debug("sink breaker open, dropping batch", zap.Int("spans", len(batch)))
		return
	}
	r.p.metrics.SpansDroppedFor(r.sink.Name(), "export_failed", len(batch))
	r.logger.Error("dropping batch after failed delivery",
		zap.Int("spans", len(batch)),
		zap.Duration("elapsed", elapsed),
		zap.Error(err),
	)
}

// export calls the sink, turning a panic into a permanent error.
func (r *sinkRunner) export(ctx context.Context, batch []tracing.Record) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = resilience.Permanent(fmt.Errorf("sink panicked: %v", v))
		}
	}()
	return r.sink.ExportBatch(ctx, batch)
}

func (r *sinkRunner) stats() SinkStats {
	return SinkStats{
		Name:     r.sink.Name(),
		Exported: r.exported.Load(),
		Failed:   r.failed.Load(),
		Dropped:  r.dropped.Load(),
		Breaker:  r.breaker.State().String(),
	}
}
