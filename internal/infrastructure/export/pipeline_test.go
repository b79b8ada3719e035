package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

type fakeSink struct {
	name    string
	fail    error
	block   bool
	panics  bool
	mu      sync.Mutex
	batches [][]tracing.Record
	calls   atomic.Int32
	closed  atomic.Bool
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) ExportBatch(ctx context.Context, batch []tracing.Record) error {
	s.calls.Add(1)
	if s.panics {
		panic("encoder bug")
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.fail != nil {
		return s.fail
	}
	s.mu.Lock()
	s.batches = append(s.batches, batch)
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) Shutdown(context.Context) error {
	s.closed.Store(true)
	return nil
}

func (s *fakeSink) Batches() [][]tracing.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]tracing.Record(nil), s.batches...)
}

func (s *fakeSink) Names() []string {
	var names []string
	for _, b := range s.Batches() {
		for _, r := range b {
			names = append(names, r.Name)
		}
	}
	return names
}

func rec(name string) tracing.Record {
	now := time.Now()
	return tracing.Record{Name: name, StartTime: now, EndTime: now}
}

func testConfig() Config {
	return Config{
		BatchSize:     100,
		MaxDelay:      time.Minute,
		QueueSize:     1000,
		MaxRetries:    1,
		RetryBackoff:  time.Millisecond,
		ExportTimeout: time.Second,
	}
}

func shutdown(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestBatchSizeTriggersSingleFlush(t *testing.T) {
	sink := &fakeSink{name: "sink"}
	cfg := testConfig()
	cfg.BatchSize = 3
	p := New(cfg, []Sink{sink})
	defer shutdown(t, p)

	p.Export(rec("a"))
	p.Export(rec("b"))
	p.Export(rec("c"))

	require.Eventually(t, func() bool { return len(sink.Batches()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	batches := sink.Batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 3)
	assert.Equal(t, []string{"a", "b", "c"}, sink.Names())
	assert.Equal(t, int32(1), sink.calls.Load())
}

func TestMaxDelayTriggersFlush(t *testing.T) {
	sink := &fakeSink{name: "sink"}
	cfg := testConfig()
	cfg.MaxDelay = 50 * time.Millisecond
	p := New(cfg, []Sink{sink})
	defer shutdown(t, p)

	start := time.Now()
	p.Export(rec("lonely"))

	require.Eventually(t, func() bool { return len(sink.Batches()) == 1 }, 2*time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	// The timer re-arms for the next span.
	p.Export(rec("second"))
	require.Eventually(t, func() bool { return len(sink.Batches()) == 2 }, 2*time.Second, time.Millisecond)
}

func TestBatchesAreCappedAndOrdered(t *testing.T) {
	sink := &fakeSink{name: "sink"}
	cfg := testConfig()
	cfg.BatchSize = 2
	p := New(cfg, []Sink{sink})
	defer shutdown(t, p)

	var want []string
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("span-%d", i)
		want = append(want, name)
		p.Export(rec(name))
	}
	require.NoError(t, p.ForceFlush(context.Background()))

	for _, b := range sink.Batches() {
		assert.LessOrEqual(t, len(b), 2)
	}
	assert.Equal(t, want, sink.Names())
}

func TestFailingSinkDoesNotAffectOthers(t *testing.T) {
	bad := &fakeSink{name: "bad", fail: errors.New("connection refused")}
	good := &fakeSink{name: "good"}
	p := New(testConfig(), []Sink{bad, good})
	defer shutdown(t, p)

	p.Export(rec("a"))
	p.Export(rec("b"))
	require.NoError(t, p.ForceFlush(context.Background()))

	assert.Equal(t, []string{"a", "b"}, good.Names())
	// One attempt plus one retry.
	assert.Equal(t, int32(2), bad.calls.Load())

	stats := p.Stats()
	require.Len(t, stats.Sinks, 2)
	assert.Equal(t, uint64(2), stats.Sinks[0].Failed)
	assert.Equal(t, uint64(2), stats.Sinks[1].Exported)
	assert.Equal(t, uint64(2), stats.Enqueued)
}

func TestBlockedSinkNeverBlocksExport(t *testing.T) {
	stuck := &fakeSink{name: "stuck", block: true}
	good := &fakeSink{name: "good"}
	cfg := testConfig()
	cfg.BatchSize = 10
	cfg.SinkBuffer = 200
	cfg.ExportTimeout = 10 * time.Second
	p := New(cfg, []Sink{stuck, good})

	start := time.Now()
	for i := 0; i < 1000; i++ {
		p.Export(rec("span"))
	}
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	require.Eventually(t, func() bool { return len(good.Names()) == 1000 }, 2*time.Second, time.Millisecond)

	stats := p.Stats()
	assert.Equal(t, uint64(1000), stats.Enqueued+stats.Dropped)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := p.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, stuck.closed.Load())
}

func TestSinkBacklogIsBounded(t *testing.T) {
	stuck := &fakeSink{name: "stuck", block: true}
	cfg := testConfig()
	cfg.BatchSize = 1
	cfg.SinkBuffer = 1
	cfg.ExportTimeout = 10 * time.Second
	p := New(cfg, []Sink{stuck})

	for i := 0; i < 50; i++ {
		p.Export(rec("span"))
	}

	require.Eventually(t, func() bool {
		s := p.Stats()
		return s.Queued == 0 && s.Sinks[0].Dropped >= 40
	}, 2*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = p.Shutdown(ctx)
}

func TestZeroSinks(t *testing.T) {
	p := New(testConfig(), nil)

	for i := 0; i < 10; i++ {
		p.Export(rec("ignored"))
	}
	require.NoError(t, p.ForceFlush(context.Background()))
	assert.Equal(t, uint64(0), p.Stats().Enqueued)
	assert.Empty(t, p.Sinks())
	shutdown(t, p)
}

func TestShutdownFlushesQueue(t *testing.T) {
	sink := &fakeSink{name: "sink"}
	p := New(testConfig(), []Sink{sink})

	for i := 0; i < 5; i++ {
		p.Export(rec("pending"))
	}
	shutdown(t, p)

	assert.Len(t, sink.Names(), 5)
	assert.True(t, sink.closed.Load())

	p.Export(rec("late"))
	assert.Len(t, sink.Names(), 5)
	assert.ErrorIs(t, p.ForceFlush(context.Background()), ErrPipelineClosed)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestBreakerStopsCallingDeadSink(t *testing.T) {
	dead := &fakeSink{name: "dead", fail: errors.New("unavailable")}
	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.BreakerThreshold = 2
	cfg.BreakerCooldown = time.Minute
	p := New(cfg, []Sink{dead})
	defer shutdown(t, p)

	for i := 0; i < 5; i++ {
		p.Export(rec("span"))
		require.NoError(t, p.ForceFlush(context.Background()))
	}

	assert.Equal(t, int32(2), dead.calls.Load())
	stats := p.Stats()
	assert.Equal(t, "open", stats.Sinks[0].Breaker)
	assert.Equal(t, uint64(5), stats.Sinks[0].Failed)
}

func TestPanickingSinkIsNotRetried(t *testing.T) {
	broken := &fakeSink{name: "broken", panics: true}
	good := &fakeSink{name: "good"}
	p := New(testConfig(), []Sink{broken, good})
	defer shutdown(t, p)

	p.Export(rec("a"))
	require.NoError(t, p.ForceFlush(context.Background()))

	assert.Equal(t, int32(1), broken.calls.Load())
	assert.Equal(t, []string{"a"}, good.Names())
}

func TestTracerIntegration(t *testing.T) {
	sink := &fakeSink{name: "sink"}
	p := New(testConfig(), []Sink{sink})
	defer shutdown(t, p)

	tracer := tracing.New(p, nil)
	root, ctx := tracer.StartSpan(context.Background(), "root")
	child, _ := tracer.StartSpan(ctx, "child")
	child.End()
	root.End()

	require.NoError(t, p.ForceFlush(context.Background()))
	assert.Equal(t, []string{"child", "root"}, sink.Names())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{BatchSize: 10}.withDefaults()
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 40, cfg.QueueSize)
	assert.Equal(t, 5*time.Second, cfg.MaxDelay)
	assert.Equal(t, uint32(5), cfg.BreakerThreshold)

	cfg = Config{}.withDefaults()
	assert.Equal(t, DefaultConfig().BatchSize, cfg.BatchSize)
}
