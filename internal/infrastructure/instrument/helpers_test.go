package instrument

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

type recorder struct {
	mu   sync.Mutex
	recs []tracing.Record
}

func (r *recorder) Export(rec tracing.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func (r *recorder) Records() []tracing.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tracing.Record(nil), r.recs...)
}

func (r *recorder) only(t *testing.T) tracing.Record {
	t.Helper()
	recs := r.Records()
	require.Len(t, recs, 1)
	return recs[0]
}

func (r *recorder) byName(t *testing.T, name string) tracing.Record {
	t.Helper()
	for _, rec := range r.Records() {
		if rec.Name == name {
			return rec
		}
	}
	t.Fatalf("no span named %q", name)
	return tracing.Record{}
}

func newTestTracer() (*tracing.Tracer, *recorder) {
	rec := &recorder{}
	return tracing.New(rec, zap.NewNop()), rec
}

func attr(t *testing.T, rec tracing.Record, key string) attribute.Value {
	t.Helper()
	v, ok := rec.Attribute(key)
	require.True(t, ok, "missing attribute %s on %s", key, rec.Name)
	return v
}

func hasException(rec tracing.Record) bool {
	for _, ev := range rec.Events {
		if ev.Name == tracing.EventException {
			return true
		}
	}
	return false
}
