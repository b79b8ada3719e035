package sinks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/codec"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/autotrace/internal/shared/id"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaOneMessagePerTrace(t *testing.T) {
	w := &fakeWriter{}
	k := NewKafkaWithWriter(w)

	now := time.Now()
	t1, t2 := id.NewTraceID(), id.NewTraceID()
	root := span(t1, [8]byte{}, "root", now, time.Millisecond)
	batch := []tracing.Record{
		root,
		span(t2, [8]byte{}, "other", now, time.Millisecond),
		span(t1, root.SpanID, "child", now, time.Millisecond),
	}
	require.NoError(t, k.ExportBatch(context.Background(), batch))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, t1.String(), string(w.msgs[0].Key))
	assert.Equal(t, t2.String(), string(w.msgs[1].Key))
	assert.Equal(t, ContentTypeProtobuf, string(w.msgs[0].Headers[0].Value))

	recs, err := codec.Unmarshal(w.msgs[0].Value)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "root", recs[0].Name)
	assert.Equal(t, "child", recs[1].Name)
	assert.Equal(t, root.SpanID, recs[1].ParentSpanID)
}

func TestKafkaWriteError(t *testing.T) {
	boom := errors.New("broker down")
	k := NewKafkaWithWriter(&fakeWriter{err: boom})
	err := k.ExportBatch(context.Background(), []tracing.Record{span(id.NewTraceID(), [8]byte{}, "x", time.Now(), 0)})
	assert.ErrorIs(t, err, boom)
}

func TestKafkaShutdownClosesWriter(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, NewKafkaWithWriter(w).Shutdown(context.Background()))
	assert.True(t, w.closed)
}

func TestNewKafkaValidates(t *testing.T) {
	_, err := NewKafka(KafkaConfig{Topic: "traces"})
	assert.Error(t, err)
	_, err = NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	k, err := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "traces"})
	require.NoError(t, err)
	assert.Equal(t, "kafka", k.Name())
	require.NoError(t, k.Shutdown(context.Background()))
}
