package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/codec"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

// ContentTypeProtobuf marks Kafka messages carrying a serialized
// ExportTraceServiceRequest.
const ContentTypeProtobuf = "application/x-protobuf"

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// Kafka publishes one message per trace in each batch, keyed by trace id so
// a trace's spans stay on one partition.
type Kafka struct {
	w MessageWriter
}

// NewKafka builds a writer for cfg.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: no topic configured")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	return NewKafkaWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
	}), nil
}

// NewKafkaWithWriter wraps an existing writer.
func NewKafkaWithWriter(w MessageWriter) *Kafka {
	return &Kafka{w: w}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) ExportBatch(ctx context.Context, batch []tracing.Record) error {
	if len(batch) == 0 {
		return nil
	}
	groups := groupByTrace(batch)
	msgs := make([]kafka.Message, 0, len(groups))
	for _, g := range groups {
		value, err := codec.Marshal(g)
		if err != nil {
			return fmt.Errorf("encode trace %s: %w", g[0].TraceID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(g[0].TraceID.String()),
			Value:   value,
			Headers: []kafka.Header{{Key: "content-type", Value: []byte(ContentTypeProtobuf)}},
		})
	}
	return k.w.WriteMessages(ctx, msgs...)
}

func (k *Kafka) Shutdown(context.Context) error {
	return k.w.Close()
}

// groupByTrace splits a batch by trace id, keeping first-seen trace order
// and span order within each trace.
func groupByTrace(batch []tracing.Record) [][]tracing.Record {
	index := make(map[trace.TraceID]int)
	var out [][]tracing.Record
	for _, rec := range batch {
		i, ok := index[rec.TraceID]
		if !ok {
			i = len(out)
			index[rec.TraceID] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], rec)
	}
	return out
}
