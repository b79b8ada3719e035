package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/codes"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/codec"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

// MessageReader is the part of *kafka.Reader tail uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

func newTailCmd(g *globals) *cobra.Command {
	var (
		brokers   []string
		topic     string
		group     string
		beginning bool
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow span batches published to Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(brokers) == 0 {
				brokers = g.cfg.Tracing.KafkaBrokers
			}
			if topic == "" {
				topic = g.cfg.Tracing.KafkaTopic
			}
			if len(brokers) == 0 {
				return errors.New("no kafka brokers: pass --brokers or set TRACE_KAFKA_BROKERS")
			}

			start := kafka.LastOffset
			if beginning {
				start = kafka.FirstOffset
			}
			r := kafka.NewReader(kafka.ReaderConfig{
				Brokers:     brokers,
				Topic:       topic,
				GroupID:     group,
				StartOffset: start,
				MinBytes:    1,
				MaxBytes:    10e6,
				MaxWait:     time.Second,
			})
			defer r.Close()

			return tailSpans(cmd.Context(), r, cmd.OutOrStdout(), g.format, limit)
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&brokers, "brokers", nil, "Kafka brokers (defaults to the configured brokers)")
	f.StringVar(&topic, "topic", "", "Kafka topic (defaults to the configured topic)")
	f.StringVar(&group, "group", "", "Consumer group id")
	f.BoolVar(&beginning, "from-beginning", false, "Start from the oldest retained message")
	f.IntVarP(&limit, "limit", "n", 0, "Stop after this many spans (0 follows forever)")
	return cmd
}

// tailSpans prints every span read from r until ctx ends, r fails, or
// limit spans were printed. Undecodable messages are reported and skipped.
func tailSpans(ctx context.Context, r MessageReader, w io.Writer, format string, limit int) error {
	printed := 0
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		records, err := codec.Unmarshal(msg.Value)
		if err != nil {
			fmt.Fprintf(w, "skipping offset %d: %v\n", msg.Offset, err)
			continue
		}
		for _, rec := range records {
			if err := printSpan(w, format, rec); err != nil {
				return err
			}
			printed++
			if limit > 0 && printed >= limit {
				return nil
			}
		}
	}
}

func printSpan(w io.Writer, format string, rec tracing.Record) error {
	if format == "json" {
		line, err := codec.EncodeJSON(rec)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", line)
		return err
	}

	status := "OK"
	if rec.Status.Code == codes.Error {
		status = "ERROR"
		if rec.Status.Description != "" {
			status += " " + rec.Status.Description
		}
	}
	parent := "-"
	if rec.ParentSpanID.IsValid() {
		parent = rec.ParentSpanID.String()
	}
	_, err := fmt.Fprintf(w, "%s %-16s %s %s parent=%s %q %.3fms %s\n",
		rec.StartTime.Format("15:04:05.000"),
		tracing.ServiceName(rec.Resource),
		rec.TraceID, rec.SpanID, parent,
		rec.Name,
		tracing.Milliseconds(rec.Duration()),
		status,
	)
	return err
}
