package sinks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/codec"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

// Console output formats.
const (
	FormatLog  = "log"
	FormatJSON = "json"
)

// Console writes span summaries locally. It is the always-available sink
// the agent falls back to when the network sink is unreachable.
type Console struct {
	logger *zap.Logger

	mu sync.Mutex
	w  io.Writer
}

// NewConsole logs one line per span through logger.
func NewConsole(logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{logger: logger}
}

// NewConsoleJSON writes one JSON document per span to w.
func NewConsoleJSON(w io.Writer) *Console {
	return &Console{logger: zap.NewNop(), w: w}
}

// NewConsoleFormat picks the output by format name.
func NewConsoleFormat(format string, logger *zap.Logger, w io.Writer) (*Console, error) {
	switch format {
	case "", FormatLog:
		return NewConsole(logger), nil
	case FormatJSON:
		return NewConsoleJSON(w), nil
	default:
		return nil, fmt.Errorf("unknown console format %q", format)
	}
}

func (c *Console) Name() string { return "console" }

func (c *Console) ExportBatch(_ context.Context, batch []tracing.Record) error {
	if c.w != nil {
		return c.writeJSON(batch)
	}
	for i := range batch {
		c.logSpan(&batch[i])
	}
	return nil
}

func (c *Console) logSpan(rec *tracing.Record) {
	fields := []zap.Field{
		zap.String("trace_id", rec.TraceID.String()),
		zap.String("span_id", rec.SpanID.String()),
		zap.String("operation", rec.Name),
		zap.String("kind", rec.Kind.String()),
		zap.Duration("duration", rec.Duration()),
		zap.String("service", tracing.ServiceName(rec.Resource)),
	}
	if rec.ParentSpanID.IsValid() {
		fields = append(fields, zap.String("parent_id", rec.ParentSpanID.String()))
	}
	for _, kv := range rec.Attributes {
		fields = append(fields, zap.Any(string(kv.Key), kv.Value.AsInterface()))
	}

	if rec.Status.Code == codes.Error {
		fields = append(fields, zap.String("error", rec.Status.Description))
		c.logger.Error("span completed with error", fields...)
		return
	}
	c.logger.Info("span completed", fields...)
}

func (c *Console) writeJSON(batch []tracing.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range batch {
		line, err := codec.EncodeJSON(batch[i])
		if err != nil {
			return err
		}
		line = append(line, '\n')
		if _, err := c.w.Write(line); err != nil {
			return fmt.Errorf("write span: %w", err)
		}
	}
	return nil
}

func (c *Console) Shutdown(context.Context) error {
	_ = c.logger.Sync()
	return nil
}
