package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/codec"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

// StreamClient is the subset of *redis.Client the sink uses.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// RedisConfig configures the Redis stream sink.
type RedisConfig struct {
	URL    string
	Stream string
	MaxLen int64
}

// Redis appends each span to a capped stream as a JSON document.
type Redis struct {
	client StreamClient
	stream string
	maxLen int64
}

// NewRedis connects using a redis:// URL.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis: no url configured")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	return NewRedisWithClient(redis.NewClient(opts), cfg.Stream, cfg.MaxLen), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client StreamClient, stream string, maxLen int64) *Redis {
	if stream == "" {
		stream = "autotrace:spans"
	}
	return &Redis{client: client, stream: stream, maxLen: maxLen}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) ExportBatch(ctx context.Context, batch []tracing.Record) error {
	for i := range batch {
		rec := &batch[i]
		doc, err := codec.EncodeJSON(*rec)
		if err != nil {
			return err
		}
		args := &redis.XAddArgs{
			Stream: r.stream,
			Values: map[string]any{
				"trace_id": rec.TraceID.String(),
				"span_id":  rec.SpanID.String(),
				"name":     rec.Name,
				"span":     string(doc),
			},
		}
		if r.maxLen > 0 {
			args.MaxLen = r.maxLen
			args.Approx = true
		}
		if err := r.client.XAdd(ctx, args).Err(); err != nil {
			return fmt.Errorf("xadd %s: %w", r.stream, err)
		}
	}
	return nil
}

func (r *Redis) Shutdown(context.Context) error {
	return r.client.Close()
}
