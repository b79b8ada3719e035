package tracing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// ResourceConfig names the service that owns the process.
type ResourceConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// NewResource builds the process identity attached to every span: service
// name and version, a per-process instance id, host name, pid and the Go
// runtime. Detector failures are reported alongside a usable resource.
func NewResource(ctx context.Context, cfg ResourceConfig) (*resource.Resource, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "application"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceInstanceID(uuid.NewString()),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithHost(),
		resource.WithProcessPID(),
		resource.WithProcessRuntimeName(),
		resource.WithProcessRuntimeVersion(),
	)
	if err != nil {
		if res != nil && errors.Is(err, resource.ErrPartialResource) {
			return res, fmt.Errorf("partial resource: %w", err)
		}
		return resource.NewSchemaless(attrs...), fmt.Errorf("resource detection failed: %w", err)
	}
	return res, nil
}

// ServiceName returns service.name from res.
func ServiceName(res *resource.Resource) string {
	if res == nil {
		return ""
	}
	v, ok := res.Set().Value(semconv.ServiceNameKey)
	if !ok {
		return ""
	}
	return v.AsString()
}
