package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Tracing  TracingConfig
	Logging  LogConfig
	Database DatabaseConfig
	Demo     DemoConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`

	RateLimit      bool `envconfig:"RATE_LIMIT_ENABLED" default:"false"`
	RateLimitRPS   int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	RateLimitBurst int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
}

// TracingConfig holds the tracing agent configuration.
type TracingConfig struct {
	ServiceName    string `envconfig:"OTEL_SERVICE_NAME" default:"application"`
	ServiceVersion string `envconfig:"SERVICE_VERSION" default:"1.0.0"`
	Environment    string `envconfig:"DEPLOYMENT_ENV" default:"development"`

	// Endpoint is the OTLP/gRPC collector address (host:port).
	Endpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	Insecure bool   `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`

	Console       bool   `envconfig:"TRACE_CONSOLE" default:"true"`
	ConsoleFormat string `envconfig:"TRACE_CONSOLE_FORMAT" default:"log"`

	BatchSize      int           `envconfig:"TRACE_BATCH_SIZE" default:"512"`
	MaxDelay       time.Duration `envconfig:"TRACE_MAX_DELAY" default:"5s"`
	QueueSize      int           `envconfig:"TRACE_QUEUE_SIZE" default:"2048"`
	ConnectTimeout time.Duration `envconfig:"TRACE_CONNECT_TIMEOUT" default:"2s"`
	ExportTimeout  time.Duration `envconfig:"TRACE_EXPORT_TIMEOUT" default:"10s"`
	MaxRetries     int           `envconfig:"TRACE_MAX_RETRIES" default:"2"`
	RetryBackoff   time.Duration `envconfig:"TRACE_RETRY_BACKOFF" default:"100ms"`
	MaxDepth       int           `envconfig:"TRACE_MAX_DEPTH" default:"1000"`
	Propagation    bool          `envconfig:"TRACE_PROPAGATION" default:"true"`

	KafkaBrokers []string `envconfig:"TRACE_KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"TRACE_KAFKA_TOPIC" default:"traces"`

	RedisURL    string `envconfig:"TRACE_REDIS_URL"`
	RedisStream string `envconfig:"TRACE_REDIS_STREAM" default:"autotrace:spans"`
	RedisMaxLen int64  `envconfig:"TRACE_REDIS_MAXLEN" default:"10000"`

	MemoryTraces int `envconfig:"TRACE_MEMORY_TRACES" default:"1000"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// DatabaseConfig selects the demo store backend.
type DatabaseConfig struct {
	Driver string `envconfig:"DB_DRIVER" default:"sqlite"`
	DSN    string `envconfig:"DB_DSN" default:"file:autotrace-demo.db?_pragma=busy_timeout(5000)"`
}

// DemoConfig holds settings for the demo host's outbound dependency.
type DemoConfig struct {
	TodoAPIURL string        `envconfig:"TODO_API_URL" default:"https://jsonplaceholder.typicode.com"`
	Timeout    time.Duration `envconfig:"TODO_API_TIMEOUT" default:"5s"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8000",
			Host:           "0.0.0.0",
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
		Tracing: DefaultTracing(),
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file:autotrace-demo.db?_pragma=busy_timeout(5000)",
		},
		Demo: DemoConfig{
			TodoAPIURL: "https://jsonplaceholder.typicode.com",
			Timeout:    5 * time.Second,
		},
	}
}

// DefaultTracing returns the tracing defaults.
func DefaultTracing() TracingConfig {
	return TracingConfig{
		ServiceName:    "application",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		Console:        true,
		ConsoleFormat:  "log",
		BatchSize:      512,
		MaxDelay:       5 * time.Second,
		QueueSize:      2048,
		ConnectTimeout: 2 * time.Second,
		ExportTimeout:  10 * time.Second,
		MaxRetries:     2,
		RetryBackoff:   100 * time.Millisecond,
		MaxDepth:       1000,
		Propagation:    true,
		KafkaTopic:     "traces",
		RedisStream:    "autotrace:spans",
		RedisMaxLen:    10000,
		MemoryTraces:   1000,
	}
}

// Validate reports every malformed tracing option at once.
func (t TracingConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(t.ServiceName) == "" {
		errs = append(errs, errors.New("service name must not be empty"))
	}
	if t.Endpoint != "" {
		if _, err := HostPort(t.Endpoint); err != nil {
			errs = append(errs, err)
		}
	}
	if t.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch size must be positive, got %d", t.BatchSize))
	}
	if t.QueueSize < t.BatchSize {
		errs = append(errs, fmt.Errorf("queue size %d is smaller than batch size %d", t.QueueSize, t.BatchSize))
	}
	if t.MaxDelay <= 0 {
		errs = append(errs, fmt.Errorf("max delay must be positive, got %s", t.MaxDelay))
	}
	if t.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connect timeout must be positive, got %s", t.ConnectTimeout))
	}
	if t.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must not be negative, got %d", t.MaxRetries))
	}
	if t.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("max depth must not be negative, got %d", t.MaxDepth))
	}
	switch t.ConsoleFormat {
	case "log", "json":
	default:
		errs = append(errs, fmt.Errorf("console format must be log or json, got %q", t.ConsoleFormat))
	}
	return errors.Join(errs...)
}

// HostPort normalizes an endpoint to host:port. Scheme prefixes such as
// http:// or grpc:// are stripped and a missing port defaults to 4317.
func HostPort(endpoint string) (string, error) {
	e := strings.TrimSpace(endpoint)
	if i := strings.Index(e, "://"); i >= 0 {
		e = e[i+3:]
	}
	e = strings.TrimSuffix(e, "/")
	if e == "" {
		return "", fmt.Errorf("invalid endpoint %q", endpoint)
	}

	host, port, err := net.SplitHostPort(e)
	if err != nil {
		// No port given.
		if strings.Contains(err.Error(), "missing port") {
			return net.JoinHostPort(strings.Trim(e, "[]"), "4317"), nil
		}
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if host == "" || port == "" {
		return "", fmt.Errorf("invalid endpoint %q", endpoint)
	}
	return net.JoinHostPort(host, port), nil
}
