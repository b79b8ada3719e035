package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors Config for YAML and TOML files. Pointer fields tell an
// absent key apart from a zero value so only present keys overlay defaults.
type fileConfig struct {
	Server struct {
		Port           *string `yaml:"port" toml:"port"`
		Host           *string `yaml:"host" toml:"host"`
		RateLimit      *bool   `yaml:"rate_limit" toml:"rate_limit"`
		RateLimitRPS   *int    `yaml:"rate_limit_rps" toml:"rate_limit_rps"`
		RateLimitBurst *int    `yaml:"rate_limit_burst" toml:"rate_limit_burst"`
	} `yaml:"server" toml:"server"`

	Tracing struct {
		ServiceName    *string  `yaml:"service_name" toml:"service_name"`
		ServiceVersion *string  `yaml:"service_version" toml:"service_version"`
		Environment    *string  `yaml:"environment" toml:"environment"`
		Endpoint       *string  `yaml:"endpoint" toml:"endpoint"`
		Insecure       *bool    `yaml:"insecure" toml:"insecure"`
		Console        *bool    `yaml:"console" toml:"console"`
		ConsoleFormat  *string  `yaml:"console_format" toml:"console_format"`
		BatchSize      *int     `yaml:"batch_size" toml:"batch_size"`
		MaxDelay       *string  `yaml:"max_delay" toml:"max_delay"`
		QueueSize      *int     `yaml:"queue_size" toml:"queue_size"`
		ConnectTimeout *string  `yaml:"connect_timeout" toml:"connect_timeout"`
		ExportTimeout  *string  `yaml:"export_timeout" toml:"export_timeout"`
		MaxRetries     *int     `yaml:"max_retries" toml:"max_retries"`
		RetryBackoff   *string  `yaml:"retry_backoff" toml:"retry_backoff"`
		MaxDepth       *int     `yaml:"max_depth" toml:"max_depth"`
		Propagation    *bool    `yaml:"propagation" toml:"propagation"`
		KafkaBrokers   []string `yaml:"kafka_brokers" toml:"kafka_brokers"`
		KafkaTopic     *string  `yaml:"kafka_topic" toml:"kafka_topic"`
		RedisURL       *string  `yaml:"redis_url" toml:"redis_url"`
		RedisStream    *string  `yaml:"redis_stream" toml:"redis_stream"`
		RedisMaxLen    *int64   `yaml:"redis_maxlen" toml:"redis_maxlen"`
		MemoryTraces   *int     `yaml:"memory_traces" toml:"memory_traces"`
	} `yaml:"tracing" toml:"tracing"`

	Logging struct {
		Level       *string `yaml:"level" toml:"level"`
		Development *bool   `yaml:"development" toml:"development"`
	} `yaml:"logging" toml:"logging"`

	Database struct {
		Driver *string `yaml:"driver" toml:"driver"`
		DSN    *string `yaml:"dsn" toml:"dsn"`
	} `yaml:"database" toml:"database"`

	Demo struct {
		TodoAPIURL *string `yaml:"todo_api_url" toml:"todo_api_url"`
		Timeout    *string `yaml:"timeout" toml:"timeout"`
	} `yaml:"demo" toml:"demo"`
}

// LoadFile reads a YAML (.yaml, .yml) or TOML (.toml) file and overlays it
// onto the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg := Default()
	if err := fc.apply(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	setString(&cfg.Server.Port, fc.Server.Port)
	setString(&cfg.Server.Host, fc.Server.Host)
	setBool(&cfg.Server.RateLimit, fc.Server.RateLimit)
	setInt(&cfg.Server.RateLimitRPS, fc.Server.RateLimitRPS)
	setInt(&cfg.Server.RateLimitBurst, fc.Server.RateLimitBurst)

	t := &cfg.Tracing
	ft := fc.Tracing
	setString(&t.ServiceName, ft.ServiceName)
	setString(&t.ServiceVersion, ft.ServiceVersion)
	setString(&t.Environment, ft.Environment)
	setString(&t.Endpoint, ft.Endpoint)
	setBool(&t.Insecure, ft.Insecure)
	setBool(&t.Console, ft.Console)
	setString(&t.ConsoleFormat, ft.ConsoleFormat)
	setInt(&t.BatchSize, ft.BatchSize)
	setInt(&t.QueueSize, ft.QueueSize)
	setInt(&t.MaxRetries, ft.MaxRetries)
	setInt(&t.MaxDepth, ft.MaxDepth)
	setInt(&t.MemoryTraces, ft.MemoryTraces)
	setBool(&t.Propagation, ft.Propagation)
	if len(ft.KafkaBrokers) > 0 {
		t.KafkaBrokers = ft.KafkaBrokers
	}
	setString(&t.KafkaTopic, ft.KafkaTopic)
	setString(&t.RedisURL, ft.RedisURL)
	setString(&t.RedisStream, ft.RedisStream)
	if ft.RedisMaxLen != nil {
		t.RedisMaxLen = *ft.RedisMaxLen
	}

	durations := []struct {
		name string
		dst  *time.Duration
		src  *string
	}{
		{"tracing.max_delay", &t.MaxDelay, ft.MaxDelay},
		{"tracing.connect_timeout", &t.ConnectTimeout, ft.ConnectTimeout},
		{"tracing.export_timeout", &t.ExportTimeout, ft.ExportTimeout},
		{"tracing.retry_backoff", &t.RetryBackoff, ft.RetryBackoff},
		{"demo.timeout", &cfg.Demo.Timeout, fc.Demo.Timeout},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}

	setString(&cfg.Logging.Level, fc.Logging.Level)
	setBool(&cfg.Logging.Development, fc.Logging.Development)
	setString(&cfg.Database.Driver, fc.Database.Driver)
	setString(&cfg.Database.DSN, fc.Database.DSN)
	setString(&cfg.Demo.TodoAPIURL, fc.Demo.TodoAPIURL)
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}
