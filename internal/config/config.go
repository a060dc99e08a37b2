// Package config holds the engine configuration: VM resource limits,
// the default sampling rate, and the observability settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LimitsConfig bounds one probe execution.
type LimitsConfig struct {
	StackDepth      int `json:"stack_depth" yaml:"stack_depth"`             // VM value stack slots (default: 256)
	MaxInstructions int `json:"max_instructions" yaml:"max_instructions"`   // per-execution instruction cap (default: 10000)
	MaxCaptureBytes int `json:"max_capture_bytes" yaml:"max_capture_bytes"` // per-execution capture budget (default: 64KiB)
}

// SamplingConfig holds the default global sampling rate applied to
// programs compiled without an explicit rate.
type SamplingConfig struct {
	Rate float32 `json:"rate" yaml:"rate"` // [0,1], default 1.0
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text, json
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`     // Default: true
	Namespace string `json:"namespace" yaml:"namespace"` // hogtrace
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`           // Default: false
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // localhost:4318
	ServiceName string  `json:"service_name" yaml:"service_name"` // hogtrace
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 1.0
}

// RedisConfig holds the optional Redis-backed request store settings.
type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"` // Default: false
	Addr     string `json:"addr" yaml:"addr"`       // localhost:6379
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// Config is the central configuration struct embedding all component
// configs.
type Config struct {
	Limits   LimitsConfig   `json:"limits" yaml:"limits"`
	Sampling SamplingConfig `json:"sampling" yaml:"sampling"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Tracing  TracingConfig  `json:"tracing" yaml:"tracing"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Limits: LimitsConfig{
			StackDepth:      256,
			MaxInstructions: 10_000,
			MaxCaptureBytes: 64 << 10,
		},
		Sampling: SamplingConfig{Rate: 1.0},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "hogtrace",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			ServiceName: "hogtrace",
			SampleRate:  1.0,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, chosen by
// extension.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("HOGTRACE_STACK_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.StackDepth = n
		}
	}
	if v := os.Getenv("HOGTRACE_MAX_INSTRUCTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxInstructions = n
		}
	}
	if v := os.Getenv("HOGTRACE_MAX_CAPTURE_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxCaptureBytes = n
		}
	}
	if v := os.Getenv("HOGTRACE_SAMPLING_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.Sampling.Rate = float32(f)
		}
	}
	if v := os.Getenv("HOGTRACE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HOGTRACE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("HOGTRACE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("HOGTRACE_METRICS_NAMESPACE"); v != "" {
		cfg.Metrics.Namespace = v
	}
	if v := os.Getenv("HOGTRACE_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("HOGTRACE_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := os.Getenv("HOGTRACE_TRACING_SERVICE_NAME"); v != "" {
		cfg.Tracing.ServiceName = v
	}
	if v := os.Getenv("HOGTRACE_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Tracing.SampleRate = f
		}
	}
	if v := os.Getenv("HOGTRACE_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = parseBool(v)
	}
	if v := os.Getenv("HOGTRACE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("HOGTRACE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("HOGTRACE_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
