package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Limits.StackDepth != 256 || cfg.Limits.MaxInstructions != 10_000 {
		t.Fatalf("default limits = %+v", cfg.Limits)
	}
	if cfg.Sampling.Rate != 1.0 {
		t.Fatalf("default sampling = %v", cfg.Sampling.Rate)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Namespace != "hogtrace" {
		t.Fatalf("default metrics = %+v", cfg.Metrics)
	}
	if cfg.Tracing.Enabled || cfg.Redis.Enabled {
		t.Fatal("tracing/redis enabled by default")
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hogtrace.yaml")
	data := `
limits:
  max_instructions: 500
sampling:
  rate: 0.25
logging:
  format: json
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Limits.MaxInstructions != 500 {
		t.Fatalf("max_instructions = %d", cfg.Limits.MaxInstructions)
	}
	if cfg.Sampling.Rate != 0.25 {
		t.Fatalf("rate = %v", cfg.Sampling.Rate)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("format = %q", cfg.Logging.Format)
	}
	// Untouched fields keep their defaults.
	if cfg.Limits.StackDepth != 256 {
		t.Fatalf("stack_depth = %d", cfg.Limits.StackDepth)
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hogtrace.json")
	data := `{"limits": {"stack_depth": 128}, "redis": {"enabled": true, "addr": "redis:6379"}}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Limits.StackDepth != 128 {
		t.Fatalf("stack_depth = %d", cfg.Limits.StackDepth)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "redis:6379" {
		t.Fatalf("redis = %+v", cfg.Redis)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOGTRACE_MAX_INSTRUCTIONS", "2000")
	t.Setenv("HOGTRACE_SAMPLING_RATE", "0.1")
	t.Setenv("HOGTRACE_LOG_LEVEL", "debug")
	t.Setenv("HOGTRACE_METRICS_ENABLED", "false")
	t.Setenv("HOGTRACE_REDIS_ADDR", "cache:6379")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Limits.MaxInstructions != 2000 {
		t.Fatalf("max_instructions = %d", cfg.Limits.MaxInstructions)
	}
	if cfg.Sampling.Rate != 0.1 {
		t.Fatalf("rate = %v", cfg.Sampling.Rate)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	if cfg.Metrics.Enabled {
		t.Fatal("metrics override ignored")
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "cache:6379" {
		t.Fatalf("redis = %+v", cfg.Redis)
	}
}
