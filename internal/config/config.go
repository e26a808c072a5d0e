// Package config defines the single Config struct the orchestrator and
// its components are constructed from, matching every default spec.md
// §6 enumerates.
//
// Grounded on the teacher's internal/config.Config: a nested-struct,
// tag-decodable config with a DefaultConfig constructor plus
// LoadFromFile/LoadFromEnv override layering. This module swaps the
// teacher's JSON decoding for YAML (gopkg.in/yaml.v3, per this module's
// domain-stack wiring) and replaces the VM-platform sections
// (Firecracker, Docker, Postgres, GRPC, Auth, RateLimit, Secrets) with
// the orchestration core's own sections.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderPolicyConfig controls provider selection order and mode.
type ProviderPolicyConfig struct {
	Order          []string `yaml:"order"`
	ParallelDetect bool     `yaml:"parallel_detect"`
}

// HealthcheckConfig controls the watchdog's richer stall-confirmation check.
type HealthcheckConfig struct {
	IntervalMs             int64 `yaml:"interval_ms"`              // 5000
	StalledThresholdMs     int64 `yaml:"stalled_threshold_ms"`     // 30000
	PingTimeoutMs          int64 `yaml:"ping_timeout_ms"`          // 5000
	StalledTimeoutMultiplier int `yaml:"stalled_timeout_multiplier"` // 3
}

// WatchdogConfig controls the deadline/stall monitor's tick cadence and
// per-state deadline overrides.
type WatchdogConfig struct {
	CheckIntervalMs  int64            `yaml:"check_interval_ms"` // 1000
	DeadlineOverrides map[string]int64 `yaml:"deadline_overrides,omitempty"`
}

// RetryConfig controls the per-request decoding-budget ledger.
type RetryConfig struct {
	MaxRetries      int     `yaml:"max_retries"`      // 2
	ReductionFactor float64 `yaml:"reduction_factor"` // 0.8
	MinTokens       int     `yaml:"min_tokens"`       // 50
}

// CacheConfig controls the LRU model-cache manager's eviction thresholds.
type CacheConfig struct {
	MaxUsageRatio float64 `yaml:"max_usage_ratio"` // 0.8
	MinFreeBytes  int64   `yaml:"min_free_bytes"`  // 200 MiB
	PreferOPFS    bool    `yaml:"prefer_opfs"`     // true
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`     // otlp-http (or otlp), stdout
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `yaml:"enabled"`
	Namespace        string    `yaml:"namespace"`
	HistogramBuckets []float64 `yaml:"histogram_buckets,omitempty"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level          string `yaml:"level"`  // debug, info, warn, error
	Format         string `yaml:"format"` // text, json
	IncludeTraceID bool   `yaml:"include_trace_id"`
	EventLogSize   int    `yaml:"event_log_size"` // ring buffer capacity, default 256
}

// ObservabilityConfig groups the ambient tracing/metrics/logging sections.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// Config is the central struct the orchestrator and its components are
// constructed from (spec.md §6's enumerated configuration surface, plus
// the ambient observability stack).
type Config struct {
	ProviderPolicy    ProviderPolicyConfig `yaml:"provider_policy"`
	PrivacyMode       string               `yaml:"privacy_mode"` // "strict" | "any"
	MaxLoadedModels   int                  `yaml:"max_loaded_models"`
	AutoUnload        bool                 `yaml:"auto_unload"`
	TimeoutMultiplier float64              `yaml:"timeout_multiplier"`

	Healthcheck HealthcheckConfig `yaml:"healthcheck"`
	Watchdog    WatchdogConfig    `yaml:"watchdog"`
	Retry       RetryConfig       `yaml:"retry"`
	Cache       CacheConfig       `yaml:"cache"`

	Observability ObservabilityConfig `yaml:"observability"`
}

// DefaultConfig returns a Config with every default spec.md §6 names.
func DefaultConfig() *Config {
	return &Config{
		ProviderPolicy: ProviderPolicyConfig{
			Order: []string{"native", "gpu", "wasm", "mock"},
		},
		PrivacyMode:       "any",
		MaxLoadedModels:   2,
		AutoUnload:        true,
		TimeoutMultiplier: 1.0,
		Healthcheck: HealthcheckConfig{
			IntervalMs:               5_000,
			StalledThresholdMs:       30_000,
			PingTimeoutMs:            5_000,
			StalledTimeoutMultiplier: 3,
		},
		Watchdog: WatchdogConfig{
			CheckIntervalMs: 1_000,
		},
		Retry: RetryConfig{
			MaxRetries:      2,
			ReductionFactor: 0.8,
			MinTokens:       50,
		},
		Cache: CacheConfig{
			MaxUsageRatio: 0.8,
			MinFreeBytes:  200 * 1024 * 1024,
			PreferOPFS:    true,
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "stdout",
				ServiceName: "llmcore",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:          true,
				Namespace:        "llmcore",
				HistogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			Logging: LoggingConfig{
				Level:        "info",
				Format:       "text",
				EventLogSize: 256,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file, starting from
// DefaultConfig so unset fields keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to cfg.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("LLMCORE_PRIVACY_MODE"); v != "" {
		cfg.PrivacyMode = v
	}
	if v := os.Getenv("LLMCORE_PROVIDER_ORDER"); v != "" {
		cfg.ProviderPolicy.Order = strings.Split(v, ",")
	}
	if v := os.Getenv("LLMCORE_MAX_LOADED_MODELS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxLoadedModels = n
		}
	}
	if v := os.Getenv("LLMCORE_AUTO_UNLOAD"); v != "" {
		cfg.AutoUnload = parseBool(v)
	}
	if v := os.Getenv("LLMCORE_TIMEOUT_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.TimeoutMultiplier = f
		}
	}

	if v := os.Getenv("LLMCORE_RETRY_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxRetries = n
		}
	}
	if v := os.Getenv("LLMCORE_RETRY_REDUCTION_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Retry.ReductionFactor = f
		}
	}
	if v := os.Getenv("LLMCORE_RETRY_MIN_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MinTokens = n
		}
	}

	if v := os.Getenv("LLMCORE_CACHE_MAX_USAGE_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Cache.MaxUsageRatio = f
		}
	}
	if v := os.Getenv("LLMCORE_CACHE_MIN_FREE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Cache.MinFreeBytes = n
		}
	}

	if v := os.Getenv("LLMCORE_WATCHDOG_CHECK_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Watchdog.CheckIntervalMs = n
		}
	}

	if v := os.Getenv("LLMCORE_HEALTHCHECK_STALLED_THRESHOLD_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Healthcheck.StalledThresholdMs = n
		}
	}
	if v := os.Getenv("LLMCORE_HEALTHCHECK_PING_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Healthcheck.PingTimeoutMs = n
		}
	}

	if v := os.Getenv("LLMCORE_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("LLMCORE_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("LLMCORE_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("LLMCORE_LOG_LEVEL"); v != "" {
		cfg.Observability.Logging.Level = v
	}
	if v := os.Getenv("LLMCORE_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
}

// WatchdogDeadlineMs resolves a per-state deadline override, falling
// back to ok=false when none is configured for state.
func (c *Config) WatchdogDeadlineMs(state string) (int64, bool) {
	if c.Watchdog.DeadlineOverrides == nil {
		return 0, false
	}
	ms, ok := c.Watchdog.DeadlineOverrides[state]
	return ms, ok
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}

// CheckInterval returns the watchdog tick cadence as a time.Duration.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Watchdog.CheckIntervalMs) * time.Millisecond
}
