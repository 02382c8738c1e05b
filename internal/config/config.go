// Package config resolves service configuration. Values come from an
// optional YAML file overlaid by environment variables; the environment
// always wins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the service reads at startup.
type Config struct {
	Environment   string `yaml:"environment"`
	ListenPort    int    `yaml:"listen_port"`
	AllowedOrigin string `yaml:"allowed_origin"`

	UpstreamToken   string `yaml:"-"` // env only, never written to a file
	UpstreamBaseURL string `yaml:"upstream_base_url"`

	RemoteCacheURL string `yaml:"remote_cache_url"`
	CachePromote   bool   `yaml:"cache_promote"`

	MinIntervalMS int `yaml:"upstream_min_interval_ms"`
	MaxRetries    int `yaml:"upstream_max_retries"`
	RetryBaseMS   int `yaml:"upstream_retry_base_ms"`
	PageSize      int `yaml:"page_size"`
	PageLimit     int `yaml:"page_limit"`
}

func defaults() Config {
	return Config{
		Environment:   "development",
		ListenPort:    3001,
		AllowedOrigin: "http://localhost:5173",
		MinIntervalMS: 800,
		MaxRetries:    3,
		RetryBaseMS:   2000,
		PageSize:      30,
		PageLimit:     10,
	}
}

// Load resolves configuration from defaults, an optional YAML file, and
// the environment, then validates it. A missing UPSTREAM_TOKEN is fatal.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if cfg.UpstreamToken == "" {
		return nil, fmt.Errorf("UPSTREAM_TOKEN is required")
	}
	if cfg.MinIntervalMS <= 0 || cfg.PageSize <= 0 || cfg.PageLimit <= 0 {
		return nil, fmt.Errorf("intervals and page settings must be positive")
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	envString("ENVIRONMENT", &cfg.Environment)
	envInt("LISTEN_PORT", &cfg.ListenPort)
	envString("ALLOWED_ORIGIN", &cfg.AllowedOrigin)
	envString("UPSTREAM_TOKEN", &cfg.UpstreamToken)
	envString("UPSTREAM_BASE_URL", &cfg.UpstreamBaseURL)
	envString("REMOTE_CACHE_URL", &cfg.RemoteCacheURL)
	envBool("CACHE_PROMOTE", &cfg.CachePromote)
	envInt("UPSTREAM_MIN_INTERVAL_MS", &cfg.MinIntervalMS)
	envInt("UPSTREAM_MAX_RETRIES", &cfg.MaxRetries)
	envInt("UPSTREAM_RETRY_BASE_MS", &cfg.RetryBaseMS)
	envInt("PAGE_SIZE", &cfg.PageSize)
	envInt("PAGE_LIMIT", &cfg.PageLimit)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// MinInterval returns the upstream dispatch gap as a duration.
func (c *Config) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMS) * time.Millisecond
}

// RetryBase returns the retry backoff base as a duration.
func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseMS) * time.Millisecond
}
