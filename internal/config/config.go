// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath string
	LogLevel     string
	UserAgent    string

	IngestInterval   time.Duration
	ConvertInterval  time.Duration
	DispatchInterval time.Duration

	IngestConcurrency   int
	ConvertConcurrency  int
	DispatchConcurrency int
}

// Load reads configuration from environment variables, applying
// defaults for everything unset.
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:        envDefault("DATABASE_PATH", "./data/dealpipe.db"),
		LogLevel:            envDefault("LOG_LEVEL", "info"),
		UserAgent:           envDefault("FEED_USER_AGENT", "DealPipe/1.0"),
		IngestInterval:      10 * time.Minute,
		ConvertInterval:     2 * time.Minute,
		DispatchInterval:    1 * time.Minute,
		IngestConcurrency:   2,
		ConvertConcurrency:  5,
		DispatchConcurrency: 3,
	}

	var err error
	if cfg.IngestInterval, err = envDuration("INGEST_INTERVAL", cfg.IngestInterval); err != nil {
		return nil, err
	}
	if cfg.ConvertInterval, err = envDuration("CONVERT_INTERVAL", cfg.ConvertInterval); err != nil {
		return nil, err
	}
	if cfg.DispatchInterval, err = envDuration("DISPATCH_INTERVAL", cfg.DispatchInterval); err != nil {
		return nil, err
	}
	if cfg.IngestConcurrency, err = envInt("INGEST_CONCURRENCY", cfg.IngestConcurrency); err != nil {
		return nil, err
	}
	if cfg.ConvertConcurrency, err = envInt("CONVERT_CONCURRENCY", cfg.ConvertConcurrency); err != nil {
		return nil, err
	}
	if cfg.DispatchConcurrency, err = envInt("DISPATCH_CONCURRENCY", cfg.DispatchConcurrency); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q in %s: %w", raw, key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", key, raw)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q in %s: %w", raw, key, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("%s must be at least 1, got %d", key, n)
	}
	return n, nil
}
