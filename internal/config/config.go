package config

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"queuectl/internal/repository"
)

// Keys for the tunables the core consults.
const (
	KeyMaxRetries         = "max_retries"
	KeyBaseDelay          = "base_delay"
	KeyMultiplier         = "multiplier"
	KeyMaxDelay           = "max_delay"
	KeyPollInterval       = "poll_interval"
	KeyJobTimeout         = "job_timeout"
	KeyAbandonedThreshold = "abandoned_threshold"
	KeyWorkerCount        = "worker_count"
	KeyLogLevel           = "log_level"
)

// Defaults are seeded into the config table on first use. Existing values
// are never overwritten.
var Defaults = map[string]string{
	KeyMaxRetries:         "3",
	KeyBaseDelay:          "1s",
	KeyMultiplier:         "2",
	KeyMaxDelay:           "5m",
	KeyPollInterval:       "1s",
	KeyJobTimeout:         "1h",
	KeyAbandonedThreshold: "1h",
	KeyWorkerCount:        "1",
	KeyLogLevel:           "info",
}

// Config reads tunables from the durable key-value config table. The core
// only consumes these values; the CLI collaborator owns writes.
type Config struct {
	repo repository.ConfigRepository
}

// New creates a Config backed by repo and seeds missing defaults.
func New(ctx context.Context, repo repository.ConfigRepository) (*Config, error) {
	existing, err := repo.AllConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	for key, value := range Defaults {
		if _, ok := existing[key]; !ok {
			if err := repo.SetConfig(ctx, key, value); err != nil {
				return nil, fmt.Errorf("failed to seed config default %s: %w", key, err)
			}
		}
	}
	return &Config{repo: repo}, nil
}

// Get returns the stored value for key, falling back to the compiled-in
// default when the key is absent.
func (c *Config) Get(ctx context.Context, key string) (string, error) {
	value, ok, err := c.repo.GetConfig(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return Defaults[key], nil
	}
	return value, nil
}

// GetInt returns the value for key as an integer, or fallback when the
// value is missing or unparseable.
func (c *Config) GetInt(ctx context.Context, key string, fallback int) int {
	value, err := c.Get(ctx, key)
	if err != nil || value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

// GetFloat returns the value for key as a float, or fallback when the
// value is missing or unparseable.
func (c *Config) GetFloat(ctx context.Context, key string, fallback float64) float64 {
	value, err := c.Get(ctx, key)
	if err != nil || value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return f
}

// GetDuration returns the value for key as a duration, or fallback when the
// value is missing or unparseable. Plain numbers are read as seconds so
// values like "30" keep working.
func (c *Config) GetDuration(ctx context.Context, key string, fallback time.Duration) time.Duration {
	value, err := c.Get(ctx, key)
	if err != nil || value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

// Set stores a config value.
func (c *Config) Set(ctx context.Context, key, value string) error {
	return c.repo.SetConfig(ctx, key, value)
}

// All returns every stored config entry.
func (c *Config) All(ctx context.Context) (map[string]string, error) {
	return c.repo.AllConfig(ctx)
}
