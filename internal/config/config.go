package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the profile-level config.toml.
type Config struct {
	DataDir string `toml:"data_dir"`

	// Retention horizon for pruned entities, in days.
	MessageRetentionDays int `toml:"message_retention_days"`
	SearchRetentionDays  int `toml:"search_retention_days"`

	// SQLite page cache size in KiB (passed as a negative _cache_size).
	CacheSizeKiB int `toml:"cache_size_kib"`

	// Connectivity probing.
	ProbeIntervalMS int `toml:"probe_interval_ms"`
	DebounceMS      int `toml:"debounce_ms"`

	// Outbox sweep cadence.
	SweepIntervalMS int `toml:"sweep_interval_ms"`

	// Interactive retry bounds.
	MaxRetryFailures  int `toml:"max_retry_failures"`
	RetryCooldownSecs int `toml:"retry_cooldown_secs"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		MessageRetentionDays: 90,
		SearchRetentionDays:  30,
		CacheSizeKiB:         8192,
		ProbeIntervalMS:      5000,
		DebounceMS:           750,
		SweepIntervalMS:      2000,
		MaxRetryFailures:     3,
		RetryCooldownSecs:    30,
	}
}

// Load reads config from the given path. Missing file yields defaults;
// present fields override them.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// ProbeInterval returns the connectivity probe cadence.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalMS) * time.Millisecond
}

// Debounce returns the connectivity transition hold time.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// SweepInterval returns the outbox sweep cadence.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMS) * time.Millisecond
}

// RetryCooldown returns the circuit-breaker cooldown.
func (c *Config) RetryCooldown() time.Duration {
	return time.Duration(c.RetryCooldownSecs) * time.Second
}
