// Package config holds cachectl's settings: defaults, then an optional YAML
// file, then PEAKCACHE_* env overrides, in that order.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is everything cachectl needs to reach and administer the cache.
type Config struct {
	// DSN is the Postgres connection string.
	DSN string

	// SweepInterval is the cadence of the long-running sweeper.
	SweepInterval time.Duration
}

// fileConfig is the YAML shape; durations are written as strings like "5m".
type fileConfig struct {
	DSN           string `yaml:"dsn"`
	SweepInterval string `yaml:"sweep_interval"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		SweepInterval: 5 * time.Minute,
	}
}

// Load builds the effective config. path may be empty, in which case only
// defaults and env apply; a named file that is missing is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := cfg.applyFile(fc); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyFile(fc fileConfig) error {
	if fc.DSN != "" {
		c.DSN = fc.DSN
	}
	if fc.SweepInterval != "" {
		d, err := time.ParseDuration(fc.SweepInterval)
		if err != nil {
			return fmt.Errorf("sweep_interval: %w", err)
		}
		c.SweepInterval = d
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PEAKCACHE_DSN"); v != "" {
		c.DSN = v
	}
	if v := os.Getenv("PEAKCACHE_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SweepInterval = d
		}
	}
}
