// Package config loads dxsync settings from a TOML file with
// environment-variable overrides. Resolution order: defaults, then the
// config file, then DXSYNC_* environment variables, then CLI flags
// (applied by the command layer).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the effective tool configuration.
type Config struct {
	// BaseURL is the tenant API origin, e.g.
	// "https://content.example.com/api/0000-1111".
	BaseURL string `toml:"base_url"`
	// TenantBaseURL optionally overrides the base per call.
	TenantBaseURL string `toml:"tenant_base_url"`
	// WorkingDir is the local working directory to sync.
	WorkingDir string `toml:"working_dir"`
	// Username for the authoring service login.
	Username string `toml:"username"`

	// Concurrency bounds the per-kind worker pool.
	Concurrency int `toml:"concurrency"`
	// Locale is sent as Accept-Language.
	Locale string `toml:"locale"`

	// Retry tuning for transient HTTP failures.
	RetryMaxAttempts int      `toml:"retry_max_attempts"`
	RetryMinTimeout  duration `toml:"retry_min_timeout"`
	RetryMaxTimeout  duration `toml:"retry_max_timeout"`
	RetryFactor      float64  `toml:"retry_factor"`
}

// duration wraps time.Duration for TOML decoding of values like "2s".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	*d = duration(parsed)

	return nil
}

// Duration returns the underlying time.Duration.
func (d duration) Duration() time.Duration {
	return time.Duration(d)
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		WorkingDir:       ".",
		Concurrency:      5,
		Locale:           "en",
		RetryMaxAttempts: 5,
		RetryMinTimeout:  duration(1 * time.Second),
		RetryMaxTimeout:  duration(60 * time.Second),
		RetryFactor:      2.0,
	}
}

// Load reads the config file at path (missing file falls back to
// defaults) and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: decoding %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// applyEnv overlays DXSYNC_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DXSYNC_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}

	if v := os.Getenv("DXSYNC_TENANT_BASE_URL"); v != "" {
		cfg.TenantBaseURL = v
	}

	if v := os.Getenv("DXSYNC_WORKING_DIR"); v != "" {
		cfg.WorkingDir = v
	}

	if v := os.Getenv("DXSYNC_USER"); v != "" {
		cfg.Username = v
	}

	if v := os.Getenv("DXSYNC_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}

	if v := os.Getenv("DXSYNC_LOCALE"); v != "" {
		cfg.Locale = v
	}
}

// validate rejects configurations the engine cannot run with.
func (c *Config) validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("config: concurrency must be positive, got %d", c.Concurrency)
	}

	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("config: retry_max_attempts must be positive, got %d", c.RetryMaxAttempts)
	}

	return nil
}
