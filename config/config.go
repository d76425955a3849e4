// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for
// chatwire.
//
// Configuration is TOML with sensible defaults and environment variable
// overrides. A missing file is not an error; defaults apply.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/chatwire/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chatwire configuration.
type Config struct {
	// StatePath is the location of the local state database
	// (default: ~/.chatwire/state.db).
	StatePath string `toml:"state_path"`

	Backend    BackendConfig    `toml:"backend"`
	Typewriter TypewriterConfig `toml:"typewriter"`
	Retry      RetryConfig      `toml:"retry"`
	Logging    LoggingConfig    `toml:"logging"`
}

// BackendConfig configures the chat service client.
type BackendConfig struct {
	// URL is the chat service base URL.
	URL string `toml:"url"`
	// TimeoutSecs bounds session CRUD calls (default: 10).
	TimeoutSecs int `toml:"timeout_secs"`
	// RequestsPerSecond throttles outgoing requests (default: 10).
	RequestsPerSecond float64 `toml:"requests_per_second"`
	// Burst is the throttle burst size (default: 20).
	Burst int `toml:"burst"`
}

// TypewriterConfig configures the reveal animation.
type TypewriterConfig struct {
	// BaseCPS is the base reveal rate in characters per second.
	BaseCPS float64 `toml:"base_cps"`
	// JitterPct randomizes per-tick timing within ±JitterPct percent.
	JitterPct int `toml:"jitter_pct"`
	// CatchUpThreshold is the backlog beyond which the rate scales up.
	CatchUpThreshold int `toml:"catch_up_threshold"`
	// MaxBoost caps the catch-up multiplier.
	MaxBoost float64 `toml:"max_boost"`
}

// RetryConfig configures the retry executor defaults.
type RetryConfig struct {
	MaxAttempts    int     `toml:"max_attempts"`
	InitialDelayMs int     `toml:"initial_delay_ms"`
	MaxDelayMs     int     `toml:"max_delay_ms"`
	Multiplier     float64 `toml:"multiplier"`
}

// LoggingConfig configures diagnostic logging.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error" (default: "warn").
	Level string `toml:"level"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StatePath: defaultStatePath(),
		Backend: BackendConfig{
			URL:               "http://127.0.0.1:8080",
			TimeoutSecs:       10,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Typewriter: TypewriterConfig{
			BaseCPS:          40,
			JitterPct:        25,
			CatchUpThreshold: 80,
			MaxBoost:         8,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialDelayMs: 1000,
			MaxDelayMs:     30000,
			Multiplier:     2,
		},
		Logging: LoggingConfig{Level: "warn"},
	}
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chatwire-state.db"
	}
	return home + "/.chatwire/state.db"
}

// fillDefaults replaces zero values with defaults.
func (c *Config) fillDefaults() {
	def := Default()
	if c.StatePath == "" {
		c.StatePath = def.StatePath
	}
	if c.Backend.URL == "" {
		c.Backend.URL = def.Backend.URL
	}
	if c.Backend.TimeoutSecs <= 0 {
		c.Backend.TimeoutSecs = def.Backend.TimeoutSecs
	}
	if c.Backend.RequestsPerSecond <= 0 {
		c.Backend.RequestsPerSecond = def.Backend.RequestsPerSecond
	}
	if c.Backend.Burst <= 0 {
		c.Backend.Burst = def.Backend.Burst
	}
	if c.Typewriter.BaseCPS <= 0 {
		c.Typewriter.BaseCPS = def.Typewriter.BaseCPS
	}
	if c.Typewriter.JitterPct <= 0 {
		c.Typewriter.JitterPct = def.Typewriter.JitterPct
	}
	if c.Typewriter.CatchUpThreshold <= 0 {
		c.Typewriter.CatchUpThreshold = def.Typewriter.CatchUpThreshold
	}
	if c.Typewriter.MaxBoost <= 0 {
		c.Typewriter.MaxBoost = def.Typewriter.MaxBoost
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if c.Retry.InitialDelayMs <= 0 {
		c.Retry.InitialDelayMs = def.Retry.InitialDelayMs
	}
	if c.Retry.MaxDelayMs <= 0 {
		c.Retry.MaxDelayMs = def.Retry.MaxDelayMs
	}
	if c.Retry.Multiplier <= 0 {
		c.Retry.Multiplier = def.Retry.Multiplier
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// applyEnv overlays CHATWIRE_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("CHATWIRE_BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("CHATWIRE_STATE_PATH"); v != "" {
		c.StatePath = v
	}
	if v := os.Getenv("CHATWIRE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CHATWIRE_TIMEOUT_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Backend.TimeoutSecs = n
		}
	}
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads configuration from path, fills defaults, applies environment
// overrides, and validates. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.fillDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the rest of the system
// cannot work with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid backend url: %q", c.Backend.URL)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	return nil
}

// Save writes the configuration to path atomically.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0644)
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// Timeout returns the CRUD timeout as a duration.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSecs) * time.Second
}

// InitialDelay returns the first backoff as a duration.
func (r RetryConfig) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff cap as a duration.
func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

// JitterFrac returns the jitter band as a fraction.
func (t TypewriterConfig) JitterFrac() float64 {
	return float64(t.JitterPct) / 100
}
