// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// LOAD TESTS
// =============================================================================

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Backend.URL, cfg.Backend.URL)
	assert.Equal(t, def.Typewriter.BaseCPS, cfg.Typewriter.BaseCPS)
	assert.Equal(t, def.Retry.MaxAttempts, cfg.Retry.MaxAttempts)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[backend]
url = "https://chat.example.com"

[typewriter]
base_cps = 60.0
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://chat.example.com", cfg.Backend.URL)
	assert.Equal(t, 60.0, cfg.Typewriter.BaseCPS)
	// Everything unspecified is defaulted.
	assert.Equal(t, 10, cfg.Backend.TimeoutSecs)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`not toml {{{`), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHATWIRE_BACKEND_URL", "http://override:9999")
	t.Setenv("CHATWIRE_LOG_LEVEL", "debug")
	t.Setenv("CHATWIRE_TIMEOUT_SECS", "30")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, "http://override:9999", cfg.Backend.URL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 30, cfg.Backend.TimeoutSecs)
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())

	cfg.Backend.URL = "not a url"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Logging.Level = "loud"
	assert.Error(t, cfg.Validate())
}

// =============================================================================
// SAVE / RELOAD TESTS
// =============================================================================

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Backend.URL = "https://saved.example.com"
	cfg.Retry.MaxAttempts = 7
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://saved.example.com", loaded.Backend.URL)
	assert.Equal(t, 7, loaded.Retry.MaxAttempts)
}

func TestWatchSeesAtomicSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Default().Save(path))

	var mu sync.Mutex
	var got *Config
	w, err := Watch(path, nil, func(c *Config) {
		mu.Lock()
		got = c
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()

	cfg := Default()
	cfg.Backend.URL = "https://reloaded.example.com"
	require.NoError(t, cfg.Save(path))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil && got.Backend.URL == "https://reloaded.example.com"
	}, 3*time.Second, 10*time.Millisecond, "watcher never delivered the reload")
}

// =============================================================================
// DERIVED VALUE TESTS
// =============================================================================

func TestDerivedValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 10*time.Second, cfg.Backend.Timeout())
	assert.Equal(t, time.Second, cfg.Retry.InitialDelay())
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay())
	assert.InDelta(t, 0.25, cfg.Typewriter.JitterFrac(), 1e-9)
}
