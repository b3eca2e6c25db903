package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chichichkin/bootlog/internal/logging"
	"github.com/Chichichkin/bootlog/internal/logging/cache"
	"github.com/Chichichkin/bootlog/internal/logging/dispatch"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, cache.Retain, cfg.CachePolicy())
	assert.Equal(t, dispatch.Block, cfg.OverflowPolicy())
	assert.Equal(t, 5*time.Second, cfg.StopTimeout())
	assert.Equal(t, 30*time.Second, cfg.ScanInterval())
}

func TestValidate_PolicyErrorsAreConfigErrors(t *testing.T) {
	cfg := defaults()
	cfg.Bootstrap.CachePolicy = "soft"

	err := cfg.Validate()
	var cfgErr *logging.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "soft", cfgErr.Value)

	cfg = defaults()
	cfg.Dispatch.Overflow = "drop_newest"
	require.ErrorAs(t, cfg.Validate(), &cfgErr)
	assert.Equal(t, "drop_newest", cfgErr.Value)
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(*Config){
		"capacity":  func(c *Config) { c.Dispatch.Capacity = 0 },
		"loki url":  func(c *Config) { c.Loki.URL = "" },
		"root path": func(c *Config) { c.Tail.RootPath = "" },
		"pattern":   func(c *Config) { c.Tail.Pattern = "[" },
		"level":     func(c *Config) { c.Logging.Level = "verbose" },
		"format":    func(c *Config) { c.Logging.Format = "xml" },
	}
	for name, mutate := range cases {
		cfg := defaults()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootlog.toml")
	content := `
[bootstrap]
cache_policy = "weak"
cache_max_events = 50

[dispatch]
capacity = 16
overflow = "drop_oldest"
stop_timeout_ms = 250

[logging]
level = "debug"
format = "console"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, cache.Weak, cfg.CachePolicy())
	assert.Equal(t, 50, cfg.Bootstrap.CacheMaxEvents)
	assert.Equal(t, 16, cfg.Dispatch.Capacity)
	assert.Equal(t, dispatch.DropOldest, cfg.OverflowPolicy())
	assert.Equal(t, 250*time.Millisecond, cfg.StopTimeout())
	assert.Equal(t, "console", cfg.Logging.Format)
	// untouched sections keep their defaults
	assert.Equal(t, "http://loki:3100", cfg.Loki.URL)
	assert.Equal(t, "*.log", cfg.Tail.Pattern)
}

func TestLoad_InvalidPolicyInFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootlog.toml")
	require.NoError(t, os.WriteFile(path, []byte("[bootstrap]\ncache_policy = \"soft\"\n"), 0644))

	_, err := Load(path)
	var cfgErr *logging.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("BOOTLOG_CONFIG_FILE", "")
	t.Setenv("BOOTLOG_CONFIG_DIR", "")
	assert.Equal(t, "bootlog.toml", DefaultPath())

	t.Setenv("BOOTLOG_CONFIG_DIR", "/etc/bootlog")
	assert.Equal(t, filepath.Join("/etc/bootlog", "bootlog.toml"), DefaultPath())

	t.Setenv("BOOTLOG_CONFIG_FILE", "agent.toml")
	assert.Equal(t, filepath.Join("/etc/bootlog", "agent.toml"), DefaultPath())

	t.Setenv("BOOTLOG_CONFIG_FILE", "/abs/agent.toml")
	assert.Equal(t, "/abs/agent.toml", DefaultPath())
}
