package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	lconfig "github.com/lixenwraith/config"

	"github.com/Chichichkin/bootlog/internal/logging/cache"
	"github.com/Chichichkin/bootlog/internal/logging/dispatch"
)

const envPrefix = "BOOTLOG_"

type Config struct {
	Bootstrap BootstrapConfig `toml:"bootstrap"`
	Dispatch  DispatchConfig  `toml:"dispatch"`
	Loki      LokiConfig      `toml:"loki"`
	Tail      TailConfig      `toml:"tail"`
	Logging   LoggingConfig   `toml:"logging"`
}

type BootstrapConfig struct {
	// "off", "retain" or "weak"
	CachePolicy string `toml:"cache_policy"`
	// Event budget of the weak policy
	CacheMaxEvents int `toml:"cache_max_events"`
}

type DispatchConfig struct {
	Capacity int `toml:"capacity"`
	// "block" or "drop_oldest"
	Overflow      string `toml:"overflow"`
	StopTimeoutMs int64  `toml:"stop_timeout_ms"`
}

type LokiConfig struct {
	URL            string `toml:"url"`
	MaxRetries     int    `toml:"max_retries"`
	BatchSize      int    `toml:"batch_size"`
	BatchTimeoutMs int64  `toml:"batch_timeout_ms"`
	QueueSize      int    `toml:"queue_size"`
}

type TailConfig struct {
	RootPath       string `toml:"root_path"`
	Pattern        string `toml:"pattern"`
	ScanIntervalMs int64  `toml:"scan_interval_ms"`
	Workers        int    `toml:"workers"`
	QueueSize      int    `toml:"queue_size"`
	IdleTimeoutMs  int64  `toml:"idle_timeout_ms"`
	NodeName       string `toml:"node_name"`
}

type LoggingConfig struct {
	// "debug", "info", "warn", "error"
	Level string `toml:"level"`
	// "json" or "console"
	Format string `toml:"format"`
}

func defaults() *Config {
	return &Config{
		Bootstrap: BootstrapConfig{
			CachePolicy:    "retain",
			CacheMaxEvents: cache.DefaultMaxEvents,
		},
		Dispatch: DispatchConfig{
			Capacity:      1024,
			Overflow:      "block",
			StopTimeoutMs: 5000,
		},
		Loki: LokiConfig{
			URL:            "http://loki:3100",
			MaxRetries:     3,
			BatchSize:      1000,
			BatchTimeoutMs: 5000,
			QueueSize:      100,
		},
		Tail: TailConfig{
			RootPath:       "/var/log/pods",
			Pattern:        "*.log",
			ScanIntervalMs: 30000,
			Workers:        4,
			QueueSize:      50,
			IdleTimeoutMs:  300000,
			NodeName:       os.Getenv("NODE_NAME"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load merges defaults, the TOML file at path and BOOTLOG_* environment
// variables, in increasing priority. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg, err := lconfig.NewBuilder().
		WithDefaults(defaults()).
		WithEnvPrefix(envPrefix).
		WithFile(path).
		WithEnvTransform(envTransform).
		WithSources(
			lconfig.SourceEnv,
			lconfig.SourceFile,
			lconfig.SourceDefault,
		).
		Build()
	if err != nil {
		if !strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	finalConfig := &Config{}
	if err := cfg.Scan("", finalConfig); err != nil {
		return nil, fmt.Errorf("failed to scan config: %w", err)
	}

	return finalConfig, finalConfig.Validate()
}

func envTransform(path string) string {
	env := strings.ReplaceAll(path, ".", "_")
	return envPrefix + strings.ToUpper(env)
}

// DefaultPath resolves BOOTLOG_CONFIG_FILE, then BOOTLOG_CONFIG_DIR, then the
// working directory.
func DefaultPath() string {
	if configFile := os.Getenv("BOOTLOG_CONFIG_FILE"); configFile != "" {
		if filepath.IsAbs(configFile) {
			return configFile
		}
		if configDir := os.Getenv("BOOTLOG_CONFIG_DIR"); configDir != "" {
			return filepath.Join(configDir, configFile)
		}
		return configFile
	}

	if configDir := os.Getenv("BOOTLOG_CONFIG_DIR"); configDir != "" {
		return filepath.Join(configDir, "bootlog.toml")
	}
	return "bootlog.toml"
}

// Validate rejects settings the pipeline cannot be built from. Policy names
// are resolved here so misconfiguration fails before any event is accepted.
func (c *Config) Validate() error {
	if _, err := cache.ParsePolicy(c.Bootstrap.CachePolicy); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if _, err := dispatch.ParseOverflowPolicy(c.Dispatch.Overflow); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	if c.Dispatch.Capacity <= 0 {
		return fmt.Errorf("dispatch: capacity must be positive, got %d", c.Dispatch.Capacity)
	}
	if err := lconfig.NonEmpty(c.Loki.URL); err != nil {
		return fmt.Errorf("loki: url: %w", err)
	}
	if err := lconfig.NonEmpty(c.Tail.RootPath); err != nil {
		return fmt.Errorf("tail: root_path: %w", err)
	}
	if _, err := filepath.Match(c.Tail.Pattern, ""); err != nil {
		return fmt.Errorf("tail: pattern %q: %w", c.Tail.Pattern, err)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging: invalid level: %s", c.Logging.Level)
	}
	validFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging: invalid format: %s", c.Logging.Format)
	}
	return nil
}

func (c *Config) CachePolicy() cache.Policy {
	p, _ := cache.ParsePolicy(c.Bootstrap.CachePolicy)
	return p
}

func (c *Config) OverflowPolicy() dispatch.OverflowPolicy {
	p, _ := dispatch.ParseOverflowPolicy(c.Dispatch.Overflow)
	return p
}

func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Dispatch.StopTimeoutMs) * time.Millisecond
}

func (c *Config) BatchTimeout() time.Duration {
	return time.Duration(c.Loki.BatchTimeoutMs) * time.Millisecond
}

func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Tail.ScanIntervalMs) * time.Millisecond
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Tail.IdleTimeoutMs) * time.Millisecond
}
