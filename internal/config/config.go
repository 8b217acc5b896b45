// ABOUTME: Persistent application configuration
// ABOUTME: Loads and atomically saves a YAML file under ~/.config/tonearm
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ConfigDir      = ".config/tonearm"
	ConfigFileName = "config.yml"

	DefaultVolume = 70
	MinVolume     = 0
	MaxVolume     = 100

	DefaultCacheBudgetMB  = 512
	DefaultReadAheadKB    = 512
	DefaultMinBufferMs    = 200
	DefaultHTTPTimeoutSec = 15
	DefaultCatalogURL     = "https://catalog.tonearm.dev"
)

// ClampVolume ensures volume is within the valid range [0, 100].
func ClampVolume(volume int) int {
	if volume < MinVolume {
		return MinVolume
	}
	if volume > MaxVolume {
		return MaxVolume
	}
	return volume
}

// AppVersion can be overridden at build time using ldflags:
// go build -ldflags "-X github.com/tonearm/tonearm/internal/config.AppVersion=1.0.0"
var AppVersion = "dev"

type Config struct {
	Volume         int    `yaml:"volume"`
	CatalogURL     string `yaml:"catalog_url"`
	CacheDir       string `yaml:"cache_dir"`
	CacheBudgetMB  int    `yaml:"cache_budget_mb"`
	ReadAheadKB    int    `yaml:"read_ahead_kb"`
	MinBufferMs    int    `yaml:"min_buffer_ms"`
	HTTPTimeoutSec int    `yaml:"http_timeout_sec"`
	LastTrack      string `yaml:"last_track"`
}

// CacheBudget is the cache size cap in bytes.
func (c *Config) CacheBudget() int64 {
	return int64(c.CacheBudgetMB) * 1024 * 1024
}

// ReadAhead is the streaming read-ahead window in bytes.
func (c *Config) ReadAhead() int64 {
	return int64(c.ReadAheadKB) * 1024
}

// MinBuffer is how much decoded audio must be queued before playback starts.
func (c *Config) MinBuffer() time.Duration {
	return time.Duration(c.MinBufferMs) * time.Millisecond
}

// HTTPTimeout bounds individual catalog and media requests.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSec) * time.Second
}

func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, ConfigDir, ConfigFileName), nil
}

func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return DefaultConfig(), err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.normalize()

	return cfg, nil
}

// normalize pulls out-of-range values back to sane defaults.
func (c *Config) normalize() {
	c.Volume = ClampVolume(c.Volume)
	if c.CacheBudgetMB <= 0 {
		c.CacheBudgetMB = DefaultCacheBudgetMB
	}
	if c.ReadAheadKB <= 0 {
		c.ReadAheadKB = DefaultReadAheadKB
	}
	if c.MinBufferMs <= 0 {
		c.MinBufferMs = DefaultMinBufferMs
	}
	if c.HTTPTimeoutSec <= 0 {
		c.HTTPTimeoutSec = DefaultHTTPTimeoutSec
	}
	if c.CatalogURL == "" {
		c.CatalogURL = DefaultCatalogURL
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir()
	}
}

// Save writes the configuration to disk atomically using temp file + rename.
func (c *Config) Save() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpFile, err := os.CreateTemp(configDir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, configPath); err != nil {
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	tmpPath = "" // Prevent defer from removing the final file
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Volume:         DefaultVolume,
		CatalogURL:     DefaultCatalogURL,
		CacheDir:       defaultCacheDir(),
		CacheBudgetMB:  DefaultCacheBudgetMB,
		ReadAheadKB:    DefaultReadAheadKB,
		MinBufferMs:    DefaultMinBufferMs,
		HTTPTimeoutSec: DefaultHTTPTimeoutSec,
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "tonearm")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "tonearm-cache")
	}
	return filepath.Join(home, ".cache", "tonearm")
}
