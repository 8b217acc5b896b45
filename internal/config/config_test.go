// ABOUTME: Tests for configuration load, save, and normalization
// ABOUTME: Uses a temp HOME so the real user config is never touched
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Volume != DefaultVolume {
		t.Errorf("DefaultConfig().Volume = %d, want %d", cfg.Volume, DefaultVolume)
	}

	if cfg.CacheBudgetMB != DefaultCacheBudgetMB {
		t.Errorf("DefaultConfig().CacheBudgetMB = %d, want %d", cfg.CacheBudgetMB, DefaultCacheBudgetMB)
	}

	if cfg.CacheDir == "" {
		t.Error("DefaultConfig().CacheDir is empty")
	}
}

func TestConfigSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	testCfg := DefaultConfig()
	testCfg.Volume = 85
	testCfg.LastTrack = "trk_9f2c"
	testCfg.ReadAheadKB = 1024

	err := testCfg.Save()
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	configPath := filepath.Join(tmpDir, ConfigDir, ConfigFileName)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatalf("Config file was not created at %s", configPath)
	}

	loadedCfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loadedCfg.Volume != testCfg.Volume {
		t.Errorf("Load().Volume = %d, want %d", loadedCfg.Volume, testCfg.Volume)
	}

	if loadedCfg.LastTrack != testCfg.LastTrack {
		t.Errorf("Load().LastTrack = %q, want %q", loadedCfg.LastTrack, testCfg.LastTrack)
	}

	if loadedCfg.ReadAhead() != 1024*1024 {
		t.Errorf("Load().ReadAhead() = %d, want %d", loadedCfg.ReadAhead(), 1024*1024)
	}
}

func TestLoadNonExistentConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Volume != DefaultVolume {
		t.Errorf("Load().Volume = %d, want default %d", cfg.Volume, DefaultVolume)
	}
}

func TestLoadNormalizesBadValues(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	configPath := filepath.Join(tmpDir, ConfigDir, ConfigFileName)
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		t.Fatal(err)
	}
	raw := "volume: 250\ncache_budget_mb: -3\nmin_buffer_ms: 0\n"
	if err := os.WriteFile(configPath, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Volume != MaxVolume {
		t.Errorf("Volume = %d, want clamped %d", cfg.Volume, MaxVolume)
	}
	if cfg.CacheBudgetMB != DefaultCacheBudgetMB {
		t.Errorf("CacheBudgetMB = %d, want default %d", cfg.CacheBudgetMB, DefaultCacheBudgetMB)
	}
	if cfg.MinBufferMs != DefaultMinBufferMs {
		t.Errorf("MinBufferMs = %d, want default %d", cfg.MinBufferMs, DefaultMinBufferMs)
	}
}

func TestClampVolume(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{-10, 0},
		{0, 0},
		{55, 55},
		{100, 100},
		{140, 100},
	}

	for _, tt := range tests {
		if got := ClampVolume(tt.in); got != tt.want {
			t.Errorf("ClampVolume(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
