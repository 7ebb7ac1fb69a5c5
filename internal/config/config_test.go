package config

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MessageRetentionDays != 90 {
		t.Errorf("retention = %d, want 90", cfg.MessageRetentionDays)
	}
	if cfg.DebounceMS != 750 {
		t.Errorf("debounce = %d, want 750", cfg.DebounceMS)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.DataDir = "/tmp/swap"
	cfg.MessageRetentionDays = 14
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.DataDir != "/tmp/swap" {
		t.Errorf("data_dir = %q, want /tmp/swap", loaded.DataDir)
	}
	if loaded.MessageRetentionDays != 14 {
		t.Errorf("retention = %d, want 14", loaded.MessageRetentionDays)
	}
	// Untouched fields keep defaults.
	if loaded.SweepIntervalMS != 2000 {
		t.Errorf("sweep interval = %d, want 2000", loaded.SweepIntervalMS)
	}
}
