package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Database.Path == "" {
		t.Error("Resolve should set a database path")
	}
	if cfg.Telemetry.MinDuration != 10*time.Millisecond {
		t.Errorf("default min duration = %v, want 10ms", cfg.Telemetry.MinDuration)
	}
	if cfg.Telemetry.SampleRate != 10 {
		t.Errorf("default sample rate = %d, want 10", cfg.Telemetry.SampleRate)
	}
}

func TestResolve_PrefersDataVolume(t *testing.T) {
	vol := t.TempDir()
	t.Setenv("VELT_DATA_VOLUME", vol)

	cfg := DefaultConfig()
	cfg.Resolve()

	want := filepath.Join(vol, "velt.db")
	if cfg.Database.Path != want {
		t.Errorf("database path = %q, want %q", cfg.Database.Path, want)
	}
}

func TestResolve_FallsBackWhenVolumeMissing(t *testing.T) {
	t.Setenv("VELT_DATA_VOLUME", filepath.Join(t.TempDir(), "does-not-exist"))

	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/velt-test"
	cfg.Resolve()

	want := filepath.Join("/tmp/velt-test", "velt.db")
	if cfg.Database.Path != want {
		t.Errorf("database path = %q, want %q", cfg.Database.Path, want)
	}
}

func TestResolve_ExplicitPathWins(t *testing.T) {
	t.Setenv("VELT_DATA_VOLUME", t.TempDir())

	cfg := DefaultConfig()
	cfg.Database.Path = "/explicit/velt.db"
	cfg.Resolve()

	if cfg.Database.Path != "/explicit/velt.db" {
		t.Errorf("explicit database path should not be overridden, got %q", cfg.Database.Path)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("VELT_DATA_DIR", "/var/lib/velt")
	t.Setenv("VELT_BUSY_TIMEOUT_MS", "2500")
	t.Setenv("VELT_TELEMETRY_ENABLED", "false")
	t.Setenv("VELT_TELEMETRY_SAMPLE_RATE", "5")
	t.Setenv("VELT_ARCHIVE_TYPE", "s3")
	t.Setenv("VELT_S3_BUCKET", "velt-quarantine")
	t.Setenv("VELT_ENCRYPTION_KEY", "abc123")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.DataDir != "/var/lib/velt" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Database.BusyTimeout != 2500*time.Millisecond {
		t.Errorf("BusyTimeout = %v", cfg.Database.BusyTimeout)
	}
	if cfg.Telemetry.Enabled {
		t.Error("telemetry should be disabled")
	}
	if cfg.Telemetry.SampleRate != 5 {
		t.Errorf("SampleRate = %d", cfg.Telemetry.SampleRate)
	}
	if cfg.Archive.Type != "s3" || cfg.Archive.S3.Bucket != "velt-quarantine" {
		t.Errorf("archive config not applied: %+v", cfg.Archive)
	}
	if cfg.EncryptionKey != "abc123" {
		t.Error("encryption key not applied from env")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, true},
		{"zero attempts", func(c *Config) { c.Database.MaxAcquireAttempts = 0 }, true},
		{"zero busy timeout", func(c *Config) { c.Database.BusyTimeout = 0 }, true},
		{"bad archive type", func(c *Config) { c.Archive.Type = "ftp" }, true},
		{"s3 without bucket", func(c *Config) { c.Archive.Type = "s3" }, true},
		{"zero sample rate", func(c *Config) { c.Telemetry.SampleRate = 0 }, true},
		{"telemetry off skips telemetry checks", func(c *Config) {
			c.Telemetry.Enabled = false
			c.Telemetry.SampleRate = 0
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "velt.yaml")
	content := []byte("data_dir: /srv/velt\ntelemetry:\n  enabled: true\n  sample_rate: 20\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.DataDir != "/srv/velt" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Telemetry.SampleRate != 20 {
		t.Errorf("SampleRate = %d, want 20", cfg.Telemetry.SampleRate)
	}
	// Untouched fields keep defaults
	if cfg.Database.MaxAcquireAttempts != 3 {
		t.Errorf("MaxAcquireAttempts = %d, want default 3", cfg.Database.MaxAcquireAttempts)
	}
}

func TestLoadFromFile_UnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "velt.toml")
	if err := os.WriteFile(path, []byte("x = 1"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for unsupported config format")
	}
}
