// Package config provides unified configuration for the Velt persistence core.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration for the persistence core.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Database configuration
	Database DatabaseConfig `json:"database" yaml:"database"`

	// Telemetry configuration
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`

	// Quarantine configuration for corrupted store snapshots
	Quarantine QuarantineConfig `json:"quarantine" yaml:"quarantine"`

	// Archive configuration for offsite quarantine snapshots
	Archive ArchiveConfig `json:"archive" yaml:"archive"`

	// EncryptionKey is the optional at-rest key for sensitive column values
	// (base64 or hex, 32 bytes). Only settable via VELT_ENCRYPTION_KEY.
	EncryptionKey string `json:"-" yaml:"-"`
}

// DatabaseConfig holds backing-store configuration.
type DatabaseConfig struct {
	// Path is the backing file path. Empty means resolve from DataDir,
	// preferring the VELT_DATA_VOLUME mount when present.
	Path string `json:"path" yaml:"path"`

	// BusyTimeout is how long a caller blocks on a contended lock
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout"`

	// MaxAcquireAttempts bounds acquisition retries
	MaxAcquireAttempts int `json:"max_acquire_attempts" yaml:"max_acquire_attempts"`

	// RetryDelay is the base delay between acquisition attempts;
	// the actual delay grows with the attempt number
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`
}

// TelemetryConfig holds metrics recorder configuration.
type TelemetryConfig struct {
	// Enabled controls whether telemetry is persisted at all
	Enabled bool `json:"enabled" yaml:"enabled"`

	// BufferSize is the in-memory ring buffer capacity
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`

	// MinDuration is the fast-path threshold below which samples are dropped
	MinDuration time.Duration `json:"min_duration" yaml:"min_duration"`

	// SampleRate persists one in every SampleRate qualifying samples
	SampleRate int `json:"sample_rate" yaml:"sample_rate"`

	// MaxQueryLength bounds persisted statement text
	MaxQueryLength int `json:"max_query_length" yaml:"max_query_length"`

	// MaxErrorLength bounds persisted error text
	MaxErrorLength int `json:"max_error_length" yaml:"max_error_length"`
}

// QuarantineConfig holds corrupted-store quarantine configuration.
type QuarantineConfig struct {
	// Dir is the directory for compressed corrupt-store snapshots
	Dir string `json:"dir" yaml:"dir"`
}

// ArchiveConfig holds offsite archival configuration for quarantine snapshots.
type ArchiveConfig struct {
	// Type is the archive type: none, local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local archive path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 archive configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/velt",
		Database: DatabaseConfig{
			Path:               "",
			BusyTimeout:        5 * time.Second,
			MaxAcquireAttempts: 3,
			RetryDelay:         100 * time.Millisecond,
		},
		Telemetry: TelemetryConfig{
			Enabled:        true,
			BufferSize:     500,
			MinDuration:    10 * time.Millisecond,
			SampleRate:     10,
			MaxQueryLength: 500,
			MaxErrorLength: 200,
		},
		Quarantine: QuarantineConfig{
			Dir: "",
		},
		Archive: ArchiveConfig{
			Type: "none",
			Path: "",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
// The database path prefers a mounted durable volume (VELT_DATA_VOLUME)
// when one is present and usable, falling back to DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/velt"
	}

	if c.Database.Path == "" {
		if vol := os.Getenv("VELT_DATA_VOLUME"); vol != "" {
			if info, err := os.Stat(vol); err == nil && info.IsDir() {
				c.Database.Path = filepath.Join(vol, "velt.db")
			}
		}
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "velt.db")
	}

	if c.Quarantine.Dir == "" {
		c.Quarantine.Dir = filepath.Join(c.DataDir, "quarantine")
	}

	if c.Archive.Type == "local" && c.Archive.Path == "" {
		c.Archive.Path = filepath.Join(c.DataDir, "archive")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Database.MaxAcquireAttempts < 1 {
		return fmt.Errorf("database.max_acquire_attempts must be at least 1, got %d", c.Database.MaxAcquireAttempts)
	}

	if c.Database.BusyTimeout <= 0 {
		return fmt.Errorf("database.busy_timeout must be positive")
	}

	switch c.Archive.Type {
	case "none", "local", "s3":
		// Valid types
	default:
		return fmt.Errorf("invalid archive type: %s (must be none, local, or s3)", c.Archive.Type)
	}

	if c.Archive.Type == "s3" && c.Archive.S3.Bucket == "" {
		return fmt.Errorf("archive.s3.bucket is required when archive type is s3")
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.BufferSize < 1 {
			return fmt.Errorf("telemetry.buffer_size must be at least 1, got %d", c.Telemetry.BufferSize)
		}
		if c.Telemetry.SampleRate < 1 {
			return fmt.Errorf("telemetry.sample_rate must be at least 1, got %d", c.Telemetry.SampleRate)
		}
	}

	return nil
}

// EnsureDirectories creates the directories the core needs at runtime.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, filepath.Dir(c.Database.Path), c.Quarantine.Dir}
	if c.Archive.Type == "local" {
		dirs = append(dirs, c.Archive.Path)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the VELT_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("VELT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("VELT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("VELT_BUSY_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Database.BusyTimeout = time.Duration(ms) * time.Millisecond
		}
	}

	// Telemetry configuration
	if v := os.Getenv("VELT_TELEMETRY_ENABLED"); v != "" {
		cfg.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("VELT_TELEMETRY_SAMPLE_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Telemetry.SampleRate = n
		}
	}

	// Archive configuration
	if v := os.Getenv("VELT_ARCHIVE_TYPE"); v != "" {
		cfg.Archive.Type = v
	}
	if v := os.Getenv("VELT_ARCHIVE_PATH"); v != "" {
		cfg.Archive.Path = v
	}
	if v := os.Getenv("VELT_S3_BUCKET"); v != "" {
		cfg.Archive.S3.Bucket = v
	}
	if v := os.Getenv("VELT_S3_REGION"); v != "" {
		cfg.Archive.S3.Region = v
	}
	if v := os.Getenv("VELT_S3_ENDPOINT"); v != "" {
		cfg.Archive.S3.Endpoint = v
	}

	// At-rest encryption key is environment-only so it never lands in a
	// config file on disk.
	if v := os.Getenv("VELT_ENCRYPTION_KEY"); v != "" {
		cfg.EncryptionKey = v
	}
}

// Load loads configuration from an optional file, applies environment
// overrides, and resolves paths.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	LoadFromEnv(cfg)
	cfg.Resolve()
	return cfg, nil
}
