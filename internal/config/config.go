// Package config provides configuration for the tablefit command.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	tferrors "github.com/arkilian/tablefit/internal/errors"
	"github.com/arkilian/tablefit/internal/engine"
	"github.com/arkilian/tablefit/internal/storage"
)

// Config holds the configuration of one tablefit database.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Database configuration
	Database DatabaseConfig `json:"database" yaml:"database"`

	// Models is the path of the YAML model file
	Models string `json:"models" yaml:"models"`

	// Tokenizer is the default tokenizer for virtual tables
	Tokenizer string `json:"tokenizer" yaml:"tokenizer"`

	// Journal configuration
	Journal JournalConfig `json:"journal" yaml:"journal"`

	// Export configuration
	Export ExportConfig `json:"export" yaml:"export"`
}

// DatabaseConfig holds SQLite connection settings.
type DatabaseConfig struct {
	// Path is the database file; defaults to <data_dir>/tablefit.db
	Path string `json:"path" yaml:"path"`

	// BusyTimeout is how long DDL waits on a locked database
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout"`

	// JournalMode is SQLite's journal mode (DELETE, WAL, ...)
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`
}

// JournalConfig holds schema history settings.
type JournalConfig struct {
	// Enabled turns schema history recording on
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Path is the journal database file; defaults to <data_dir>/journal.db
	Path string `json:"path" yaml:"path"`
}

// ExportConfig holds export storage configuration.
type ExportConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// Prefix is the object prefix exports are written under
	Prefix string `json:"prefix" yaml:"prefix"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
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
		DataDir: "./data/tablefit",
		Database: DatabaseConfig{
			BusyTimeout: 5 * time.Second,
			JournalMode: "WAL",
		},
		Journal: JournalConfig{
			Enabled: true,
		},
		Export: ExportConfig{
			Type:   "local",
			Prefix: "schema",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/tablefit"
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "tablefit.db")
	}
	if c.Journal.Path == "" {
		c.Journal.Path = filepath.Join(c.DataDir, "journal.db")
	}
	if c.Export.Path == "" {
		c.Export.Path = filepath.Join(c.DataDir, "exports")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return tferrors.NewConfigError("data_dir is required")
	}

	if c.Database.BusyTimeout < 0 {
		return tferrors.NewConfigError(fmt.Sprintf("database.busy_timeout must not be negative, got %v", c.Database.BusyTimeout))
	}

	switch strings.ToUpper(c.Database.JournalMode) {
	case "", "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "WAL", "OFF":
	default:
		return tferrors.NewConfigError(fmt.Sprintf("invalid database.journal_mode: %s", c.Database.JournalMode))
	}

	if c.Export.Type != "local" && c.Export.Type != "s3" {
		return tferrors.NewConfigError(fmt.Sprintf("invalid export type: %s (must be local or s3)", c.Export.Type))
	}

	if c.Export.Type == "s3" && c.Export.S3.Bucket == "" {
		return tferrors.NewConfigError("export.s3.bucket is required when export type is s3")
	}

	return nil
}

// EngineOptions returns the engine options for the main database.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		Path:        c.Database.Path,
		BusyTimeout: c.Database.BusyTimeout,
		JournalMode: c.Database.JournalMode,
	}
}

// JournalOptions returns the engine options for the journal database.
func (c *Config) JournalOptions() engine.Options {
	return engine.Options{
		Path:        c.Journal.Path,
		BusyTimeout: c.Database.BusyTimeout,
		JournalMode: c.Database.JournalMode,
	}
}

// StorageS3Config maps the export S3 settings onto the storage backend.
func (c *Config) StorageS3Config() storage.S3Config {
	cfg := storage.DefaultS3Config()
	if c.Export.S3.Region != "" {
		cfg.Region = c.Export.S3.Region
	}
	cfg.Endpoint = c.Export.S3.Endpoint
	cfg.UsePathStyle = c.Export.S3.Endpoint != ""
	return cfg
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
		return nil, tferrors.NewConfigError(fmt.Sprintf("unsupported config file format: %s", ext))
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the TABLEFIT_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("TABLEFIT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TABLEFIT_MODELS"); v != "" {
		cfg.Models = v
	}
	if v := os.Getenv("TABLEFIT_TOKENIZER"); v != "" {
		cfg.Tokenizer = v
	}

	// Database configuration
	if v := os.Getenv("TABLEFIT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TABLEFIT_DATABASE_BUSY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Database.BusyTimeout = d
		}
	}
	if v := os.Getenv("TABLEFIT_DATABASE_JOURNAL_MODE"); v != "" {
		cfg.Database.JournalMode = v
	}

	// Journal configuration
	if v := os.Getenv("TABLEFIT_JOURNAL_ENABLED"); v != "" {
		cfg.Journal.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TABLEFIT_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}

	// Export configuration
	if v := os.Getenv("TABLEFIT_EXPORT_TYPE"); v != "" {
		cfg.Export.Type = v
	}
	if v := os.Getenv("TABLEFIT_EXPORT_PATH"); v != "" {
		cfg.Export.Path = v
	}
	if v := os.Getenv("TABLEFIT_EXPORT_PREFIX"); v != "" {
		cfg.Export.Prefix = v
	}
	if v := os.Getenv("TABLEFIT_S3_BUCKET"); v != "" {
		cfg.Export.S3.Bucket = v
	}
	if v := os.Getenv("TABLEFIT_S3_REGION"); v != "" {
		cfg.Export.S3.Region = v
	}
	if v := os.Getenv("TABLEFIT_S3_ENDPOINT"); v != "" {
		cfg.Export.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.Database.Path),
	}
	if c.Journal.Enabled {
		dirs = append(dirs, filepath.Dir(c.Journal.Path))
	}
	if c.Export.Type == "local" {
		dirs = append(dirs, c.Export.Path)
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
