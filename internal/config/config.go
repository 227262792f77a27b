// Package config loads the YAML configuration file of ulindb.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/zakazai/ulin-mvcc/internal/storage"
	"github.com/zakazai/ulin-mvcc/internal/types"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Export  ExportConfig  `yaml:"export"`
	Log     LogConfig     `yaml:"log"`
}

type StorageConfig struct {
	Engine        string `yaml:"engine"`
	Path          string `yaml:"path"`
	CompactOnOpen bool   `yaml:"compact_on_open"`
	SyncOnCommit  bool   `yaml:"sync_on_commit"`
}

// ExportConfig enables the periodic parquet export when Dir is set.
type ExportConfig struct {
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given: an
// in-memory store and info logging.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:       string(storage.MemoryEngine),
			Path:         "data",
			SyncOnCommit: true,
		},
		Export: ExportConfig{Interval: 5 * time.Minute},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch storage.EngineType(c.Storage.Engine) {
	case storage.MemoryEngine:
	case storage.DiskEngine:
		if c.Storage.Path == "" {
			return errors.New("config: storage.path is required for the disk engine")
		}
	default:
		return fmt.Errorf("config: unknown storage.engine %q", c.Storage.Engine)
	}
	if c.Export.Dir != "" && c.Export.Interval <= 0 {
		return fmt.Errorf("config: export.interval must be positive, got %s", c.Export.Interval)
	}
	if _, err := types.ParseLogLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// StorageConfig converts the storage section for storage.New.
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Engine:        storage.EngineType(c.Storage.Engine),
		Path:          c.Storage.Path,
		CompactOnOpen: c.Storage.CompactOnOpen,
		SyncOnCommit:  c.Storage.SyncOnCommit,
	}
}

// LogLevel returns the parsed log.level.
func (c *Config) LogLevel() types.LogLevel {
	level, err := types.ParseLogLevel(c.Log.Level)
	if err != nil {
		return types.LogLevelInfo
	}
	return level
}
