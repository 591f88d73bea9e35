// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads runbook configuration: defaults, then the YAML
// config file, then RUNBOOK_* environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	runbookerrors "github.com/tombee/runbook/pkg/errors"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Store backend names accepted by StoreConfig.Backend.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config is the complete runbook configuration.
type Config struct {
	// SopsDir is the directory scanned for SOP manifests.
	// Environment: RUNBOOK_SOPS_DIR
	// Default: ./sops
	SopsDir string `yaml:"sops_dir"`

	Store  StoreConfig  `yaml:"store"`
	Log    LogConfig    `yaml:"log"`
	Daemon DaemonConfig `yaml:"daemon"`
}

// StoreConfig selects and locates the storage backend.
type StoreConfig struct {
	// Backend is "file", "sqlite", or "memory".
	// Environment: RUNBOOK_STORE
	// Default: file
	Backend string `yaml:"backend"`

	// DataDir is the root for persisted state: run records for the file
	// backend, the database file for sqlite, the catalog index.
	// Environment: RUNBOOK_DATA_DIR
	// Default: ~/.local/share/runbook (respects XDG_DATA_HOME)
	DataDir string `yaml:"data_dir"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (debug, info, warn, error).
	// Environment: RUNBOOK_LOG_LEVEL, LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	// Default: text
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// DaemonConfig configures runbookd.
type DaemonConfig struct {
	// SweepInterval is how often waiting runs are checked for expired
	// approval windows.
	// Environment: RUNBOOK_SWEEP_INTERVAL
	// Default: 30s
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// MetricsAddr is the Prometheus listen address. Empty disables the
	// metrics endpoint.
	// Environment: RUNBOOK_METRICS_ADDR
	// Default: :9090
	MetricsAddr string `yaml:"metrics_addr"`

	// Watch keeps the catalog index fresh via a filesystem watcher.
	// Default: true
	Watch bool `yaml:"watch"`

	// PIDFile is written on startup when set. Empty means no PID file.
	PIDFile string `yaml:"pid_file,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		SopsDir: "./sops",
		Store: StoreConfig{
			Backend: BackendFile,
			DataDir: DataDir(),
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "text",
			AddSource: false,
		},
		Daemon: DaemonConfig{
			SweepInterval: 30 * time.Second,
			MetricsAddr:   ":9090",
			Watch:         true,
		},
	}
}

// Load builds configuration from defaults, an optional YAML file, and
// environment variables, in increasing precedence. An empty path means
// env-only on top of defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &runbookerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &runbookerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// LoadDefault loads from the XDG config file when it exists and falls
// back to env-only otherwise.
func LoadDefault() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Load("")
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return Load("")
	}
	return Load(path)
}

// RunsDir is where the file backend keeps run state.
func (c *Config) RunsDir() string {
	return filepath.Join(c.Store.DataDir, "runs")
}

// SQLitePath is the database file used by the sqlite backend.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.Store.DataDir, "runbook.db")
}

// IndexPath is the catalog index file location.
func (c *Config) IndexPath() string {
	return filepath.Join(c.Store.DataDir, "index.json")
}

// applyDefaults fills in zero values so minimal config files work without
// specifying every field.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.SopsDir == "" {
		c.SopsDir = defaults.SopsDir
	}
	if c.Store.Backend == "" {
		c.Store.Backend = defaults.Store.Backend
	}
	if c.Store.DataDir == "" {
		c.Store.DataDir = defaults.Store.DataDir
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
	if c.Daemon.SweepInterval == 0 {
		c.Daemon.SweepInterval = defaults.Daemon.SweepInterval
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// loadFromEnv applies environment variable overrides.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("RUNBOOK_SOPS_DIR"); val != "" {
		c.SopsDir = val
	}
	if val := os.Getenv("RUNBOOK_STORE"); val != "" {
		c.Store.Backend = strings.ToLower(val)
	}
	if val := os.Getenv("RUNBOOK_DATA_DIR"); val != "" {
		c.Store.DataDir = val
	}

	if val := os.Getenv("RUNBOOK_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	} else if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}

	if val := os.Getenv("RUNBOOK_SWEEP_INTERVAL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Daemon.SweepInterval = duration
		}
	}
	if val := os.Getenv("RUNBOOK_METRICS_ADDR"); val != "" {
		c.Daemon.MetricsAddr = val
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	default:
		errs = append(errs, fmt.Sprintf("store.backend must be one of [file, sqlite, memory], got %q", c.Store.Backend))
	}
	if c.Store.DataDir == "" {
		errs = append(errs, "store.data_dir must not be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if c.Daemon.SweepInterval <= 0 {
		errs = append(errs, fmt.Sprintf("daemon.sweep_interval must be positive, got %v", c.Daemon.SweepInterval))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}
