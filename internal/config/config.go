// Package config handles application configuration management.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Base directory for all fieldsync data ($XDG_DATA_HOME/fieldsync)
	BaseDir string `yaml:"base_dir"`

	// LogLevel is a zerolog level name.
	LogLevel string `yaml:"log_level"`

	Remote       RemoteConfig       `yaml:"remote"`
	Sync         SyncConfig         `yaml:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Events       EventsConfig       `yaml:"events"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// RemoteConfig holds settings for the remote sync service.
type RemoteConfig struct {
	// BaseURL of the sync API, e.g. https://api.example.com/v1
	BaseURL string `yaml:"base_url"`
	// Token is sent as a bearer token (FIELDSYNC_REMOTE_TOKEN env var)
	Token string `yaml:"-"`
	// RateLimit is the maximum number of requests per second.
	RateLimit float64 `yaml:"rate_limit"`
}

// SyncConfig holds orchestrator policy.
type SyncConfig struct {
	// RequestTimeout bounds each remote call; expiry counts as transient.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// MaxRetries before a transiently failing item is dead-lettered.
	MaxRetries int `yaml:"max_retries"`
	// BackoffBase and BackoffMax shape the automatic retry schedule.
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
}

// ConnectivityConfig holds monitor settings.
type ConnectivityConfig struct {
	// ProbeURL is polled to decide reachability. Defaults to Remote.BaseURL.
	ProbeURL string `yaml:"probe_url"`
	// ProbeInterval between reachability checks.
	ProbeInterval time.Duration `yaml:"probe_interval"`
	// Debounce delays the drain after an offline->online transition.
	Debounce time.Duration `yaml:"debounce"`
}

// EventsConfig holds the UI event hub settings.
type EventsConfig struct {
	// Addr the hub listens on; localhost only by default.
	Addr string `yaml:"addr"`
}

// TelemetryConfig controls anonymous usage tracking.
type TelemetryConfig struct {
	// Enabled unless set to false here or via FIELDSYNC_TELEMETRY_TRACKING_ENABLED=false.
	Enabled bool `yaml:"enabled"`
}

// Load reads the optional config file, then environment overrides.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if home := os.Getenv("FIELDSYNC_HOME"); home != "" {
		cfg.BaseDir = home
	}

	if err := loadFile(cfg, GetPaths(cfg).Config); err != nil {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.Connectivity.ProbeURL == "" {
		cfg.Connectivity.ProbeURL = cfg.Remote.BaseURL
	}

	// Ensure directories exist
	if err := ensureDirectories(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile merges a YAML config file into cfg. A missing file is not an
// error.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("FIELDSYNC_REMOTE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("FIELDSYNC_REMOTE_TOKEN"); v != "" {
		cfg.Remote.Token = v
	}
	if v := os.Getenv("FIELDSYNC_PROBE_URL"); v != "" {
		cfg.Connectivity.ProbeURL = v
	}
	if v := os.Getenv("FIELDSYNC_EVENTS_ADDR"); v != "" {
		cfg.Events.Addr = v
	}
	if v := os.Getenv("FIELDSYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if os.Getenv("FIELDSYNC_TELEMETRY_TRACKING_ENABLED") == "false" {
		cfg.Telemetry.Enabled = false
	}
	if v := os.Getenv("FIELDSYNC_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid FIELDSYNC_MAX_RETRIES %q", v)
		}
		cfg.Sync.MaxRetries = n
	}
	if v := os.Getenv("FIELDSYNC_DEBOUNCE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid FIELDSYNC_DEBOUNCE: %w", err)
		}
		cfg.Connectivity.Debounce = d
	}
	if v := os.Getenv("FIELDSYNC_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid FIELDSYNC_REQUEST_TIMEOUT: %w", err)
		}
		cfg.Sync.RequestTimeout = d
	}
	return nil
}

// ensureDirectories creates required directories if they don't exist.
func ensureDirectories(cfg *Config) error {
	paths := GetPaths(cfg)
	dirs := []string{
		cfg.BaseDir,
		paths.Logs,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// Save writes cfg as YAML to the config file path.
func Save(cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	path := GetPaths(cfg).Config
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
