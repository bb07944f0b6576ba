package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// Paths contains commonly used file paths.
type Paths struct {
	Database string // Main SQLite database
	Logs     string // Rotating log directory
	Config   string // Config file
}

// GetPaths returns all commonly used paths based on config.
func GetPaths(cfg *Config) Paths {
	return Paths{
		Database: filepath.Join(cfg.BaseDir, "fieldsync.db"),
		Logs:     filepath.Join(cfg.BaseDir, "logs"),
		Config:   filepath.Join(cfg.BaseDir, "config.yaml"),
	}
}

// DefaultBaseDir returns the default base directory ($XDG_DATA_HOME/fieldsync).
func DefaultBaseDir() string {
	return filepath.Join(xdg.DataHome, "fieldsync")
}
