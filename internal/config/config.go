package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// FilePermissions is the default permission mode for regular files (read/write for owner, read for others)
	FilePermissions = 0644
	// DirPermissions is the default permission mode for directories (rwxr-xr-x)
	DirPermissions = 0755
)

// Local settings files, checked in order before the global one
var localSettingsFiles = []string{".perfhttp.yaml", ".perfhttp.yml", ".perfhttp.jsonc", ".perfhttp.json"}

var (
	// ConfigDir is the global configuration directory (~/.perfhttp)
	ConfigDir string

	// ScenariosDir is the default directory for request files
	ScenariosDir string

	// LogDir holds rotated log files
	LogDir string

	// DatabasePath is the SQLite database file for runs and metrics
	DatabasePath string

	// SettingsFile is the global settings file
	SettingsFile string
)

// Initialize sets up the configuration directories and files
// It creates ~/.perfhttp/ if it doesn't exist
func Initialize() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	return InitializeAt(filepath.Join(homeDir, ".perfhttp"))
}

// InitializeAt is Initialize with an explicit configuration directory
func InitializeAt(dir string) error {
	// Set global paths
	ConfigDir = dir
	ScenariosDir = filepath.Join(ConfigDir, "scenarios")
	LogDir = filepath.Join(ConfigDir, "logs")
	DatabasePath = filepath.Join(ConfigDir, "perfhttp.db")
	SettingsFile = filepath.Join(ConfigDir, "settings.yaml")

	// Create directories if they don't exist
	dirs := []string{ConfigDir, ScenariosDir, LogDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, DirPermissions); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	// Create default settings file if it doesn't exist
	if _, err := os.Stat(SettingsFile); os.IsNotExist(err) {
		if err := os.WriteFile(SettingsFile, []byte(defaultSettingsYAML), FilePermissions); err != nil {
			return fmt.Errorf("failed to create settings file: %w", err)
		}
	}

	return nil
}

// ResolvePath expands ~/ and makes relative paths relative to the config directory
func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	// Expand tilde to home directory
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}

	if filepath.IsAbs(path) || ConfigDir == "" {
		return path, nil
	}
	return filepath.Join(ConfigDir, path), nil
}

// LocalConfigExists checks if there's a settings file in the current directory
func LocalConfigExists() bool {
	for _, name := range localSettingsFiles {
		if _, err := os.Stat(name); err == nil {
			return true
		}
	}
	return false
}

// GetSettingsFilePath returns the settings file path (local or global)
func GetSettingsFilePath() string {
	for _, name := range localSettingsFiles {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return SettingsFile
}
