package config

import (
	"os"
	"path/filepath"
)

// EnvHome overrides the petwatch home directory, primarily for tests.
const EnvHome = "PETWATCH_HOME"

// Paths contains the filesystem layout for a petwatch installation.
type Paths struct {
	Home     string // Root directory (~/.petwatch)
	ConfigDB string // SQLite configuration store path
	Logs     string // Logs directory
}

// GetPaths returns the directory layout for this console.
func GetPaths() Paths {
	home := Home()
	return Paths{
		Home:     home,
		ConfigDB: filepath.Join(home, "config.db"),
		Logs:     filepath.Join(home, "logs"),
	}
}

// Home returns the petwatch home directory (~/.petwatch unless overridden
// via PETWATCH_HOME).
func Home() string {
	if override := os.Getenv(EnvHome); override != "" {
		return override
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".petwatch")
}

// EnsureDirs creates the petwatch directory structure if it does not exist.
func EnsureDirs() (Paths, error) {
	paths := GetPaths()
	for _, dir := range []string{paths.Home, paths.Logs} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Paths{}, err
		}
	}
	return paths, nil
}
