package config

import (
	"path/filepath"
	"testing"
)

func TestGetPathsUsesEnvOverride(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvHome, home)

	paths := GetPaths()
	if paths.Home != home {
		t.Fatalf("Home = %q, want %q", paths.Home, home)
	}
	if paths.ConfigDB != filepath.Join(home, "config.db") {
		t.Fatalf("ConfigDB = %q", paths.ConfigDB)
	}
}

func TestEnsureDirs(t *testing.T) {
	t.Setenv(EnvHome, filepath.Join(t.TempDir(), "nested", "petwatch"))

	paths, err := EnsureDirs()
	if err != nil {
		t.Fatalf("EnsureDirs failed: %v", err)
	}
	if paths.Home == "" || paths.Logs == "" {
		t.Fatalf("unexpected paths: %+v", paths)
	}
}
