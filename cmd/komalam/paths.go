package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// komalamDir is the default state directory name under $HOME.
const komalamDir = ".komalam"

// Paths holds all resolved komalam state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	Home       string // ~/.komalam or KOMALAM_HOME
	ConfigPath string // config.yaml or KOMALAM_CONFIG_PATH
	DBPath     string // memory.db or KOMALAM_DB_PATH
	VectorPath string // vectors.idx or KOMALAM_VECTOR_PATH
}

// ResolvePaths returns all komalam paths, respecting env var overrides.
// Environment variables:
//   - KOMALAM_HOME: base directory for all state (default: ~/.komalam)
//   - KOMALAM_CONFIG_PATH: config file (default: $KOMALAM_HOME/config.yaml)
//   - KOMALAM_DB_PATH: memory database (default: $KOMALAM_HOME/memory.db)
//   - KOMALAM_VECTOR_PATH: vector index snapshot (default: $KOMALAM_HOME/vectors.idx)
//
// If KOMALAM_HOME is set, it becomes the base for all default paths.
// Specific env vars override both the default and the KOMALAM_HOME base.
func ResolvePaths() (*Paths, error) {
	home, err := resolveHome()
	if err != nil {
		return nil, err
	}

	return &Paths{
		Home:       home,
		ConfigPath: resolvePathWithEnv("KOMALAM_CONFIG_PATH", home, "config.yaml"),
		DBPath:     resolvePathWithEnv("KOMALAM_DB_PATH", home, "memory.db"),
		VectorPath: resolvePathWithEnv("KOMALAM_VECTOR_PATH", home, "vectors.idx"),
	}, nil
}

// resolveHome returns the state directory from KOMALAM_HOME or ~/.komalam.
func resolveHome() (string, error) {
	if v := os.Getenv("KOMALAM_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, komalamDir), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}
