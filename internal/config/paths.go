package config

import (
	"os"
	"path/filepath"
)

// DataDir returns the root directory for chatflow data (sqlite db, etc).
// It uses $CHATFLOW_HOME if set, otherwise defaults to ~/.chatflow.
func DataDir() string {
	if v := os.Getenv("CHATFLOW_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".chatflow")
	}
	return filepath.Join(home, ".chatflow")
}

// ConfigPath returns the default path to the chatflow config file.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// DotenvPath returns the default path to the chatflow .env file.
func DotenvPath() string {
	return filepath.Join(DataDir(), ".env")
}
