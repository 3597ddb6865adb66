package config

import (
	"os"
	"path/filepath"
)

// ParleyPath returns the root directory for parley data.
// It uses $PARLEY_PATH if set, otherwise defaults to ~/.parley.
func ParleyPath() string {
	if v := os.Getenv("PARLEY_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".parley")
	}
	return filepath.Join(home, ".parley")
}

// ConfigPath returns the path to the parley config file.
func ConfigPath() string {
	return filepath.Join(ParleyPath(), "config.jsonc")
}

// DotenvPath returns the path to the parley .env file.
func DotenvPath() string {
	return filepath.Join(ParleyPath(), ".env")
}

// SchedulesPath returns the directory holding schedule entries.
func SchedulesPath() string {
	return filepath.Join(ParleyPath(), "schedules")
}
