package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
)

// Config holds the CLI configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DefinitionsDir string `json:"definitions_dir"`
	StateDir       string `json:"state_dir"`
	LogLevel       string `json:"log_level"`
}

func defaultConfig() Config {
	return Config{
		DefinitionsDir: filepath.Join(lobsterDir(), "definitions"),
		StateDir:       filepath.Join(lobsterDir(), "state"),
		LogLevel:       "info",
	}
}

func lobsterDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lobster"
	}
	return filepath.Join(home, ".lobster")
}

func settingsPath() string {
	return filepath.Join(lobsterDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("LOBSTER_DEFINITIONS_DIR"); v != "" {
		cfg.DefinitionsDir = v
	}
	if v := os.Getenv("LOBSTER_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("LOBSTER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg
}

func (c Config) slogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
