package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	DBPath             string
	MediaRoot          string // Content store root; empty means "<abs DBPath>.media"
	BackupDir          string
	BackupKeep         int // <= 0 disables pruning
	BackupIncludeMedia bool
	StaleTempMaxAge    time.Duration
	DBBusyTimeout      time.Duration
	LogLevel           slog.Level
	LogFormat          string // "text" or "json"
}

// Load reads configuration from environment variables and returns a Config struct.
// It applies defaults for optional fields and validates the values that must parse.
// If a .env file exists in the current directory or a parent directory, it will be loaded automatically.
// Environment variables already set take precedence over .env file values.
func Load() (*Config, error) {
	loadDotEnv()

	level, format, err := parseLogging()
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		DBPath:    getEnv("DB_PATH", "./data/notes.db"),
		MediaRoot: getEnv("MEDIA_ROOT", ""),
		BackupDir: getEnv("BACKUP_DIR", "./data/backups"),
		LogLevel:  level,
		LogFormat: format,
	}

	if cfg.BackupKeep, err = strconv.Atoi(getEnv("BACKUP_KEEP", "5")); err != nil {
		return nil, fmt.Errorf("BACKUP_KEEP must be a valid integer: %w", err)
	}
	if cfg.BackupIncludeMedia, err = strconv.ParseBool(getEnv("BACKUP_INCLUDE_MEDIA", "true")); err != nil {
		return nil, fmt.Errorf("BACKUP_INCLUDE_MEDIA must be a boolean: %w", err)
	}
	if cfg.StaleTempMaxAge, err = time.ParseDuration(getEnv("STALE_TEMP_MAX_AGE", "1h")); err != nil {
		return nil, fmt.Errorf("STALE_TEMP_MAX_AGE must be a duration: %w", err)
	}
	if cfg.DBBusyTimeout, err = time.ParseDuration(getEnv("DB_BUSY_TIMEOUT", "5s")); err != nil {
		return nil, fmt.Errorf("DB_BUSY_TIMEOUT must be a duration: %w", err)
	}
	if cfg.DBBusyTimeout < 0 {
		return nil, fmt.Errorf("DB_BUSY_TIMEOUT must not be negative")
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("DB_PATH is required")
	}

	// Create the database directory if it doesn't exist
	dataDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}

// LoadLogging reads only LOG_LEVEL and LOG_FORMAT (after loading .env). Tools
// that take the database path on the command line use it instead of Load.
func LoadLogging() (slog.Level, string, error) {
	loadDotEnv()
	return parseLogging()
}

func parseLogging() (slog.Level, string, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return 0, "", fmt.Errorf("LOG_LEVEL is invalid: %w", err)
	}
	format := strings.ToLower(getEnv("LOG_FORMAT", "text"))
	if format != "text" && format != "json" {
		return 0, "", fmt.Errorf("LOG_FORMAT must be text or json, got %q", format)
	}
	return level, format, nil
}

// loadDotEnv loads .env from the working directory or the nearest parent that has one.
func loadDotEnv() {
	_ = godotenv.Load()

	wd, err := os.Getwd()
	if err != nil {
		return
	}
	dir := wd
	for i := 0; i < 5; i++ { // Limit search depth
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
