package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Forest904/beathub/internal/constants"
)

// Config holds all application configuration
type Config struct {
	Port              string
	DBPath            string
	DownloadsDir      string
	EngineURL         string
	Quality           string
	ArlToken          string
	SubdirTemplate    string
	WorkerCount       int
	MaxAttempts       int
	HeartbeatInterval time.Duration
	LogLevel          string
	LogFormat         string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	home, _ := os.UserHomeDir()
	defaultDownload := filepath.Join(home, "Downloads/beathub")

	return &Config{
		Port:              getEnv("PORT", constants.DefaultPort),
		DBPath:            getEnv("DB_PATH", constants.DefaultDBPath),
		DownloadsDir:      getEnv("DOWNLOADS_DIR", defaultDownload),
		EngineURL:         getEnv("ENGINE_URL", constants.DefaultEngineURL),
		Quality:           getEnv("QUALITY", constants.DefaultQuality),
		ArlToken:          getEnv("ARL_TOKEN", ""),
		SubdirTemplate:    getEnv("SUBDIR_TEMPLATE", constants.DefaultSubdirTemplate),
		WorkerCount:       getEnvInt("WORKER_COUNT", constants.DefaultWorkerCount),
		MaxAttempts:       getEnvInt("MAX_RETRIES", constants.DefaultMaxAttempts),
		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", constants.DefaultHeartbeat),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
	}
}

// Validate validates the configuration and returns detailed errors
func (c *Config) Validate() error {
	var errors []string

	if c.Port == "" {
		errors = append(errors, "PORT cannot be empty")
	} else {
		port, err := strconv.Atoi(c.Port)
		if err != nil {
			errors = append(errors, fmt.Sprintf("PORT must be a valid number, got: %s", c.Port))
		} else if port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be between 1 and 65535, got: %d", port))
		}
	}

	if c.DBPath == "" {
		errors = append(errors, "DB_PATH cannot be empty")
	}

	if c.DownloadsDir == "" {
		errors = append(errors, "DOWNLOADS_DIR cannot be empty")
	}

	if c.EngineURL == "" {
		errors = append(errors, "ENGINE_URL cannot be empty")
	} else {
		if _, err := url.Parse(c.EngineURL); err != nil {
			errors = append(errors, fmt.Sprintf("ENGINE_URL is not a valid URL: %s", c.EngineURL))
		}
	}

	validQualities := map[string]bool{
		constants.QualityLossless:      true,
		constants.QualityHiResLossless: true,
		constants.QualityHigh:          true,
		constants.QualityLow:           true,
	}
	if !validQualities[c.Quality] {
		errors = append(errors, fmt.Sprintf("QUALITY must be one of: LOSSLESS, HI_RES_LOSSLESS, HIGH, LOW, got: %s", c.Quality))
	}

	if c.SubdirTemplate == "" {
		errors = append(errors, "SUBDIR_TEMPLATE cannot be empty")
	}

	if c.WorkerCount < 1 {
		errors = append(errors, fmt.Sprintf("WORKER_COUNT must be at least 1, got: %d", c.WorkerCount))
	}

	if c.MaxAttempts < 1 {
		errors = append(errors, fmt.Sprintf("MAX_RETRIES must be at least 1, got: %d", c.MaxAttempts))
	}

	if c.HeartbeatInterval <= 0 {
		errors = append(errors, fmt.Sprintf("HEARTBEAT_INTERVAL must be positive, got: %s", c.HeartbeatInterval))
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: debug, info, warn, error, got: %s", c.LogLevel))
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.LogFormat] {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: text, json, got: %s", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback default
func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration retrieves a duration environment variable with a fallback default
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
