// Package config loads configuration from environment variables.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all client configuration.
type Config struct {
	// Backend
	ServerURL string
	Timeout   time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Persisted token
	TokenFile string

	// Download cache
	CacheDir     string
	CacheMaxSize int64
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		ServerURL:    envOr("CLOUDVAULT_SERVER_URL", "http://localhost:8080"),
		Timeout:      envDuration("CLOUDVAULT_TIMEOUT", 30*time.Second),
		LogLevel:     envOr("LOG_LEVEL", "info"),
		LogFormat:    envOr("LOG_FORMAT", "console"),
		TokenFile:    envOr("CLOUDVAULT_TOKEN_FILE", defaultTokenFile()),
		CacheDir:     envOr("CLOUDVAULT_CACHE_DIR", defaultCacheDir()),
		CacheMaxSize: envInt64("CLOUDVAULT_CACHE_MAX_SIZE", 1024*1024*1024), // 1GB default
	}
}

func defaultTokenFile() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cloudvault", "token.json")
}

func defaultCacheDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "cloudvault")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
