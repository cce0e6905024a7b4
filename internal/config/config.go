// Package config loads watcher configuration from environment
// variables. The CLI layers flags over these defaults.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all coursekit-watch configuration.
type Config struct {
	// Server
	ServerURL string
	AuthToken string

	// Active course
	CourseID string

	// Logging
	LogLevel  string
	LogFormat string

	// Snapshot cache
	CacheDir       string
	CacheBudget    int64
	SnapshotBudget int64

	// Background refresh
	RefreshInterval time.Duration

	// Metrics endpoint ("" disables it)
	MetricsAddr string

	// Remote object storage (optional; enables content hydration)
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
}

// FromEnv reads configuration from environment variables with defaults.
func FromEnv() *Config {
	return &Config{
		ServerURL:       envOr("COURSEKIT_SERVER", "http://localhost:8080"),
		AuthToken:       envOr("COURSEKIT_TOKEN", ""),
		CourseID:        envOr("COURSEKIT_COURSE", ""),
		LogLevel:        envOr("COURSEKIT_LOG_LEVEL", "info"),
		LogFormat:       envOr("COURSEKIT_LOG_FORMAT", "console"),
		CacheDir:        envOr("COURSEKIT_CACHE_DIR", defaultCacheDir()),
		CacheBudget:     envInt64("COURSEKIT_CACHE_BUDGET", 20<<20),
		SnapshotBudget:  envInt64("COURSEKIT_SNAPSHOT_BUDGET", 4<<20),
		RefreshInterval: envDuration("COURSEKIT_REFRESH_INTERVAL", 30*time.Second),
		MetricsAddr:     envOr("COURSEKIT_METRICS_ADDR", ""),
		S3Endpoint:      envOr("COURSEKIT_S3_ENDPOINT", ""),
		S3Bucket:        envOr("COURSEKIT_S3_BUCKET", ""),
		S3AccessKey:     envOr("COURSEKIT_S3_ACCESS_KEY", ""),
		S3SecretKey:     envOr("COURSEKIT_S3_SECRET_KEY", ""),
		S3Region:        envOr("COURSEKIT_S3_REGION", "auto"),
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/coursekit"
	}
	return "/tmp/coursekit-cache"
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
