// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all filedock server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Tenants ("static" scans TenantsDir; "postgres" reads the database)
	TenantSource string
	TenantsDir   string

	// Database (required when TenantSource is "postgres")
	DatabaseURL string

	// TLS (optional; if both set, server uses HTTPS)
	TLSCertFile string
	TLSKeyFile  string

	// Auth
	JWTSecret string
	TokenTTL  time.Duration

	// Uploads
	MaxUploadSize int64
	UploadWorkers int

	// Search traversal caps
	SearchMaxDepth int
	SearchMaxNodes int

	// Request timeouts
	RequestTimeout time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:     envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:    envOr("METRICS_ADDR", ":9090"),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		LogFormat:      envOr("LOG_FORMAT", "json"),
		TenantSource:   envOr("TENANT_SOURCE", "static"),
		TenantsDir:     envOr("TENANTS_DIR", "/data/tenants"),
		DatabaseURL:    envOr("DATABASE_URL", ""),
		TLSCertFile:    envOr("TLS_CERT_FILE", ""),
		TLSKeyFile:     envOr("TLS_KEY_FILE", ""),
		JWTSecret:      envOr("JWT_SECRET", ""),
		TokenTTL:       envDuration("TOKEN_TTL", 24*time.Hour),
		MaxUploadSize:  envInt64("MAX_UPLOAD_SIZE", 100*1024*1024), // 100MB default
		UploadWorkers:  envInt("UPLOAD_WORKERS", 4),
		SearchMaxDepth: envInt("SEARCH_MAX_DEPTH", 64),
		SearchMaxNodes: envInt("SEARCH_MAX_NODES", 250000),
		RequestTimeout: envDuration("REQUEST_TIMEOUT", 30*time.Second),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	switch cfg.TenantSource {
	case "static":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when TENANT_SOURCE=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown TENANT_SOURCE %q", cfg.TenantSource)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
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
