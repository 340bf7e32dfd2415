// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Scan engine
	DetectorTimeout   time.Duration
	DetectorThreshold int // Minimum confidence for a detector contribution
	MaxBundleBytes    int64
	DisabledDetectors []string // Detector names to leave unloaded

	// Tracing
	OTLPEndpoint string // OTLP/gRPC collector endpoint (optional)

	// Alerting
	AlertWebhookURL    string // Operator webhook for threat notifications (optional)
	AlertWebhookSecret string // HMAC signing key for alert payloads
	AlertMinSeverity   string // Lowest severity worth an alert

	// Security
	RateLimitRPS int
	CORSOrigins  []string
	AdminSecret  string // Admin API secret (pattern mutations)
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultRateLimit         = 100
	DefaultDetectorTimeout   = 3 * time.Second
	DefaultDetectorThreshold = 60
	DefaultMaxBundleBytes    = 4 << 20 // 4 MiB request body cap
	DefaultAlertMinSeverity  = "high"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		DetectorTimeout:    getEnvDuration("DETECTOR_TIMEOUT", DefaultDetectorTimeout),
		DetectorThreshold:  int(getEnvInt64("DETECTOR_THRESHOLD", DefaultDetectorThreshold)),
		MaxBundleBytes:     getEnvInt64("MAX_BUNDLE_BYTES", DefaultMaxBundleBytes),
		DisabledDetectors:  getEnvList("DISABLED_DETECTORS"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AlertWebhookURL:    os.Getenv("ALERT_WEBHOOK_URL"),
		AlertWebhookSecret: os.Getenv("ALERT_WEBHOOK_SECRET"),
		AlertMinSeverity:   getEnv("ALERT_MIN_SEVERITY", DefaultAlertMinSeverity),
		RateLimitRPS:       int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		CORSOrigins:        getEnvList("CORS_ORIGINS"),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are usable
func (c *Config) Validate() error {
	if c.DetectorTimeout <= 0 {
		return fmt.Errorf("DETECTOR_TIMEOUT must be positive")
	}
	if c.DetectorThreshold < 0 || c.DetectorThreshold > 100 {
		return fmt.Errorf("DETECTOR_THRESHOLD must be in [0,100]")
	}
	if c.MaxBundleBytes <= 0 {
		return fmt.Errorf("MAX_BUNDLE_BYTES must be positive")
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive")
	}
	switch c.AlertMinSeverity {
	case "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("ALERT_MIN_SEVERITY must be low, medium, high, or critical")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
