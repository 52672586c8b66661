// Package config provides application configuration loading from environment variables and .env files.
// It uses viper for flexible configuration management with sensible defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Sticky bucket store types.
const (
	StickyStoreMemory   = "memory"
	StickyStorePostgres = "postgres"
	StickyStoreRedis    = "redis"
)

// Config holds all application configuration loaded from environment variables or .env file.
// Configuration priority: environment variables > .env file > defaults.
type Config struct {
	AppEnv         string // Application environment (dev, staging, prod)
	HTTPAddr       string // HTTP server bind address (e.g., ":8080")
	MetricsAddr    string // Metrics server bind address
	FeaturesFile   string // Path of the JSON feature payload
	StickyStore    string // Sticky bucket backend (memory, postgres, redis)
	DatabaseDSN    string // PostgreSQL connection string
	RedisURL       string // Redis connection URL
	TrackingURL    string // Exposure webhook endpoint; empty disables delivery
	TrackingSecret string // HMAC secret for exposure deliveries
	TrackingCache  int    // Size of the exposure dedup cache
	LogLevel       string // zerolog level name
	RateLimitPerIP int    // Requests per minute per client IP
	QAMode         bool   // Disable random assignment for all evaluations
}

// Load reads configuration from environment variables and .env file (if present).
// Environment variables take precedence over .env file values.
//
// Load does not check constraints between values; call Validate for that.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env") // Optional; silently ignored if file doesn't exist
	v.SetConfigType("env")
	_ = v.ReadInConfig() // Ignore error - .env is optional
	v.AutomaticEnv()

	setConfigDefaults(v)

	return &Config{
		AppEnv:         v.GetString("APP_ENV"),
		HTTPAddr:       v.GetString("APP_HTTP_ADDR"),
		MetricsAddr:    v.GetString("METRICS_ADDR"),
		FeaturesFile:   v.GetString("FEATURES_FILE"),
		StickyStore:    strings.ToLower(v.GetString("STICKY_STORE")),
		DatabaseDSN:    v.GetString("DB_DSN"),
		RedisURL:       v.GetString("REDIS_URL"),
		TrackingURL:    v.GetString("TRACKING_WEBHOOK_URL"),
		TrackingSecret: v.GetString("TRACKING_WEBHOOK_SECRET"),
		TrackingCache:  v.GetInt("TRACKING_CACHE_SIZE"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		RateLimitPerIP: v.GetInt("RATE_LIMIT_PER_IP"),
		QAMode:         v.GetBool("QA_MODE"),
	}, nil
}

// setConfigDefaults sets default values for all configuration options.
// These defaults are suitable for local development.
func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("APP_HTTP_ADDR", ":8080")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("FEATURES_FILE", "features.json")
	v.SetDefault("STICKY_STORE", StickyStoreMemory)
	v.SetDefault("DB_DSN", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("TRACKING_WEBHOOK_URL", "")
	v.SetDefault("TRACKING_WEBHOOK_SECRET", "")
	v.SetDefault("TRACKING_CACHE_SIZE", 10000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("RATE_LIMIT_PER_IP", 600)
	v.SetDefault("QA_MODE", false)
}

// ValidationError represents a configuration validation error with details about what failed.
type ValidationError struct {
	Field   string // Name of the configuration field
	Message string // Human-readable error message
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed [%s]: %s", e.Field, e.Message)
}

// Level parses LogLevel.
func (c *Config) Level() (zerolog.Level, error) {
	return zerolog.ParseLevel(strings.ToLower(c.LogLevel))
}

// IsProduction reports whether AppEnv names a production environment.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "prod" || c.AppEnv == "production"
}

// Validate checks the configuration and returns the first ValidationError
// found, or nil. It is meant to be called at startup to fail fast.
//
// Rules:
//  1. StickyStore must be memory, postgres or redis
//  2. postgres requires DB_DSN, redis requires REDIS_URL
//  3. APP_HTTP_ADDR, METRICS_ADDR and FEATURES_FILE must be set
//  4. LOG_LEVEL must be a zerolog level
//  5. TRACKING_CACHE_SIZE and RATE_LIMIT_PER_IP must be positive
//  6. In production a tracking webhook must be signed
func (c *Config) Validate() error {
	switch c.StickyStore {
	case StickyStoreMemory, StickyStorePostgres, StickyStoreRedis:
	default:
		return ValidationError{
			Field:   "STICKY_STORE",
			Message: fmt.Sprintf("must be 'memory', 'postgres' or 'redis', got '%s'", c.StickyStore),
		}
	}

	if c.StickyStore == StickyStorePostgres && c.DatabaseDSN == "" {
		return ValidationError{
			Field:   "DB_DSN",
			Message: "database DSN is required when STICKY_STORE=postgres",
		}
	}
	if c.StickyStore == StickyStoreRedis && c.RedisURL == "" {
		return ValidationError{
			Field:   "REDIS_URL",
			Message: "redis URL is required when STICKY_STORE=redis",
		}
	}

	if c.HTTPAddr == "" {
		return ValidationError{
			Field:   "APP_HTTP_ADDR",
			Message: "HTTP server address cannot be empty",
		}
	}
	if c.MetricsAddr == "" {
		return ValidationError{
			Field:   "METRICS_ADDR",
			Message: "metrics server address cannot be empty",
		}
	}
	if c.FeaturesFile == "" {
		return ValidationError{
			Field:   "FEATURES_FILE",
			Message: "features file path cannot be empty",
		}
	}

	if _, err := c.Level(); err != nil {
		return ValidationError{
			Field:   "LOG_LEVEL",
			Message: fmt.Sprintf("unknown log level '%s'", c.LogLevel),
		}
	}

	if c.TrackingCache <= 0 {
		return ValidationError{
			Field:   "TRACKING_CACHE_SIZE",
			Message: "must be positive",
		}
	}
	if c.RateLimitPerIP <= 0 {
		return ValidationError{
			Field:   "RATE_LIMIT_PER_IP",
			Message: "must be positive",
		}
	}

	if c.IsProduction() && c.TrackingURL != "" && c.TrackingSecret == "" {
		return ValidationError{
			Field:   "TRACKING_WEBHOOK_SECRET",
			Message: "tracking deliveries must be signed in production",
		}
	}

	return nil
}
