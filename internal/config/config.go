// Package config loads the daemon's runtime configuration from
// environment variables into a typed struct with defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// PostgresConfig is the POSTGRES_* connection block.
type PostgresConfig struct {
	Host     string
	Port     int
	DB       string
	Schema   string
	User     string
	Password string
	PoolSize int
}

// DSN renders the connection string pgx/v5/stdlib expects.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s&pool_max_conns=%d",
		p.User, p.Password, p.Host, p.Port, p.DB, p.Schema, p.PoolSize,
	)
}

// Config holds the erpsyncd daemon's configuration, loaded from
// environment variables with sensible defaults.
type Config struct {
	AppEnv   string
	LogLevel string

	APIHost string
	APIPort int

	Postgres PostgresConfig

	SourceAPIURL   string
	SourceAPIToken string
	SinkAPIURL     string
	SinkAPIToken   string

	DefaultBatchSize int
	MaxBatchSize     int
	MaxRetries       int
	RetryDelay       time.Duration
	MaxRetryDelay    time.Duration

	BackgroundSyncEnabled     bool
	BackgroundSyncWindowStart string
	BackgroundSyncWindowEnd   string

	InternalServiceJWTSecret string
}

// Load reads configuration from environment variables, applying
// spec.md §6's documented defaults for anything unset.
func Load() Config {
	cfg := Config{
		AppEnv:   "production",
		LogLevel: "info",

		APIHost: "0.0.0.0",
		APIPort: 8080,

		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			DB:       "erpsync",
			Schema:   "public",
			User:     "erpsync",
			PoolSize: 10,
		},

		DefaultBatchSize: 1000,
		MaxBatchSize:     10000,
		MaxRetries:       3,
		RetryDelay:       60 * time.Second,
		MaxRetryDelay:    3600 * time.Second,

		BackgroundSyncEnabled:     false,
		BackgroundSyncWindowStart: "02:00:00",
		BackgroundSyncWindowEnd:   "05:00:00",
	}

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.AppEnv = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("API_HOST"); v != "" {
		cfg.APIHost = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.APIPort = n
		}
	}

	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Postgres.Port = n
		}
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.Postgres.DB = v
	}
	if v := os.Getenv("POSTGRES_SCHEMA"); v != "" {
		cfg.Postgres.Schema = v
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("POSTGRES_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Postgres.PoolSize = n
		}
	}

	if v := os.Getenv("SOURCE_API_URL"); v != "" {
		cfg.SourceAPIURL = v
	}
	if v := os.Getenv("SOURCE_API_TOKEN"); v != "" {
		cfg.SourceAPIToken = v
	}
	if v := os.Getenv("SINK_API_URL"); v != "" {
		cfg.SinkAPIURL = v
	}
	if v := os.Getenv("SINK_API_TOKEN"); v != "" {
		cfg.SinkAPIToken = v
	}

	if v := os.Getenv("DEFAULT_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DefaultBatchSize = n
		}
	}
	if v := os.Getenv("MAX_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxBatchSize = n
		}
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("RETRY_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetryDelay = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("MAX_RETRY_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRetryDelay = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("BACKGROUND_SYNC_ENABLED"); v == "true" || v == "1" {
		cfg.BackgroundSyncEnabled = true
	}
	if v := os.Getenv("BACKGROUND_SYNC_WINDOW_START"); v != "" {
		cfg.BackgroundSyncWindowStart = v
	}
	if v := os.Getenv("BACKGROUND_SYNC_WINDOW_END"); v != "" {
		cfg.BackgroundSyncWindowEnd = v
	}

	if v := os.Getenv("INTERNAL_SERVICE_JWT_SECRET"); v != "" {
		cfg.InternalServiceJWTSecret = v
	}

	return cfg
}
