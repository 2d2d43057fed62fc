// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file and WELLNESS_* environment variables on top.
// - Durations are configured as integer milliseconds/seconds and exposed via helpers.
package config

import (
	"runtime"
	"time"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StorageDriver selects the persistence backend: postgres or memory.
	StorageDriver string `koanf:"storage_driver"`

	// DatabaseDSN is the Postgres connection string. Required for postgres.
	DatabaseDSN string `koanf:"database_dsn"`

	// StoreTimeoutMS bounds every store round trip.
	StoreTimeoutMS int `koanf:"store_timeout_ms"`

	// MaxBodyBytes caps the webhook request body.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`

	// GarminConsumerSecret verifies webhook signatures. Empty disables verification.
	GarminConsumerSecret string `koanf:"garmin_consumer_secret"`

	// PublicBaseURL overrides scheme://host used in the signature base string
	// when the service sits behind a reverse proxy.
	PublicBaseURL string `koanf:"public_base_url"`

	// WriteConcurrency bounds concurrent upserts within one payload.
	WriteConcurrency int `koanf:"write_concurrency"`

	// RedisAddr enables the shared connection cache when set.
	RedisAddr string `koanf:"redis_addr"`

	// RedisCacheTTLSeconds is the TTL of shared cache entries.
	RedisCacheTTLSeconds int `koanf:"redis_cache_ttl_s"`

	// RateLimitRPS and RateLimitBurst configure the per-client webhook limiter.
	// RPS <= 0 disables limiting.
	RateLimitRPS   float64 `koanf:"rate_limit_rps"`
	RateLimitBurst int     `koanf:"rate_limit_burst"`

	// TracingExporter is one of none, stdout, otlp.
	TracingExporter string `koanf:"tracing_exporter"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`

	// BackfillBatchSize and BackfillBatchDelayMS tune replay pacing.
	BackfillBatchSize    int `koanf:"backfill_batch_size"`
	BackfillBatchDelayMS int `koanf:"backfill_batch_delay_ms"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		Addr:                 ":9080",
		StorageDriver:        StorageMemory,
		StoreTimeoutMS:       5_000,
		MaxBodyBytes:         5 << 20,
		WriteConcurrency:     runtime.NumCPU() * 2,
		RedisCacheTTLSeconds: 300,
		RateLimitRPS:         50,
		RateLimitBurst:       100,
		TracingExporter:      "none",
		BackfillBatchSize:    50,
		BackfillBatchDelayMS: 100,
	}
}

// StoreTimeout returns the per-call store timeout.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMS) * time.Millisecond
}

// RedisCacheTTL returns the shared cache TTL.
func (c *Config) RedisCacheTTL() time.Duration {
	return time.Duration(c.RedisCacheTTLSeconds) * time.Second
}

// BackfillBatchDelay returns the pause between backfill batches.
func (c *Config) BackfillBatchDelay() time.Duration {
	return time.Duration(c.BackfillBatchDelayMS) * time.Millisecond
}
