// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
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

	// Blockchain settings
	RPCURL  string
	ChainID int64

	// Scan settings
	ScanChunkSize     uint64        // blocks per eth_getLogs query
	ScanDefaultRange  uint64        // blocks scanned when fromBlock is omitted
	ScanCacheTTL      time.Duration // reuse a stored report younger than this
	EnrichConcurrency int           // parallel metadata lookups
	DenylistPath      string        // optional JSON file of known-malicious spenders

	// Tracing
	OTLPEndpoint string
}

// Base mainnet defaults
const (
	DefaultRPCURL           = "https://mainnet.base.org"
	DefaultChainID          = 8453 // Base
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultScanChunkSize    = 10_000
	DefaultScanDefaultRange = 2_000_000
	DefaultScanCacheTTL     = time.Hour
	DefaultEnrichConc       = 8
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RPCURL:            getEnv("RPC_URL", DefaultRPCURL),
		ChainID:           getEnvInt64("CHAIN_ID", DefaultChainID),
		ScanChunkSize:     uint64(getEnvInt64("SCAN_CHUNK_SIZE", DefaultScanChunkSize)),
		ScanDefaultRange:  uint64(getEnvInt64("SCAN_DEFAULT_RANGE", DefaultScanDefaultRange)),
		ScanCacheTTL:      getEnvDuration("SCAN_CACHE_TTL", DefaultScanCacheTTL),
		EnrichConcurrency: int(getEnvInt64("ENRICH_CONCURRENCY", DefaultEnrichConc)),
		DenylistPath:      os.Getenv("DENYLIST_PATH"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID must be positive")
	}
	if c.ScanChunkSize == 0 {
		return fmt.Errorf("SCAN_CHUNK_SIZE must be positive")
	}
	if c.EnrichConcurrency <= 0 {
		return fmt.Errorf("ENRICH_CONCURRENCY must be positive")
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

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}
