package config

import (
	"fmt"
	"os"
	"strconv"
)

// ApplyEnv overrides fields from environment variables
//
// Environment variables:
//   - FORGE_DB: sqlite database path
//   - FORGE_CACHE: fingerprint cache path
//   - FORGE_CACHE_ENABLED: use the fingerprint cache (default: true)
//   - FORGE_WORKERS: parallel workers, 0 for every CPU (default: 0)
//   - FORGE_THRESHOLD: Jaccard merge threshold (default: 0.85)
//   - FORGE_DEFAULT_TIER: reputation tier of unlisted sources (default: 0)
//   - FORGE_SKIN: reference palette (default: apple_light)
//   - FORGE_MIN_PCT / FORGE_MAX_PCT: balance target range (default: 15 / 25)
//   - FORGE_METRICS_TEXTFILE: Prometheus textfile output path
//   - FORGE_LOG_LEVEL: debug, info, warn or error (default: warn)
//
// Returns an error if any environment variable has an invalid value.
func (c *Config) ApplyEnv() error {
	parseEnvString("FORGE_DB", &c.DBPath)
	parseEnvString("FORGE_CACHE", &c.CachePath)
	if err := parseEnvBool("FORGE_CACHE_ENABLED", &c.CacheEnabled); err != nil {
		return err
	}
	if err := parseEnvInt("FORGE_WORKERS", &c.Workers); err != nil {
		return err
	}
	if err := parseEnvFloat("FORGE_THRESHOLD", &c.Cluster.Threshold); err != nil {
		return err
	}
	if err := parseEnvInt("FORGE_DEFAULT_TIER", &c.Cluster.DefaultTier); err != nil {
		return err
	}
	parseEnvString("FORGE_SKIN", &c.Scoring.Skin)
	if err := parseEnvFloat("FORGE_MIN_PCT", &c.Balance.MinPct); err != nil {
		return err
	}
	if err := parseEnvFloat("FORGE_MAX_PCT", &c.Balance.MaxPct); err != nil {
		return err
	}
	parseEnvString("FORGE_METRICS_TEXTFILE", &c.MetricsTextfile)
	parseEnvString("FORGE_LOG_LEVEL", &c.LogLevel)
	return nil
}

func parseEnvString(key string, dest *string) {
	if value := os.Getenv(key); value != "" {
		*dest = value
	}
}

// parseEnvFloat parses a float64 from an environment variable
func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}
