// Package config loads forge's settings from .forge/config.yaml and FORGE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/steveyegge/forge/internal/balance"
	"github.com/steveyegge/forge/internal/cluster"
	"github.com/steveyegge/forge/internal/scoring"
)

// DefaultPath is where the config file is looked up when none is given
const DefaultPath = ".forge/config.yaml"

// Config is the complete forge configuration
type Config struct {
	// DBPath is the sqlite database holding the record log and derived views
	// Default: .forge/forge.db
	DBPath string `yaml:"db_path"`

	// CachePath is the bbolt fingerprint cache, used when CacheEnabled is set
	// Default: .forge/fingerprints.db
	CachePath    string `yaml:"cache_path"`
	CacheEnabled bool   `yaml:"cache_enabled"`

	// Workers bounds parallel fingerprinting and scoring. 0 uses every CPU.
	Workers int `yaml:"workers"`

	Cluster ClusterConfig `yaml:"cluster"`
	Scoring ScoringConfig `yaml:"scoring"`
	Balance BalanceConfig `yaml:"balance"`

	// MetricsTextfile, when set, receives the Prometheus metrics after every
	// command in the node_exporter textfile format
	MetricsTextfile string `yaml:"metrics_textfile"`

	// LogLevel is one of debug, info, warn, error
	// Default: warn
	LogLevel string `yaml:"log_level"`
}

// ClusterConfig configures near-duplicate clustering
type ClusterConfig struct {
	// Threshold is the Jaccard similarity at which two records merge
	// Default: 0.85, Range: (0, 1]
	Threshold float64 `yaml:"threshold"`

	// Families groups source ids. Similarity is only compared within a family.
	Families map[string]string `yaml:"families"`

	// Reputation ranks sources for keeper selection, higher wins
	Reputation  map[string]int `yaml:"reputation"`
	DefaultTier int            `yaml:"default_tier"`
}

// ScoringConfig configures the quality scorer
type ScoringConfig struct {
	// Skin names the reference palette tokens resolve through
	// Default: apple_light
	Skin string `yaml:"skin"`
}

// BalanceConfig is the target representation range, in percent
type BalanceConfig struct {
	MinPct float64 `yaml:"min_pct"` // Default: 15
	MaxPct float64 `yaml:"max_pct"` // Default: 25
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	cc := cluster.DefaultConfig()
	bc := balance.DefaultConfig()
	return &Config{
		DBPath:       ".forge/forge.db",
		CachePath:    ".forge/fingerprints.db",
		CacheEnabled: true,
		Workers:      0,
		Cluster: ClusterConfig{
			Threshold:   cc.Threshold,
			Families:    map[string]string{},
			Reputation:  map[string]int{},
			DefaultTier: cc.DefaultTier,
		},
		Scoring:  ScoringConfig{Skin: scoring.DefaultSkin},
		Balance:  BalanceConfig{MinPct: bc.MinPct, MaxPct: bc.MaxPct},
		LogLevel: "warn",
	}
}

// LoadConfig reads the YAML file at path over the defaults, applies FORGE_*
// overrides and validates the result. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the config as YAML, creating parent directories
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration has valid values
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.CacheEnabled && strings.TrimSpace(c.CachePath) == "" {
		return fmt.Errorf("cache_path must not be empty when the cache is enabled")
	}
	if c.Workers < 0 || c.Workers > 256 {
		return fmt.Errorf("workers must be between 0 and 256 (got %d)", c.Workers)
	}
	if err := c.ClusterConfig(nil).Validate(); err != nil {
		return fmt.Errorf("cluster: %w", err)
	}
	if _, err := scoring.Skin(c.Scoring.Skin); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if err := c.BalanceConfig().Validate(); err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// String returns a human-readable representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{DB: %s, Cache: %s (enabled: %t), Workers: %d, Threshold: %.2f, "+
			"Families: %d, Reputation: %s, Skin: %s, Balance: %.0f-%.0f%%, LogLevel: %s}",
		c.DBPath, c.CachePath, c.CacheEnabled, c.Workers, c.Cluster.Threshold,
		len(c.Cluster.Families), formatTiers(c.Cluster.Reputation), c.Scoring.Skin,
		c.Balance.MinPct, c.Balance.MaxPct, c.LogLevel,
	)
}

// ClusterConfig converts the cluster section for the engine
func (c *Config) ClusterConfig(logger *slog.Logger) cluster.Config {
	return cluster.Config{
		Threshold:   c.Cluster.Threshold,
		Families:    c.Cluster.Families,
		Reputation:  c.Cluster.Reputation,
		DefaultTier: c.Cluster.DefaultTier,
		Logger:      logger,
	}
}

// BalanceConfig converts the balance section for the tracker
func (c *Config) BalanceConfig() balance.Config {
	bc := balance.DefaultConfig()
	bc.MinPct = c.Balance.MinPct
	bc.MaxPct = c.Balance.MaxPct
	return bc
}

// Level parses LogLevel
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

func formatTiers(tiers map[string]int) string {
	keys := make([]string, 0, len(tiers))
	for k := range tiers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, tiers[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
