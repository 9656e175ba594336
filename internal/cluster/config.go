package cluster

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Config holds configuration for the cluster engine
type Config struct {
	// Threshold is the Jaccard similarity (0.0-1.0] at which two structure
	// shingle sets are merged into one cluster.
	// Higher values = fewer merges (near-identical skeletons only)
	// Lower values = more merges, and longer duplicate chains through transitivity
	// Default: 0.85
	Threshold float64

	// Families maps source_id to a source family. Similarity is only compared
	// within a family. Sources without an entry form their own family.
	Families map[string]string

	// Reputation maps source_id to a reputation tier. The keeper of a cluster
	// is the member from the highest tier.
	Reputation map[string]int

	// DefaultTier is the tier of sources missing from Reputation
	// Default: 0
	DefaultTier int

	Logger *slog.Logger
}

// DefaultConfig returns the default cluster engine configuration
func DefaultConfig() Config {
	return Config{
		Threshold:   0.85,
		Families:    map[string]string{},
		Reputation:  map[string]int{},
		DefaultTier: 0,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.Threshold <= 0.0 || c.Threshold > 1.0 {
		return fmt.Errorf("threshold must be in (0.0, 1.0] (got %.2f)", c.Threshold)
	}
	for source, family := range c.Families {
		if strings.TrimSpace(source) == "" {
			return fmt.Errorf("family map has an empty source_id")
		}
		if strings.TrimSpace(family) == "" {
			return fmt.Errorf("source %q maps to an empty family", source)
		}
	}
	for source := range c.Reputation {
		if strings.TrimSpace(source) == "" {
			return fmt.Errorf("reputation map has an empty source_id")
		}
	}
	return nil
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf("Config{Threshold: %.2f, Families: %d, Reputation: %s, DefaultTier: %d}",
		c.Threshold, len(c.Families), formatTiers(c.Reputation), c.DefaultTier)
}

// FamilyOf returns the source family of a source_id
func (c Config) FamilyOf(sourceID string) string {
	if f, ok := c.Families[sourceID]; ok {
		return f
	}
	return sourceID
}

// TierOf returns the reputation tier of a source_id
func (c Config) TierOf(sourceID string) int {
	if t, ok := c.Reputation[sourceID]; ok {
		return t
	}
	return c.DefaultTier
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
	return "[" + strings.Join(parts, " ") + "]"
}
