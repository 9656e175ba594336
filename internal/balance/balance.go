// Package balance reports how categories and sources are represented in the
// surviving catalog. It only observes: backfilling a gap is someone else's call.
package balance

import (
	"fmt"
	"math"
	"sort"

	"github.com/steveyegge/forge/internal/hashing"
	"github.com/steveyegge/forge/internal/types"
)

// Dimension names used in gaps
const (
	DimensionCategory = "category"
	DimensionSource   = "source"
)

// Config holds the target representation range
type Config struct {
	MinPct float64 // Below this a key is underrepresented (default: 15)
	MaxPct float64 // Above this a key is overrepresented (default: 25)

	// Categories are reported even when nothing in the catalog carries them
	Categories []string
}

// DefaultConfig returns the default target range over the known categories
func DefaultConfig() Config {
	return Config{
		MinPct:     15,
		MaxPct:     25,
		Categories: hashing.Categories(),
	}
}

// Validate checks the target range
func (c Config) Validate() error {
	if c.MinPct < 0 || c.MinPct > 100 {
		return fmt.Errorf("min_pct must be between 0 and 100 (got %.2f)", c.MinPct)
	}
	if c.MaxPct < 0 || c.MaxPct > 100 {
		return fmt.Errorf("max_pct must be between 0 and 100 (got %.2f)", c.MaxPct)
	}
	if c.MinPct > c.MaxPct {
		return fmt.Errorf("min_pct (%.2f) must not exceed max_pct (%.2f)", c.MinPct, c.MaxPct)
	}
	return nil
}

// Tracker computes balance reports
type Tracker struct {
	cfg Config
}

// NewTracker creates a tracker
func NewTracker(cfg Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid balance config: %w", err)
	}
	return &Tracker{cfg: cfg}, nil
}

// Report computes the representation of the given entries. Every entry counts
// once, under its primary category and its source.
func (t *Tracker) Report(entries []*types.CatalogEntry) *types.BalanceReport {
	categories := make(map[string]int)
	for _, c := range t.cfg.Categories {
		categories[c] = 0
	}
	sources := make(map[string]int)
	for _, e := range entries {
		categories[e.QuickFeatures.PrimaryCategory()]++
		sources[e.SourceID]++
	}

	r := &types.BalanceReport{
		Total:            len(entries),
		Categories:       shares(categories, len(entries)),
		Sources:          shares(sources, len(entries)),
		Underrepresented: []types.Gap{},
		Overrepresented:  []types.Gap{},
		MinPct:           t.cfg.MinPct,
		MaxPct:           t.cfg.MaxPct,
	}
	t.flag(r, DimensionCategory, r.Categories)
	t.flag(r, DimensionSource, r.Sources)

	sortGaps(r.Underrepresented)
	sortGaps(r.Overrepresented)
	return r
}

func (t *Tracker) flag(r *types.BalanceReport, dim string, shares map[string]types.Share) {
	for key, s := range shares {
		gap := types.Gap{Dimension: dim, Key: key, Pct: s.Pct}
		switch {
		case s.Pct < t.cfg.MinPct:
			r.Underrepresented = append(r.Underrepresented, gap)
		case s.Pct > t.cfg.MaxPct:
			r.Overrepresented = append(r.Overrepresented, gap)
		}
	}
}

func shares(counts map[string]int, total int) map[string]types.Share {
	out := make(map[string]types.Share, len(counts))
	for k, n := range counts {
		var pct float64
		if total > 0 {
			pct = math.Round(10000*float64(n)/float64(total)) / 100
		}
		out[k] = types.Share{Count: n, Pct: pct}
	}
	return out
}

// sortGaps orders gaps by dimension, then percentage, then key
func sortGaps(gaps []types.Gap) {
	sort.Slice(gaps, func(i, j int) bool {
		a, b := gaps[i], gaps[j]
		if a.Dimension != b.Dimension {
			return a.Dimension < b.Dimension
		}
		if a.Pct != b.Pct {
			return a.Pct < b.Pct
		}
		return a.Key < b.Key
	})
}
