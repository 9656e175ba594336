// Command forge curates a corpus of email templates: it ingests artifacts
// into an append-only record log, clusters duplicates, scores keepers and
// reports how the surviving catalog is balanced.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/forge/internal/balance"
	"github.com/steveyegge/forge/internal/catalog"
	"github.com/steveyegge/forge/internal/cluster"
	"github.com/steveyegge/forge/internal/config"
	"github.com/steveyegge/forge/internal/hashing"
	"github.com/steveyegge/forge/internal/indexer"
	"github.com/steveyegge/forge/internal/metrics"
	"github.com/steveyegge/forge/internal/scoring"
	"github.com/steveyegge/forge/internal/storage"
)

var (
	dbPath     string
	configPath string
	verbose    bool

	cfg   *config.Config
	store storage.Storage
	stats = metrics.New()
)

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "Curate email templates into a deduplicated, scored catalog",
	Long: `forge ingests HTML and MJML email templates into an append-only record log,
clusters exact and near duplicates, scores one keeper per cluster against a
six-criterion rubric and reports category and source balance.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		if dbPath != "" {
			cfg.DBPath = dbPath
		}

		level, err := cfg.Level()
		if err != nil {
			return err
		}
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		// init creates the database itself
		if cmd.Name() == "init" {
			return nil
		}
		if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
			return fmt.Errorf("no database at %s (run 'forge init' first)", cfg.DBPath)
		}
		store, err = storage.NewStorage(cmd.Context(), &storage.Config{Path: cfg.DBPath})
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if store != nil {
			if err := store.Close(); err != nil {
				return fmt.Errorf("failed to close database: %w", err)
			}
		}
		if cfg != nil && cfg.MetricsTextfile != "" {
			return stats.WriteTextfile(cfg.MetricsTextfile)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: db_path from config, .forge/forge.db)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// newHasher returns a hasher, backed by the fingerprint cache when enabled.
// The returned func closes the cache.
func newHasher() (*hashing.Hasher, func(), error) {
	if !cfg.CacheEnabled {
		return hashing.NewHasher(nil, slog.Default()), func() {}, nil
	}
	cache, err := hashing.OpenCache(cfg.CachePath)
	if err != nil {
		return nil, nil, err
	}
	closeCache := func() {
		if err := cache.Close(); err != nil {
			slog.Warn("Failed to close fingerprint cache", "error", err)
		}
	}
	return hashing.NewHasher(cache, slog.Default()), closeCache, nil
}

func newIndexer(hasher *hashing.Hasher) (*indexer.Indexer, error) {
	return indexer.New(indexer.Config{
		Store:    store,
		Hasher:   hasher,
		Workers:  cfg.Workers,
		Recorder: stats,
		Logger:   slog.Default(),
	})
}

func newCurator() (*catalog.Curator, error) {
	engine, err := cluster.NewEngine(cfg.ClusterConfig(slog.Default()))
	if err != nil {
		return nil, err
	}
	palette, err := scoring.Skin(cfg.Scoring.Skin)
	if err != nil {
		return nil, err
	}
	scorer, err := scoring.NewScorer(scoring.Config{Palette: palette, Logger: slog.Default()})
	if err != nil {
		return nil, err
	}
	tracker, err := balance.NewTracker(cfg.BalanceConfig())
	if err != nil {
		return nil, err
	}
	return catalog.NewCurator(catalog.Config{
		Store:    store,
		Engine:   engine,
		Gate:     scoring.NewGate(scorer, nil),
		Tracker:  tracker,
		Workers:  cfg.Workers,
		LockPath: storage.PassLockPath(cfg.DBPath),
		Recorder: stats,
		Logger:   slog.Default(),
	})
}
