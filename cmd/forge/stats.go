package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/forge/internal/scoring"
	"github.com/steveyegge/forge/internal/types"
)

// catalogStats summarizes the store for display
type catalogStats struct {
	Records  int
	Clusters int
	Kept     int
	LastPass *types.Pass
}

func getStats(ctx context.Context) (*catalogStats, error) {
	records, err := store.CountRecords(ctx)
	if err != nil {
		return nil, err
	}
	clusters, err := store.GetClusters(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := store.GetCatalog(ctx, types.CatalogFilter{})
	if err != nil {
		return nil, err
	}
	last, err := store.GetLastPass(ctx)
	if err != nil {
		return nil, err
	}
	return &catalogStats{Records: records, Clusters: len(clusters), Kept: len(entries), LastPass: last}, nil
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show record, cluster and catalog counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStats(cmd.Context())
		if err != nil {
			return err
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Forge Catalog ==="))
		fmt.Printf("  Records:  %d\n", s.Records)
		fmt.Printf("  Clusters: %d\n", s.Clusters)
		fmt.Printf("  Kept:     %d\n", s.Kept)
		fmt.Printf("  Rubric:   %s %s\n", scoring.RubricVersion, gray(scoring.DescribeRubric()))
		fmt.Println()

		if s.LastPass == nil {
			fmt.Printf("  %s\n\n", gray("No passes yet (run 'forge dedupe')"))
			return nil
		}
		p := s.LastPass
		status := green(string(p.Status))
		if p.Status == types.PassFailed {
			status = red(string(p.Status))
		}
		fmt.Printf("  Last pass: %s %s\n", p.ID, status)
		fmt.Printf("    Started:  %s\n", p.StartedAt.Local().Format("2006-01-02 15:04:05"))
		if p.FinishedAt != nil {
			fmt.Printf("    Took:     %v\n", p.FinishedAt.Sub(p.StartedAt).Round(time.Millisecond))
		}
		if p.Error != "" {
			fmt.Printf("    Error:    %s\n", red(p.Error))
		}
		if s.Records > p.RecordCount {
			fmt.Printf("    %s\n", gray(fmt.Sprintf("%d records ingested since", s.Records-p.RecordCount)))
		}
		fmt.Println()
		return nil
	},
}

var (
	catalogAll      bool
	catalogSource   string
	catalogCategory string
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List catalog entries",
	Long: `List the kept entries of the catalog. With --all, every clustered record is
listed, including duplicates and dropped keepers.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := store.GetCatalog(cmd.Context(), types.CatalogFilter{
			IncludeAll: catalogAll,
			SourceID:   catalogSource,
			Category:   catalogCategory,
		})
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()
		for _, e := range entries {
			mark := gray("·")
			detail := gray(fmt.Sprintf("duplicate in cluster %d", e.ClusterID))
			if e.IsKeeper && e.Score != nil {
				mark = green("✓")
				if e.Band != types.BandKeep {
					mark = red("✗")
				}
				detail = fmt.Sprintf("%.2f %s", e.Score.Total, e.Band)
			}
			fmt.Printf("%s %5d  %-16s %-14s %s\n", mark, e.ID, e.SourceID, e.QuickFeatures.PrimaryCategory(), detail)
		}
		if len(entries) == 0 {
			fmt.Println(gray("No entries"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)

	catalogCmd.Flags().BoolVar(&catalogAll, "all", false, "Include duplicates and dropped keepers")
	catalogCmd.Flags().StringVar(&catalogSource, "source", "", "Only entries from this source")
	catalogCmd.Flags().StringVar(&catalogCategory, "category", "", "Only entries with this primary category")
	rootCmd.AddCommand(catalogCmd)
}
