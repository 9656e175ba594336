package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/forge/internal/catalog"
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Run a curation pass: cluster, score keepers, report balance",
	Long: `Run a curation pass over every record in the log.

The pass recomputes all clusters from scratch, audits every non-keeper as a
duplicate of its keeper, scores keepers (reusing stored scores whose content
and rubric are unchanged) and drops keepers below the quality bar.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		curator, err := newCurator()
		if err != nil {
			return err
		}
		res, err := curator.Run(cmd.Context())
		if err != nil {
			return err
		}
		printPass(res)
		return nil
	},
}

func printPass(res *catalog.Result) {
	green := color.New(color.FgGreen).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	p := res.Pass
	fmt.Printf("\n%s Pass %s completed\n\n", green("✓"), cyan(p.ID))
	fmt.Printf("  Records:    %d\n", p.RecordCount)
	fmt.Printf("  Clusters:   %d %s\n", p.ClusterCount,
		gray(fmt.Sprintf("(%d exact merges, %d near merges)", res.Partition.Stats.ExactMerges, res.Partition.Stats.NearMerges)))
	fmt.Printf("  Duplicates: %d\n", p.Duplicates)
	fmt.Printf("  Kept:       %s\n", green(p.Kept))
	fmt.Printf("  Dropped:    %d\n", p.Dropped)
	if res.Reused > 0 {
		fmt.Printf("  %s\n", gray(fmt.Sprintf("%d stored scores reused", res.Reused)))
	}
	for _, e := range res.Errors {
		fmt.Printf("  %s %v\n", yellow("⚠"), e)
	}
	if n := len(res.Balance.Underrepresented); n > 0 {
		fmt.Printf("\n%s %d underrepresented (see 'forge report')\n", yellow("→"), n)
	}
	fmt.Println()
}

func init() {
	rootCmd.AddCommand(dedupeCmd)
}
