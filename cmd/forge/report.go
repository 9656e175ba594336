package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/forge/internal/balance"
	"github.com/steveyegge/forge/internal/types"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show category and source balance of the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		curator, err := newCurator()
		if err != nil {
			return err
		}
		snap, err := curator.Snapshot(cmd.Context())
		if err != nil {
			return err
		}
		printBalance(snap.Balance)
		return nil
	},
}

func printBalance(r *types.BalanceReport) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n", cyan("=== Catalog Balance ==="))
	fmt.Printf("%s\n\n", gray(fmt.Sprintf("%d entries, target %.0f-%.0f%%", r.Total, r.MinPct, r.MaxPct)))

	flagged := make(map[string]string)
	for _, g := range r.Underrepresented {
		flagged[g.String()] = "under"
	}
	for _, g := range r.Overrepresented {
		flagged[g.String()] = "over"
	}

	section := func(title, dim string, shares map[string]types.Share) {
		fmt.Printf("%s\n", yellow(title))
		keys := make([]string, 0, len(shares))
		for k := range shares {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s := shares[k]
			line := fmt.Sprintf("  %-16s %4d  %6.2f%%", k, s.Count, s.Pct)
			if f, ok := flagged[types.Gap{Dimension: dim, Key: k}.String()]; ok {
				line += "  " + yellow(f)
			}
			fmt.Println(line)
		}
		fmt.Println()
	}
	section("Categories:", balance.DimensionCategory, r.Categories)
	section("Sources:", balance.DimensionSource, r.Sources)
}

var (
	auditRecord int64
	auditReason string
	auditLimit  int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show why records were left out of the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := types.AuditFilter{
			RecordID: auditRecord,
			Reason:   types.AuditReason(auditReason),
			Limit:    auditLimit,
		}
		if filter.Reason != "" && !filter.Reason.IsValid() {
			return fmt.Errorf("invalid reason %q (expected %s or %s)", auditReason,
				types.ReasonDuplicateOf, types.ReasonScoreBelowThreshold)
		}
		entries, err := store.GetAuditEntries(cmd.Context(), filter)
		if err != nil {
			return err
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		if len(entries) == 0 {
			fmt.Println(gray("No audit entries"))
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%5d  %s  %s\n", e.RecordID, e, gray(e.CreatedAt.Local().Format("2006-01-02 15:04:05")))
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "Write the catalog, audit log and balance report as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		curator, err := newCurator()
		if err != nil {
			return err
		}
		snap, err := curator.Export(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Exported %d entries and %d audit entries to %s\n",
			green("✓"), len(snap.Entries), len(snap.Audit), args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)

	auditCmd.Flags().Int64Var(&auditRecord, "record", 0, "Only entries for this record id")
	auditCmd.Flags().StringVar(&auditReason, "reason", "", "Only entries with this reason")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 0, "Maximum entries to show (0 = all)")
	rootCmd.AddCommand(auditCmd)

	rootCmd.AddCommand(exportCmd)
}
