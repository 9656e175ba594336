package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/forge/internal/storage"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the forge database and a default config",
	Long: `Create .forge/ with an empty database and, unless one exists, a config file
holding the defaults.

Example:
  forge init
  forge init --db /data/templates.db`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wroteConfig := false
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			if err := cfg.Save(configPath); err != nil {
				return err
			}
			wroteConfig = true
		}

		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err := storage.NewStorage(cmd.Context(), &storage.Config{Path: cfg.DBPath})
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		_ = db.Close() // Schema is in place once opened

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s Initialized forge\n\n", green("✓"))
		fmt.Printf("  Database: %s\n", cyan(cfg.DBPath))
		if wroteConfig {
			fmt.Printf("  Config:   %s\n", cyan(configPath))
		}
		fmt.Println()
		fmt.Printf("%s Next steps:\n", gray("→"))
		fmt.Printf("  %s\n", gray("forge ingest --source gallery --glob 'corpus/**/*.html'"))
		fmt.Printf("  %s\n", gray("forge dedupe"))
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
