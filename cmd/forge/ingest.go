package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/forge/internal/indexer"
	"github.com/steveyegge/forge/internal/types"
)

// sourceFlags describe where ingested artifacts come from
type sourceFlags struct {
	sourceID   string
	sourceName string
	url        string
	license    string
	typ        string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sourceID, "source", "", "Source id (required)")
	cmd.Flags().StringVar(&f.sourceName, "source-name", "", "Human-readable source name")
	cmd.Flags().StringVar(&f.url, "url", "", "Origin URL")
	cmd.Flags().StringVar(&f.license, "license", "", "License of the artifacts")
	cmd.Flags().StringVar(&f.typ, "type", "", "Artifact type: html or mjml (default: from file extension)")
	_ = cmd.MarkFlagRequired("source")
}

// artifactType picks the type flag, or infers it from the file extension
func (f *sourceFlags) artifactType(path string) types.ArtifactType {
	if f.typ != "" {
		return types.ArtifactType(strings.ToLower(f.typ))
	}
	if strings.EqualFold(filepath.Ext(path), ".mjml") {
		return types.TypeMJML
	}
	return types.TypeHTML
}

func (f *sourceFlags) artifact(path string, content []byte) *types.Artifact {
	return &types.Artifact{
		SourceID:   f.sourceID,
		SourceName: f.sourceName,
		URL:        f.url,
		License:    f.license,
		Type:       f.artifactType(path),
		FilePath:   path,
		Content:    content,
	}
}

// collectArtifacts reads every file matching a doublestar pattern, in
// lexical order
func collectArtifacts(pattern string, src *sourceFlags) ([]*types.Artifact, error) {
	paths, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("invalid glob %q: %w", pattern, err)
	}
	arts := make([]*types.Artifact, 0, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		arts = append(arts, src.artifact(p, content))
	}
	return arts, nil
}

var (
	addSource    sourceFlags
	addID        int64
	ingestSource sourceFlags
	ingestGlob   string
)

var addCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Append one artifact to the record log",
	Long: `Append one artifact to the record log. Exact duplicates are stored and
tagged, never rejected.

Example:
  forge add --source gallery templates/welcome.html
  forge add --source archive --id 42 old/receipt.mjml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		hasher, closeCache, err := newHasher()
		if err != nil {
			return err
		}
		defer closeCache()
		ix, err := newIndexer(hasher)
		if err != nil {
			return err
		}

		art := addSource.artifact(args[0], content)
		art.RequestedID = addID
		rec, err := ix.Append(cmd.Context(), art)
		if err != nil {
			return err
		}
		printRecord(rec)
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Append every file matching a glob to the record log",
	Long: `Append every file matching a glob to the record log. Patterns support ** for
any number of directories. Failures are reported per file and do not stop the
batch.

Example:
  forge ingest --source gallery --glob 'corpus/gallery/**/*.{html,mjml}'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		arts, err := collectArtifacts(ingestGlob, &ingestSource)
		if err != nil {
			return err
		}
		if len(arts) == 0 {
			return fmt.Errorf("no files match %q", ingestGlob)
		}

		hasher, closeCache, err := newHasher()
		if err != nil {
			return err
		}
		defer closeCache()
		ix, err := newIndexer(hasher)
		if err != nil {
			return err
		}

		res, err := ix.AppendBatch(cmd.Context(), arts)
		if err != nil {
			return err
		}
		printBatch(res)
		return nil
	},
}

func printRecord(rec *types.Record) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	switch {
	case rec.IsExactDuplicate():
		fmt.Printf("%s Record %d %s\n", yellow("="), rec.ID, gray(fmt.Sprintf("(exact duplicate of %d)", rec.DuplicateOf)))
	case !rec.Parsed:
		fmt.Printf("%s Record %d %s\n", yellow("⚠"), rec.ID, gray("(unparseable, exact-hash only)"))
	default:
		fmt.Printf("%s Record %d %s\n", green("✓"), rec.ID, gray(rec.ContentHash[:12]))
	}
}

func printBatch(res *indexer.BatchResult) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s Appended %d records %s\n", green("✓"), res.Appended(),
		gray(fmt.Sprintf("(%d exact duplicates, %d unparseable)", res.Duplicates, res.Unparseable)))
	for _, e := range res.Errors {
		fmt.Printf("  %s %s: %v\n", red("✗"), e.FilePath, e.Err)
	}
	fmt.Println()
}

func init() {
	addSource.register(addCmd)
	addCmd.Flags().Int64Var(&addID, "id", 0, "Requested record id (a taken id falls back to a fresh one)")
	rootCmd.AddCommand(addCmd)

	ingestSource.register(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestGlob, "glob", "", "Doublestar file pattern (required)")
	_ = ingestCmd.MarkFlagRequired("glob")
	rootCmd.AddCommand(ingestCmd)
}
