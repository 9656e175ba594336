package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/steveyegge/forge/internal/types"
)

// Snapshot is the externally visible state of the catalog after the last pass
type Snapshot struct {
	Pass    *types.Pass           `json:"pass"`
	Entries []*types.CatalogEntry `json:"entries"`
	Audit   []*types.AuditEntry   `json:"audit"`
	Balance *types.BalanceReport  `json:"balance"`
}

// Snapshot reads the current catalog, the full audit log and the balance of
// the kept entries. Pass is nil before the first pass.
func (c *Curator) Snapshot(ctx context.Context) (*Snapshot, error) {
	pass, err := c.store.GetLastPass(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get last pass: %w", err)
	}
	entries, err := c.store.GetCatalog(ctx, types.CatalogFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	audit, err := c.store.GetAuditEntries(ctx, types.AuditFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	if entries == nil {
		entries = []*types.CatalogEntry{}
	}
	if audit == nil {
		audit = []*types.AuditEntry{}
	}
	return &Snapshot{
		Pass:    pass,
		Entries: entries,
		Audit:   audit,
		Balance: c.tracker.Report(entries),
	}, nil
}

// Export writes the snapshot as indented JSON. The file is replaced
// atomically, so readers never see a partial export.
func (c *Curator) Export(ctx context.Context, path string) (*Snapshot, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to write export: %w", err)
	}
	c.logger.Info("Exported catalog", "path", path, "entries", len(snap.Entries), "audit", len(snap.Audit))
	return snap, nil
}
