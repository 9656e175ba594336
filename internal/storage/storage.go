package storage

import (
	"context"

	"github.com/steveyegge/forge/internal/storage/sqlite"
	"github.com/steveyegge/forge/internal/types"
)

// Storage defines the interface for the catalog store.
//
// The record log is the single source of truth: records are appended and
// never modified. Clusters, scores and catalog entries are derived views that
// a pass replaces wholesale; they can always be recomputed from the log.
type Storage interface {
	// Record log (append-only)
	AppendRecord(ctx context.Context, rec *types.Record, content []byte) error
	GetRecord(ctx context.Context, id int64) (*types.Record, error)
	QueryRecords(ctx context.Context, filter types.RecordFilter) ([]*types.Record, error)
	CountRecords(ctx context.Context) (int, error)
	GetContent(ctx context.Context, contentHash string) ([]byte, error)
	PutContent(ctx context.Context, contentHash string, content []byte) error

	// Cluster view
	ReplaceClusters(ctx context.Context, passID string, clusters []*types.Cluster) error
	GetClusters(ctx context.Context) ([]*types.Cluster, error)
	GetClusterOf(ctx context.Context, recordID int64) (*types.Cluster, error)

	// Score view
	SaveScore(ctx context.Context, passID string, score *types.Score) error
	GetScore(ctx context.Context, recordID int64) (*types.Score, error)

	// Catalog view
	GetCatalog(ctx context.Context, filter types.CatalogFilter) ([]*types.CatalogEntry, error)

	// Audit log (append-only)
	AddAuditEntry(ctx context.Context, entry *types.AuditEntry) (bool, error)
	GetAuditEntries(ctx context.Context, filter types.AuditFilter) ([]*types.AuditEntry, error)

	// Pass log
	StartPass(ctx context.Context, pass *types.Pass) error
	FinishPass(ctx context.Context, pass *types.Pass) error
	GetPass(ctx context.Context, id string) (*types.Pass, error)
	GetLastPass(ctx context.Context) (*types.Pass, error)

	// Config
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path
	// Default: ".forge/forge.db"
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: ".forge/forge.db",
	}
}

// NewStorage creates a new SQLite storage backend
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}

	return sqlite.New(ctx, cfg.Path)
}
