// Package indexer ingests raw artifacts into the record log.
//
// Fingerprinting (hashing, shingling, feature extraction) is parallel across a
// worker pool. Appending is serialized by the store, which mints record ids
// atomically; exact duplicates are stored and tagged, never discarded.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/forge/internal/hashing"
	"github.com/steveyegge/forge/internal/storage"
	"github.com/steveyegge/forge/internal/types"
)

// Recorder receives ingestion outcomes. metrics.Metrics implements it.
type Recorder interface {
	RecordIngest(outcome string)
}

// Ingestion outcomes reported to the Recorder
const (
	OutcomeNew         = "new"
	OutcomeDuplicate   = "duplicate"
	OutcomeUnparseable = "unparseable"
	OutcomeFailed      = "failed"
)

// Config configures an Indexer
type Config struct {
	Store  storage.Storage
	Hasher *hashing.Hasher // Optional; an uncached hasher is used when nil

	// Workers bounds parallel fingerprinting in AppendBatch.
	// Default: runtime.NumCPU()
	Workers int

	Recorder Recorder     // Optional
	Logger   *slog.Logger // Optional; defaults to slog.Default()
}

// Indexer appends artifacts to the record log
type Indexer struct {
	store    storage.Storage
	hasher   *hashing.Hasher
	workers  int
	recorder Recorder
	logger   *slog.Logger
}

// New creates an indexer
func New(cfg Config) (*Indexer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("workers cannot be negative (got %d)", cfg.Workers)
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Hasher == nil {
		cfg.Hasher = hashing.NewHasher(nil, cfg.Logger)
	}
	return &Indexer{
		store:    cfg.Store,
		hasher:   cfg.Hasher,
		workers:  cfg.Workers,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
	}, nil
}

// Append validates, fingerprints and stores one artifact, returning its record.
// Unparseable markup is not an error: the record is stored with parsed=false
// and only takes part in exact-duplicate detection.
func (ix *Indexer) Append(ctx context.Context, art *types.Artifact) (*types.Record, error) {
	if err := art.Validate(); err != nil {
		ix.record(OutcomeFailed)
		return nil, fmt.Errorf("invalid artifact: %w", err)
	}
	return ix.appendFingerprinted(ctx, art, ix.fingerprint(art))
}

func (ix *Indexer) fingerprint(art *types.Artifact) *hashing.Fingerprint {
	return ix.hasher.Fingerprint(filepath.Base(art.FilePath), art.Content)
}

func (ix *Indexer) appendFingerprinted(ctx context.Context, art *types.Artifact, fp *hashing.Fingerprint) (*types.Record, error) {
	rec := &types.Record{
		ID:            art.RequestedID,
		SourceID:      art.SourceID,
		SourceName:    art.SourceName,
		URL:           art.URL,
		License:       art.License,
		Type:          art.Type,
		FilePath:      art.FilePath,
		ByteSize:      int64(len(art.Content)),
		ContentHash:   fp.ContentHash,
		Shingles:      fp.Shingles,
		Parsed:        fp.Parsed,
		QuickFeatures: fp.Features,
		IngestedAt:    time.Now().UTC(),
	}

	if err := ix.store.AppendRecord(ctx, rec, art.Content); err != nil {
		ix.record(OutcomeFailed)
		return nil, fmt.Errorf("failed to append record: %w", err)
	}

	switch {
	case rec.IsExactDuplicate():
		ix.record(OutcomeDuplicate)
		ix.logger.Debug("Exact duplicate ingested", "id", rec.ID, "duplicate_of", rec.DuplicateOf, "source", rec.SourceID)
	case !rec.Parsed:
		ix.record(OutcomeUnparseable)
		ix.logger.Warn("Artifact is unparseable, exact-hash only", "id", rec.ID, "file", art.FilePath, "error", fp.ParseError)
	default:
		ix.record(OutcomeNew)
	}
	if art.RequestedID != 0 && rec.ID != art.RequestedID {
		ix.logger.Warn("Requested id was taken, minted a fresh one",
			"requested", art.RequestedID, "id", rec.ID)
	}
	return rec, nil
}

// ItemError is the failure of one artifact in a batch
type ItemError struct {
	Index    int
	FilePath string
	Err      error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("artifact %d (%s): %v", e.Index, e.FilePath, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// BatchResult is the outcome of AppendBatch. Records holds the stored
// records in input order (nil for failed artifacts).
type BatchResult struct {
	Records     []*types.Record
	Errors      []*ItemError
	Duplicates  int
	Unparseable int
}

// Appended returns the number of artifacts stored
func (r *BatchResult) Appended() int {
	return len(r.Records) - len(r.Errors)
}

// AppendBatch ingests many artifacts. Fingerprints are computed in parallel;
// appends then run in input order so id assignment follows the batch order.
// A failing artifact is reported in the result and never aborts the batch;
// only context cancellation returns an error.
func (ix *Indexer) AppendBatch(ctx context.Context, arts []*types.Artifact) (*BatchResult, error) {
	result := &BatchResult{Records: make([]*types.Record, len(arts))}
	fps := make([]*hashing.Fingerprint, len(arts))
	invalid := make([]error, len(arts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)
	for i, art := range arts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if art == nil {
				invalid[i] = errors.New("nil artifact")
				return nil
			}
			if err := art.Validate(); err != nil {
				invalid[i] = fmt.Errorf("invalid artifact: %w", err)
				return nil
			}
			fps[i] = ix.fingerprint(art)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("batch fingerprinting canceled: %w", err)
	}

	for i, art := range arts {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("batch ingestion canceled: %w", err)
		}
		if invalid[i] != nil {
			ix.record(OutcomeFailed)
			result.Errors = append(result.Errors, &ItemError{Index: i, FilePath: artifactPath(art), Err: invalid[i]})
			continue
		}
		rec, err := ix.appendFingerprinted(ctx, art, fps[i])
		if err != nil {
			result.Errors = append(result.Errors, &ItemError{Index: i, FilePath: art.FilePath, Err: err})
			ix.logger.Warn("Failed to ingest artifact", "file", art.FilePath, "error", err)
			continue
		}
		result.Records[i] = rec
		if rec.IsExactDuplicate() {
			result.Duplicates++
		}
		if !rec.Parsed {
			result.Unparseable++
		}
	}

	ix.logger.Info("Batch ingested",
		"artifacts", len(arts),
		"appended", result.Appended(),
		"duplicates", result.Duplicates,
		"unparseable", result.Unparseable,
		"failed", len(result.Errors))
	return result, nil
}

// Query returns records matching the filter
func (ix *Indexer) Query(ctx context.Context, filter types.RecordFilter) ([]*types.Record, error) {
	return ix.store.QueryRecords(ctx, filter)
}

func (ix *Indexer) record(outcome string) {
	if ix.recorder != nil {
		ix.recorder.RecordIngest(outcome)
	}
}

func artifactPath(art *types.Artifact) string {
	if art == nil {
		return ""
	}
	return art.FilePath
}
