// Package catalog runs curation passes over the record log and exports the
// resulting catalog.
//
// A pass snapshots the log, repartitions it into clusters, audits every
// non-keeper, scores keepers through the quality gate and closes with a
// balance report. Records appended while a pass runs are picked up by the
// next one. Only a storage failure, cancellation or a
// *types.ClusterInconsistencyError fails a pass; a keeper that cannot be
// scored is logged and left out.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/forge/internal/balance"
	"github.com/steveyegge/forge/internal/cluster"
	"github.com/steveyegge/forge/internal/scoring"
	"github.com/steveyegge/forge/internal/storage"
	"github.com/steveyegge/forge/internal/types"
)

// Recorder receives pass outcomes. metrics.Metrics implements it.
type Recorder interface {
	RecordDecision(band types.Band, remediated bool)
	ObservePass(status types.PassStatus, d time.Duration, records, clusters, kept int)
}

// Config configures a Curator
type Config struct {
	Store   storage.Storage
	Engine  *cluster.Engine
	Gate    *scoring.Gate
	Tracker *balance.Tracker

	// Workers bounds parallel scoring
	// Default: runtime.NumCPU()
	Workers int

	// LockPath, when set, is held for the duration of a pass so that passes
	// in other processes sharing the store are refused (see storage.PassLockPath)
	LockPath string

	Recorder Recorder     // Optional
	Logger   *slog.Logger // Optional; defaults to slog.Default()
}

// Curator runs curation passes
type Curator struct {
	store    storage.Storage
	engine   *cluster.Engine
	gate     *scoring.Gate
	tracker  *balance.Tracker
	workers  int
	lockPath string
	recorder Recorder
	logger   *slog.Logger
}

// NewCurator creates a curator
func NewCurator(cfg Config) (*Curator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("cluster engine is required")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("quality gate is required")
	}
	if cfg.Tracker == nil {
		t, err := balance.NewTracker(balance.DefaultConfig())
		if err != nil {
			return nil, err
		}
		cfg.Tracker = t
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
	return &Curator{
		store:    cfg.Store,
		engine:   cfg.Engine,
		gate:     cfg.Gate,
		tracker:  cfg.Tracker,
		workers:  cfg.Workers,
		lockPath: cfg.LockPath,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
	}, nil
}

// ScoreError is a keeper that could not be scored during a pass
type ScoreError struct {
	RecordID int64
	Err      error
}

func (e *ScoreError) Error() string {
	return fmt.Sprintf("record %d: %v", e.RecordID, e.Err)
}

func (e *ScoreError) Unwrap() error {
	return e.Err
}

// Result summarizes a completed pass
type Result struct {
	Pass      *types.Pass
	Partition *cluster.Partition
	Balance   *types.BalanceReport

	// Reused counts keepers whose stored score still matched their content
	// and the current rubric
	Reused int

	Errors []*ScoreError
}

// keeperOutcome is the scoring result of one keeper
type keeperOutcome struct {
	score  *types.Score
	reused bool
	err    error
}

// Run executes one curation pass
func (c *Curator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	pass := &types.Pass{
		ID:        uuid.NewString(),
		Status:    types.PassRunning,
		Threshold: c.engine.Config().Threshold,
		StartedAt: start,
	}
	if c.lockPath != "" {
		if err := storage.AcquirePassLock(c.lockPath, pass.ID); err != nil {
			return nil, err
		}
		defer func() {
			if err := storage.ReleasePassLock(c.lockPath); err != nil {
				c.logger.Warn("Failed to release pass lock", "path", c.lockPath, "error", err)
			}
		}()
	}
	if err := c.store.StartPass(ctx, pass); err != nil {
		return nil, err
	}
	logger := c.logger.With("pass_id", pass.ID)
	logger.Info("Curation pass started", "threshold", pass.Threshold)

	records, err := c.store.QueryRecords(ctx, types.RecordFilter{})
	if err != nil {
		return nil, c.fail(ctx, pass, start, fmt.Errorf("failed to snapshot records: %w", err))
	}
	pass.RecordCount = len(records)
	byID := make(map[int64]*types.Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	partition, err := c.engine.Recompute(ctx, pass.ID, records)
	if err != nil {
		return nil, c.fail(ctx, pass, start, err)
	}
	if err := c.store.ReplaceClusters(ctx, pass.ID, partition.Clusters); err != nil {
		return nil, c.fail(ctx, pass, start, fmt.Errorf("failed to persist clusters: %w", err))
	}
	pass.ClusterCount = len(partition.Clusters)
	pass.Duplicates = partition.Duplicates()

	if err := c.auditDuplicates(ctx, pass.ID, partition); err != nil {
		return nil, c.fail(ctx, pass, start, err)
	}

	keepers := partition.Keepers()
	outcomes, err := c.scoreKeepers(ctx, keepers, byID)
	if err != nil {
		return nil, c.fail(ctx, pass, start, err)
	}

	result := &Result{Pass: pass, Partition: partition}
	for i, id := range keepers {
		out := outcomes[i]
		if out.err != nil {
			logger.Warn("Failed to score keeper", "record_id", id, "error", out.err)
			result.Errors = append(result.Errors, &ScoreError{RecordID: id, Err: out.err})
			continue
		}
		if err := c.store.SaveScore(ctx, pass.ID, out.score); err != nil {
			return nil, c.fail(ctx, pass, start, fmt.Errorf("failed to save score for record %d: %w", id, err))
		}
		if out.reused {
			result.Reused++
		} else if c.recorder != nil {
			c.recorder.RecordDecision(out.score.Band, out.score.Remediated)
		}

		if out.score.Band == types.BandKeep {
			pass.Kept++
			continue
		}
		pass.Dropped++
		if _, err := c.store.AddAuditEntry(ctx, &types.AuditEntry{
			RecordID: id,
			Reason:   types.ReasonScoreBelowThreshold,
			Total:    out.score.Total,
			PassID:   pass.ID,
		}); err != nil {
			return nil, c.fail(ctx, pass, start, fmt.Errorf("failed to audit record %d: %w", id, err))
		}
	}

	entries, err := c.store.GetCatalog(ctx, types.CatalogFilter{})
	if err != nil {
		return nil, c.fail(ctx, pass, start, fmt.Errorf("failed to read catalog: %w", err))
	}
	result.Balance = c.tracker.Report(entries)

	pass.Status = types.PassCompleted
	if err := c.store.FinishPass(ctx, pass); err != nil {
		return nil, err
	}
	c.observe(pass, start)

	logger.Info("Curation pass completed",
		"records", pass.RecordCount,
		"clusters", pass.ClusterCount,
		"duplicates", pass.Duplicates,
		"kept", pass.Kept,
		"dropped", pass.Dropped,
		"reused_scores", result.Reused,
		"score_errors", len(result.Errors),
		"underrepresented", len(result.Balance.Underrepresented),
		"duration", time.Since(start))
	return result, nil
}

// auditDuplicates records every non-keeper against its cluster's keeper.
// Entries already in the audit log are not repeated.
func (c *Curator) auditDuplicates(ctx context.Context, passID string, p *cluster.Partition) error {
	for _, cl := range p.Clusters {
		for _, m := range cl.Members {
			if m == cl.Keeper {
				continue
			}
			_, err := c.store.AddAuditEntry(ctx, &types.AuditEntry{
				RecordID: m,
				Reason:   types.ReasonDuplicateOf,
				KeeperID: cl.Keeper,
				PassID:   passID,
			})
			if err != nil {
				return fmt.Errorf("failed to audit record %d: %w", m, err)
			}
		}
	}
	return nil
}

// scoreKeepers evaluates keepers in parallel. Outcomes are indexed like
// keepers; only cancellation aborts the batch.
func (c *Curator) scoreKeepers(ctx context.Context, keepers []int64, byID map[int64]*types.Record) ([]keeperOutcome, error) {
	outcomes := make([]keeperOutcome, len(keepers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, id := range keepers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = c.scoreKeeper(gctx, byID[id])
			if errors.Is(outcomes[i].err, context.Canceled) || errors.Is(outcomes[i].err, context.DeadlineExceeded) {
				return outcomes[i].err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (c *Curator) scoreKeeper(ctx context.Context, rec *types.Record) keeperOutcome {
	stored, err := c.store.GetScore(ctx, rec.ID)
	switch {
	case err == nil && stored.ContentHash == rec.ContentHash && stored.RubricVersion == c.gate.Version():
		return keeperOutcome{score: stored, reused: true}
	case err != nil && !errors.Is(err, types.ErrNotFound):
		return keeperOutcome{err: fmt.Errorf("failed to load stored score: %w", err)}
	}

	content, err := c.store.GetContent(ctx, rec.ContentHash)
	if err != nil {
		return keeperOutcome{err: fmt.Errorf("failed to load content: %w", err)}
	}
	d, err := c.gate.Evaluate(ctx, rec.ID, rec.Type, content)
	if err != nil {
		return keeperOutcome{err: err}
	}
	c.logger.Debug("Gate decision",
		"record_id", rec.ID,
		"total", d.Score.Total,
		"band", d.Score.Band,
		"path", d.Path,
		"fixes", d.Fixes)
	return keeperOutcome{score: d.Score}
}

// fail closes the pass as failed and returns err
func (c *Curator) fail(ctx context.Context, pass *types.Pass, start time.Time, err error) error {
	pass.Status = types.PassFailed
	pass.Error = err.Error()

	var inconsistent *types.ClusterInconsistencyError
	if errors.As(err, &inconsistent) {
		c.logger.Error("Cluster partition is inconsistent",
			"pass_id", pass.ID,
			"orphans", inconsistent.Orphans,
			"duplicated", inconsistent.Duplicated)
	} else {
		c.logger.Error("Curation pass failed", "pass_id", pass.ID, "error", err)
	}

	// The pass row is closed even when the pass was canceled
	if ferr := c.store.FinishPass(context.WithoutCancel(ctx), pass); ferr != nil {
		c.logger.Error("Failed to close pass", "pass_id", pass.ID, "error", ferr)
	}
	c.observe(pass, start)
	return err
}

func (c *Curator) observe(pass *types.Pass, start time.Time) {
	if c.recorder == nil {
		return
	}
	c.recorder.ObservePass(pass.Status, time.Since(start), pass.RecordCount, pass.ClusterCount, pass.Kept)
}
