// Package cluster groups records into duplicate clusters and picks a keeper
// for each.
//
// A pass recomputes the partition from scratch over a snapshot of the record
// log. Records sharing a content hash are always merged. Within a source
// family, records whose structure shingle sets have a Jaccard similarity of at
// least the threshold are merged too; merges are transitive, so a chain
// A~B, B~C puts A and C in one cluster even when J(A,C) is below threshold.
//
// Pairwise comparison is quadratic in the number of distinct content hashes
// per family, and cross-family near-duplicates are never found.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/steveyegge/forge/internal/hashing"
	"github.com/steveyegge/forge/internal/types"
)

// Engine recomputes cluster partitions. At most one recomputation runs at a
// time per Engine.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	running atomic.Bool
}

// NewEngine creates a cluster engine
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cluster config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger}, nil
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// Stats describes the work done by one recomputation
type Stats struct {
	Records     int
	Families    int
	Comparisons int // Jaccard evaluations
	Pruned      int // Pairs skipped by the size-ratio bound
	ExactMerges int
	NearMerges  int
	Duration    time.Duration
}

// Partition is the result of a recomputation: every input record in exactly
// one cluster, clusters ordered by id.
type Partition struct {
	PassID    string
	Threshold float64
	Clusters  []*types.Cluster
	Stats     Stats

	byRecord map[int64]*types.Cluster
}

// ClusterOf returns the cluster containing a record, or nil
func (p *Partition) ClusterOf(recordID int64) *types.Cluster {
	return p.byRecord[recordID]
}

// IsKeeper reports whether a record is the keeper of its cluster
func (p *Partition) IsKeeper(recordID int64) bool {
	c := p.byRecord[recordID]
	return c != nil && c.Keeper == recordID
}

// Keepers returns the keeper ids in cluster order
func (p *Partition) Keepers() []int64 {
	out := make([]int64, len(p.Clusters))
	for i, c := range p.Clusters {
		out[i] = c.Keeper
	}
	return out
}

// Duplicates returns the number of non-keeper records
func (p *Partition) Duplicates() int {
	return len(p.byRecord) - len(p.Clusters)
}

// Recompute partitions a record snapshot into clusters.
//
// It returns types.ErrPassInProgress if another recomputation on this engine
// is running, the context error if canceled between families, and a
// *types.ClusterInconsistencyError if the result is not a true partition.
func (e *Engine) Recompute(ctx context.Context, passID string, records []*types.Record) (*Partition, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, types.ErrPassInProgress
	}
	defer e.running.Store(false)

	start := time.Now()
	stats := Stats{Records: len(records)}
	threshold := e.cfg.Threshold

	// Duplicate ids in the snapshot can never form a partition
	seen := make(map[int64]bool, len(records))
	var dupIDs []int64
	for _, r := range records {
		if seen[r.ID] {
			dupIDs = append(dupIDs, r.ID)
		}
		seen[r.ID] = true
	}
	if len(dupIDs) > 0 {
		return nil, &types.ClusterInconsistencyError{PassID: passID, Duplicated: dupIDs}
	}

	uf := newUnionFind(len(records))

	// 1. Exact content hash
	firstByHash := make(map[string]int, len(records))
	for i, r := range records {
		if j, ok := firstByHash[r.ContentHash]; ok {
			if uf.union(i, j) {
				stats.ExactMerges++
			}
			continue
		}
		firstByHash[r.ContentHash] = i
	}

	// 2. One representative per distinct content hash per family. Members of
	// an exact group are already unioned, so comparing representatives is enough.
	families := make(map[string][]int)
	repSeen := make(map[string]map[string]bool)
	for i, r := range records {
		if len(r.Shingles) == 0 {
			continue
		}
		fam := e.cfg.FamilyOf(r.SourceID)
		if repSeen[fam] == nil {
			repSeen[fam] = make(map[string]bool)
		}
		if repSeen[fam][r.ContentHash] {
			continue
		}
		repSeen[fam][r.ContentHash] = true
		families[fam] = append(families[fam], i)
	}
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)
	stats.Families = len(names)

	// 3. Pairwise Jaccard within each family
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("cluster pass canceled: %w", err)
		}
		reps := families[name]
		for x := 0; x < len(reps); x++ {
			a := records[reps[x]].Shingles
			for y := x + 1; y < len(reps); y++ {
				b := records[reps[y]].Shingles
				// J(A,B) <= min/max, so small-vs-large pairs cannot reach the threshold
				lo, hi := len(a), len(b)
				if lo > hi {
					lo, hi = hi, lo
				}
				if float64(lo)/float64(hi) < threshold {
					stats.Pruned++
					continue
				}
				stats.Comparisons++
				if hashing.Jaccard(a, b) >= threshold {
					if uf.union(reps[x], reps[y]) {
						stats.NearMerges++
					}
				}
			}
		}
	}

	// 4. Materialize clusters and pick keepers
	groups := make(map[int][]int)
	for i := range records {
		root := uf.find(i)
		groups[root] = append(groups[root], i)
	}

	clusters := make([]*types.Cluster, 0, len(groups))
	for _, idxs := range groups {
		clusters = append(clusters, e.buildCluster(passID, records, idxs))
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ID < clusters[j].ID })

	if err := Verify(passID, records, clusters); err != nil {
		return nil, err
	}

	p := &Partition{
		PassID:    passID,
		Threshold: threshold,
		Clusters:  clusters,
		byRecord:  make(map[int64]*types.Cluster, len(records)),
	}
	for _, c := range clusters {
		for _, m := range c.Members {
			p.byRecord[m] = c
		}
	}
	stats.Duration = time.Since(start)
	p.Stats = stats

	e.logger.Info("Clusters recomputed",
		"pass_id", passID,
		"records", stats.Records,
		"clusters", len(clusters),
		"families", stats.Families,
		"comparisons", stats.Comparisons,
		"pruned", stats.Pruned,
		"exact_merges", stats.ExactMerges,
		"near_merges", stats.NearMerges,
		"threshold", threshold,
		"duration", stats.Duration)
	return p, nil
}

func (e *Engine) buildCluster(passID string, records []*types.Record, idxs []int) *types.Cluster {
	members := make([]int64, len(idxs))
	hashes := make(map[string]bool)
	keeper := records[idxs[0]]
	for i, idx := range idxs {
		r := records[idx]
		members[i] = r.ID
		hashes[r.ContentHash] = true
		if e.betterKeeper(r, keeper) {
			keeper = r
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

	kind := types.ClusterNear
	switch {
	case len(members) == 1:
		kind = types.ClusterSingleton
	case len(hashes) == 1:
		kind = types.ClusterExact
	}
	return &types.Cluster{
		ID:      members[0],
		Members: members,
		Keeper:  keeper.ID,
		Kind:    kind,
		PassID:  passID,
	}
}

// betterKeeper orders keeper candidates: higher reputation tier, then larger
// byte size, then the earliest ingestion id
func (e *Engine) betterKeeper(a, b *types.Record) bool {
	ta, tb := e.cfg.TierOf(a.SourceID), e.cfg.TierOf(b.SourceID)
	if ta != tb {
		return ta > tb
	}
	if a.ByteSize != b.ByteSize {
		return a.ByteSize > b.ByteSize
	}
	return a.ID < b.ID
}

// Verify checks that clusters partition the records: every record in exactly
// one cluster, every keeper a member of its cluster, and no member that is
// not in the record set.
func Verify(passID string, records []*types.Record, clusters []*types.Cluster) error {
	count := make(map[int64]int, len(records))
	for _, r := range records {
		count[r.ID] = 0
	}

	var strays []int64
	bad := make(map[int64]int64)
	for _, c := range clusters {
		if !c.HasMember(c.Keeper) {
			bad[c.ID] = c.Keeper
		}
		for _, m := range c.Members {
			if _, ok := count[m]; !ok {
				strays = append(strays, m)
				continue
			}
			count[m]++
		}
	}

	var orphans, duplicated []int64
	for _, r := range records {
		switch n := count[r.ID]; {
		case n == 0:
			orphans = append(orphans, r.ID)
		case n > 1:
			duplicated = append(duplicated, r.ID)
		}
	}
	duplicated = append(duplicated, strays...)

	if len(orphans) == 0 && len(duplicated) == 0 && len(bad) == 0 {
		return nil
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i] < orphans[j] })
	sort.Slice(duplicated, func(i, j int) bool { return duplicated[i] < duplicated[j] })
	err := &types.ClusterInconsistencyError{PassID: passID, Orphans: orphans, Duplicated: duplicated}
	if len(bad) > 0 {
		err.BadKeepers = bad
	}
	return err
}
