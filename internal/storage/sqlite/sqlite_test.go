package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/steveyegge/forge/internal/hashing"
	"github.com/steveyegge/forge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "forge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newRecord(source, content string) *types.Record {
	return &types.Record{
		SourceID:    source,
		Type:        types.TypeHTML,
		ByteSize:    int64(len(content)),
		ContentHash: hashing.ContentHash([]byte(content)),
		Shingles:    []uint64{1, 2, 3},
		Parsed:      true,
		QuickFeatures: types.QuickFeatures{
			TableCount: 3,
			Categories: []string{"Promo"},
		},
	}
}

func TestAppendRecordMintsIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	a := newRecord("src", "<p>a</p>")
	b := newRecord("src", "<p>b</p>")
	require.NoError(t, s.AppendRecord(ctx, a, []byte("<p>a</p>")))
	require.NoError(t, s.AppendRecord(ctx, b, []byte("<p>b</p>")))

	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, int64(2), b.ID)

	got, err := s.GetRecord(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ContentHash, got.ContentHash)
	assert.Equal(t, []uint64{1, 2, 3}, got.Shingles)
	assert.Equal(t, 3, got.QuickFeatures.TableCount)
	assert.Equal(t, "Promo", got.QuickFeatures.PrimaryCategory())
	assert.False(t, got.IngestedAt.IsZero())

	content, err := s.GetContent(ctx, a.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, "<p>a</p>", string(content))
}

func TestReopenContinuesIDs(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "forge.db")

	s, err := New(ctx, path)
	require.NoError(t, err)
	a := newRecord("src", "<p>a</p>")
	require.NoError(t, s.AppendRecord(ctx, a, []byte("<p>a</p>")))
	require.NoError(t, s.Close())

	// Opening again syncs the counter against the existing log
	s, err = New(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	b := newRecord("src", "<p>b</p>")
	require.NoError(t, s.AppendRecord(ctx, b, []byte("<p>b</p>")))
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, int64(2), b.ID)
}

func TestAppendRecordExactDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	first := newRecord("a", "<p>same</p>")
	second := newRecord("b", "<p>same</p>")
	require.NoError(t, s.AppendRecord(ctx, first, []byte("<p>same</p>")))
	require.NoError(t, s.AppendRecord(ctx, second, []byte("<p>same</p>")))

	assert.NotEqual(t, first.ID, second.ID, "duplicates still get their own record")
	assert.Zero(t, first.DuplicateOf)
	assert.Equal(t, first.ID, second.DuplicateOf)
	assert.True(t, second.IsExactDuplicate())

	n, err := s.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAppendRecordRequestedIDCollision(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	first := newRecord("src", "<p>1</p>")
	first.ID = 10
	require.NoError(t, s.AppendRecord(ctx, first, nil))
	assert.Equal(t, int64(10), first.ID)

	clash := newRecord("src", "<p>2</p>")
	clash.ID = 10
	require.NoError(t, s.AppendRecord(ctx, clash, nil))
	assert.Equal(t, int64(11), clash.ID, "collision gets a fresh id past the requested one")

	orig, err := s.GetRecord(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, first.ContentHash, orig.ContentHash, "an existing record is never overwritten")

	next := newRecord("src", "<p>3</p>")
	require.NoError(t, s.AppendRecord(ctx, next, nil))
	assert.Equal(t, int64(12), next.ID)
}

func TestAppendRecordConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	const n = 20
	ids := make([]int64, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			content := fmt.Sprintf("<p>%d</p>", i)
			rec := newRecord("src", content)
			errs[i] = s.AppendRecord(ctx, rec, []byte(content))
			ids[i] = rec.ID
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[ids[i]], "id %d minted twice", ids[i])
		seen[ids[i]] = true
	}
	assert.Len(t, seen, n)
}

func TestRecordsAreAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	rec := newRecord("src", "<p>x</p>")
	require.NoError(t, s.AppendRecord(ctx, rec, nil))

	_, err := s.db.ExecContext(ctx, `UPDATE records SET source_id = 'other' WHERE id = ?`, rec.ID)
	assert.Error(t, err)
	_, err = s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, rec.ID)
	assert.Error(t, err)
}

func TestAppendRecordValidation(t *testing.T) {
	s := newTestStorage(t)
	rec := newRecord("", "<p>x</p>")
	assert.Error(t, s.AppendRecord(context.Background(), rec, nil))
}

func TestQueryRecords(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	for i, src := range []string{"a", "b", "a", "c"} {
		content := fmt.Sprintf("<p>%d</p>", i)
		require.NoError(t, s.AppendRecord(ctx, newRecord(src, content), nil))
	}

	all, err := s.QueryRecords(ctx, types.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	fromA, err := s.QueryRecords(ctx, types.RecordFilter{SourceID: "a"})
	require.NoError(t, err)
	require.Len(t, fromA, 2)
	assert.Equal(t, int64(1), fromA[0].ID)
	assert.Equal(t, int64(3), fromA[1].ID)

	ranged, err := s.QueryRecords(ctx, types.RecordFilter{MinID: 2, MaxID: 3})
	require.NoError(t, err)
	assert.Len(t, ranged, 2)

	limited, err := s.QueryRecords(ctx, types.RecordFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestGetRecordNotFound(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.GetRecord(context.Background(), 42)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = s.GetContent(context.Background(), hashing.ContentHash([]byte("nope")))
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func seedClusters(t *testing.T, s *SQLiteStorage) []*types.Cluster {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		content := fmt.Sprintf("<p>%d</p>", i)
		require.NoError(t, s.AppendRecord(ctx, newRecord("src", content), []byte(content)))
	}
	clusters := []*types.Cluster{
		{ID: 1, Members: []int64{1, 2}, Keeper: 2, Kind: types.ClusterNear},
		{ID: 3, Members: []int64{3}, Keeper: 3, Kind: types.ClusterSingleton},
	}
	require.NoError(t, s.ReplaceClusters(ctx, "pass-1", clusters))
	return clusters
}

func TestReplaceClusters(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	seedClusters(t, s)

	got, err := s.GetClusters(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []int64{1, 2}, got[0].Members)
	assert.Equal(t, int64(2), got[0].Keeper)
	assert.Equal(t, "pass-1", got[0].PassID)

	of, err := s.GetClusterOf(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), of.ID)

	// A second pass replaces the view wholesale
	require.NoError(t, s.ReplaceClusters(ctx, "pass-2", []*types.Cluster{
		{ID: 1, Members: []int64{1, 2, 3}, Keeper: 1, Kind: types.ClusterNear},
	}))
	got, err = s.GetClusters(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []int64{1, 2, 3}, got[0].Members)
}

func TestReplaceClustersRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	seedClusters(t, s)

	err := s.ReplaceClusters(ctx, "pass-2", []*types.Cluster{
		{ID: 1, Members: []int64{1, 2}, Keeper: 1, Kind: types.ClusterNear},
		{ID: 2, Members: []int64{2, 3}, Keeper: 2, Kind: types.ClusterNear},
	})
	assert.Error(t, err)

	// Failed swap leaves the previous partition in place
	got, err := s.GetClusters(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestScoresAndCatalog(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	seedClusters(t, s)

	rec2, err := s.GetRecord(ctx, 2)
	require.NoError(t, err)
	rec3, err := s.GetRecord(ctx, 3)
	require.NoError(t, err)

	kept := &types.Score{RecordID: 2, ContentHash: rec2.ContentHash, Total: 91.5, Band: types.BandKeep, Attempts: 1, RubricVersion: "v1"}
	dropped := &types.Score{RecordID: 3, ContentHash: rec3.ContentHash, Total: 60, Band: types.BandDrop, Attempts: 2, Remediated: true,
		Errors: []string{"subscore contrast not evaluable: no colors"}, RubricVersion: "v1"}
	require.NoError(t, s.SaveScore(ctx, "pass-1", kept))
	require.NoError(t, s.SaveScore(ctx, "pass-1", dropped))

	got, err := s.GetScore(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, dropped, got)

	catalog, err := s.GetCatalog(ctx, types.CatalogFilter{})
	require.NoError(t, err)
	require.Len(t, catalog, 1)
	assert.Equal(t, int64(2), catalog[0].ID)
	assert.True(t, catalog[0].IsKeeper)
	assert.Equal(t, types.BandKeep, catalog[0].Band)
	assert.Equal(t, hashing.StructureDigest([]uint64{1, 2, 3}), catalog[0].ShingleDigest)

	all, err := s.GetCatalog(ctx, types.CatalogFilter{IncludeAll: true})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.False(t, all[0].IsKeeper)
	assert.Nil(t, all[0].Score)
	assert.Equal(t, int64(1), all[0].ClusterID)
	assert.Equal(t, types.BandDrop, all[2].Band)

	none, err := s.GetCatalog(ctx, types.CatalogFilter{IncludeAll: true, Category: "Welcome"})
	require.NoError(t, err)
	assert.Empty(t, none)

	// Rescoring replaces the previous score
	kept.Total = 88
	require.NoError(t, s.SaveScore(ctx, "pass-2", kept))
	got, err = s.GetScore(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 88.0, got.Total)
}

func TestAuditLogDeduplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	seedClusters(t, s)

	entry := &types.AuditEntry{RecordID: 1, Reason: types.ReasonDuplicateOf, KeeperID: 2, PassID: "pass-1"}
	inserted, err := s.AddAuditEntry(ctx, entry)
	require.NoError(t, err)
	assert.True(t, inserted)

	again := &types.AuditEntry{RecordID: 1, Reason: types.ReasonDuplicateOf, KeeperID: 2, PassID: "pass-2"}
	inserted, err = s.AddAuditEntry(ctx, again)
	require.NoError(t, err)
	assert.False(t, inserted, "same record, reason and detail is logged once")

	low := &types.AuditEntry{RecordID: 3, Reason: types.ReasonScoreBelowThreshold, Total: 60, PassID: "pass-1"}
	inserted, err = s.AddAuditEntry(ctx, low)
	require.NoError(t, err)
	assert.True(t, inserted)

	entries, err := s.GetAuditEntries(ctx, types.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "duplicate-of 2", entries[0].String())
	assert.Equal(t, "score-below-threshold 60.00", entries[1].String())

	byRecord, err := s.GetAuditEntries(ctx, types.AuditFilter{RecordID: 3})
	require.NoError(t, err)
	assert.Len(t, byRecord, 1)

	_, err = s.AddAuditEntry(ctx, &types.AuditEntry{RecordID: 1, Reason: types.ReasonDuplicateOf, KeeperID: 1})
	assert.Error(t, err, "a record cannot be a duplicate of itself")
}

func TestPassLog(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	last, err := s.GetLastPass(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	pass := &types.Pass{ID: "p1", Threshold: 0.85, RecordCount: 3}
	require.NoError(t, s.StartPass(ctx, pass))
	assert.Equal(t, types.PassRunning, pass.Status)

	assert.Error(t, s.FinishPass(ctx, pass), "running is not a terminal status")

	pass.Status = types.PassCompleted
	pass.ClusterCount = 2
	pass.Kept = 1
	pass.Dropped = 1
	pass.Duplicates = 1
	require.NoError(t, s.FinishPass(ctx, pass))

	got, err := s.GetPass(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.PassCompleted, got.Status)
	assert.Equal(t, 2, got.ClusterCount)
	require.NotNil(t, got.FinishedAt)

	last, err = s.GetLastPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p1", last.ID)

	_, err = s.GetPass(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
