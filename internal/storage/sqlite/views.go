package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/steveyegge/forge/internal/hashing"
	"github.com/steveyegge/forge/internal/types"
)

// ReplaceClusters swaps the cluster view for the output of a pass.
// The swap is a single transaction: readers see either the previous
// partition or the new one, never a mix.
func (s *SQLiteStorage) ReplaceClusters(ctx context.Context, passID string, clusters []*types.Cluster) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cluster_members`); err != nil {
		return fmt.Errorf("failed to clear cluster members: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM clusters`); err != nil {
		return fmt.Errorf("failed to clear clusters: %w", err)
	}

	clusterStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO clusters (cluster_id, keeper_id, kind, size, pass_id)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare cluster insert: %w", err)
	}
	defer clusterStmt.Close()

	memberStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cluster_members (record_id, cluster_id) VALUES (?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare member insert: %w", err)
	}
	defer memberStmt.Close()

	for _, c := range clusters {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid cluster %d: %w", c.ID, err)
		}
		if _, err := clusterStmt.ExecContext(ctx, c.ID, c.Keeper, string(c.Kind), len(c.Members), passID); err != nil {
			return fmt.Errorf("failed to insert cluster %d: %w", c.ID, err)
		}
		for _, m := range c.Members {
			if _, err := memberStmt.ExecContext(ctx, m, c.ID); err != nil {
				// record_id is the primary key, so a record in two clusters fails here
				return fmt.Errorf("failed to insert member %d of cluster %d: %w", m, c.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetClusters returns the current cluster view ordered by cluster id
func (s *SQLiteStorage) GetClusters(ctx context.Context) ([]*types.Cluster, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.cluster_id, c.keeper_id, c.kind, c.pass_id, m.record_id
		FROM clusters c
		JOIN cluster_members m ON m.cluster_id = c.cluster_id
		ORDER BY c.cluster_id, m.record_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query clusters: %w", err)
	}
	defer rows.Close()

	var clusters []*types.Cluster
	var cur *types.Cluster
	for rows.Next() {
		var id, keeper, member int64
		var kind, passID string
		if err := rows.Scan(&id, &keeper, &kind, &passID, &member); err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		if cur == nil || cur.ID != id {
			cur = &types.Cluster{ID: id, Keeper: keeper, Kind: types.ClusterKind(kind), PassID: passID}
			clusters = append(clusters, cur)
		}
		cur.Members = append(cur.Members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate clusters: %w", err)
	}
	return clusters, nil
}

// GetClusterOf returns the cluster that contains a record
func (s *SQLiteStorage) GetClusterOf(ctx context.Context, recordID int64) (*types.Cluster, error) {
	var clusterID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT cluster_id FROM cluster_members WHERE record_id = ?
	`, recordID).Scan(&clusterID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cluster of record %d: %w", recordID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cluster of record: %w", err)
	}

	c := &types.Cluster{ID: clusterID}
	var kind string
	err = s.db.QueryRowContext(ctx, `
		SELECT keeper_id, kind, pass_id FROM clusters WHERE cluster_id = ?
	`, clusterID).Scan(&c.Keeper, &kind, &c.PassID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cluster %d: %w", clusterID, err)
	}
	c.Kind = types.ClusterKind(kind)

	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id FROM cluster_members WHERE cluster_id = ? ORDER BY record_id
	`, clusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cluster members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m int64
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("failed to scan cluster member: %w", err)
		}
		c.Members = append(c.Members, m)
	}
	return c, rows.Err()
}

// SaveScore stores the latest score for a keeper, replacing any previous one
func (s *SQLiteStorage) SaveScore(ctx context.Context, passID string, score *types.Score) error {
	if err := score.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	subscores, err := encodeJSON(score.Subscores)
	if err != nil {
		return fmt.Errorf("failed to encode subscores: %w", err)
	}
	errs := score.Errors
	if errs == nil {
		errs = []string{}
	}
	errorsJSON, err := encodeJSON(errs)
	if err != nil {
		return fmt.Errorf("failed to encode score errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scores (
			record_id, content_hash, subscores, total, band, attempts,
			remediated, errors, rubric_version, pass_id, scored_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (record_id) DO UPDATE SET
			content_hash = excluded.content_hash,
			subscores = excluded.subscores,
			total = excluded.total,
			band = excluded.band,
			attempts = excluded.attempts,
			remediated = excluded.remediated,
			errors = excluded.errors,
			rubric_version = excluded.rubric_version,
			pass_id = excluded.pass_id,
			scored_at = excluded.scored_at
	`,
		score.RecordID, score.ContentHash, subscores, score.Total, string(score.Band), score.Attempts,
		score.Remediated, errorsJSON, score.RubricVersion, passID, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save score: %w", err)
	}
	return nil
}

// GetScore returns the latest score of a record
func (s *SQLiteStorage) GetScore(ctx context.Context, recordID int64) (*types.Score, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT record_id, content_hash, subscores, total, band, attempts,
			remediated, errors, rubric_version
		FROM scores WHERE record_id = ?
	`, recordID)

	var score types.Score
	var subscores, band, errorsJSON string
	err := row.Scan(
		&score.RecordID, &score.ContentHash, &subscores, &score.Total, &band, &score.Attempts,
		&score.Remediated, &errorsJSON, &score.RubricVersion,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("score of record %d: %w", recordID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get score: %w", err)
	}
	score.Band = types.Band(band)
	if err := decodeJSON(subscores, &score.Subscores); err != nil {
		return nil, fmt.Errorf("failed to decode subscores: %w", err)
	}
	if err := decodeJSON(errorsJSON, &score.Errors); err != nil {
		return nil, fmt.Errorf("failed to decode score errors: %w", err)
	}
	if len(score.Errors) == 0 {
		score.Errors = nil
	}
	return &score, nil
}

// GetCatalog returns the catalog view: every clustered record annotated with
// its cluster, keeper flag and (for keepers) score. By default only kept
// keepers are returned.
func (s *SQLiteStorage) GetCatalog(ctx context.Context, filter types.CatalogFilter) ([]*types.CatalogEntry, error) {
	query := `
		SELECT r.id, c.cluster_id, c.keeper_id, s.record_id IS NOT NULL
		FROM records r
		JOIN cluster_members m ON m.record_id = r.id
		JOIN clusters c ON c.cluster_id = m.cluster_id
		LEFT JOIN scores s ON s.record_id = r.id AND c.keeper_id = r.id
	`
	args := []interface{}{}
	where := []string{}
	if !filter.IncludeAll {
		where = append(where, "c.keeper_id = r.id", "s.band = 'keep'")
	}
	if filter.SourceID != "" {
		where = append(where, "r.source_id = ?")
		args = append(args, filter.SourceID)
	}
	for i, w := range where {
		if i == 0 {
			query += " WHERE " + w
		} else {
			query += " AND " + w
		}
	}
	query += " ORDER BY r.id"

	type row struct {
		id, clusterID, keeper int64
		scored                bool
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	var hits []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.clusterID, &r.keeper, &r.scored); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		hits = append(hits, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate catalog: %w", err)
	}

	entries := make([]*types.CatalogEntry, 0, len(hits))
	for _, h := range hits {
		rec, err := s.GetRecord(ctx, h.id)
		if err != nil {
			return nil, err
		}
		if filter.Category != "" && rec.QuickFeatures.PrimaryCategory() != filter.Category {
			continue
		}
		entry := &types.CatalogEntry{
			ID:            rec.ID,
			SourceID:      rec.SourceID,
			URL:           rec.URL,
			License:       rec.License,
			Type:          rec.Type,
			ContentHash:   rec.ContentHash,
			ShingleDigest: hashing.StructureDigest(rec.Shingles),
			QuickFeatures: rec.QuickFeatures,
			ClusterID:     h.clusterID,
			IsKeeper:      h.keeper == rec.ID,
		}
		if h.scored {
			score, err := s.GetScore(ctx, rec.ID)
			if err != nil {
				return nil, err
			}
			entry.Score = score
			entry.Band = score.Band
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func encodeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(s string, v interface{}) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
