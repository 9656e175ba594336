package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/forge/internal/types"
)

// AddAuditEntry appends an entry to the audit log. A (record, reason, detail)
// triple is only logged once; inserted is false when the entry already existed.
func (s *SQLiteStorage) AddAuditEntry(ctx context.Context, entry *types.AuditEntry) (bool, error) {
	if err := entry.Validate(); err != nil {
		return false, fmt.Errorf("validation failed: %w", err)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var keeper, total interface{}
	switch entry.Reason {
	case types.ReasonDuplicateOf:
		keeper = entry.KeeperID
	case types.ReasonScoreBelowThreshold:
		total = entry.Total
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO audit_log (record_id, reason, detail, keeper_id, total, pass_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.RecordID, string(entry.Reason), entry.Detail(), keeper, total, entry.PassID, formatTime(entry.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to add audit entry: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err == nil {
		entry.ID = id
	}
	return true, nil
}

// GetAuditEntries returns audit entries matching the filter in insertion order
func (s *SQLiteStorage) GetAuditEntries(ctx context.Context, filter types.AuditFilter) ([]*types.AuditEntry, error) {
	whereClauses := []string{}
	args := []interface{}{}

	if filter.RecordID > 0 {
		whereClauses = append(whereClauses, "record_id = ?")
		args = append(args, filter.RecordID)
	}
	if filter.Reason != "" {
		whereClauses = append(whereClauses, "reason = ?")
		args = append(args, string(filter.Reason))
	}
	if filter.PassID != "" {
		whereClauses = append(whereClauses, "pass_id = ?")
		args = append(args, filter.PassID)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = "WHERE " + strings.Join(whereClauses, " AND ")
	}
	limitSQL := ""
	if filter.Limit > 0 {
		limitSQL = fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, record_id, reason, keeper_id, total, pass_id, created_at
		FROM audit_log %s ORDER BY id ASC %s
	`, whereSQL, limitSQL), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*types.AuditEntry
	for rows.Next() {
		var e types.AuditEntry
		var reason, createdAt string
		var keeper sql.NullInt64
		var total sql.NullFloat64
		if err := rows.Scan(&e.ID, &e.RecordID, &reason, &keeper, &total, &e.PassID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Reason = types.AuditReason(reason)
		e.KeeperID = keeper.Int64
		e.Total = total.Float64
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at of audit entry %d: %w", e.ID, err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// StartPass records a new pass in the running state
func (s *SQLiteStorage) StartPass(ctx context.Context, pass *types.Pass) error {
	if pass.ID == "" {
		return fmt.Errorf("pass id is required")
	}
	if pass.StartedAt.IsZero() {
		pass.StartedAt = time.Now().UTC()
	}
	pass.Status = types.PassRunning

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO passes (id, status, threshold, record_count, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, pass.ID, string(pass.Status), pass.Threshold, pass.RecordCount, formatTime(pass.StartedAt))
	if err != nil {
		return fmt.Errorf("failed to start pass: %w", err)
	}
	return nil
}

// FinishPass stores the final counters and status of a pass
func (s *SQLiteStorage) FinishPass(ctx context.Context, pass *types.Pass) error {
	if pass.Status == types.PassRunning || pass.Status == "" {
		return fmt.Errorf("pass %s must finish as %s or %s", pass.ID, types.PassCompleted, types.PassFailed)
	}
	if pass.FinishedAt == nil {
		now := time.Now().UTC()
		pass.FinishedAt = &now
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE passes SET
			status = ?, record_count = ?, cluster_count = ?, kept = ?,
			dropped = ?, duplicates = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, string(pass.Status), pass.RecordCount, pass.ClusterCount, pass.Kept,
		pass.Dropped, pass.Duplicates, pass.Error, formatTime(*pass.FinishedAt), pass.ID)
	if err != nil {
		return fmt.Errorf("failed to finish pass: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("pass %s: %w", pass.ID, types.ErrNotFound)
	}
	return nil
}

const passColumns = `id, status, threshold, record_count, cluster_count, kept,
	dropped, duplicates, error, started_at, finished_at`

func scanPass(row rowScanner) (*types.Pass, error) {
	var p types.Pass
	var status, startedAt string
	var finishedAt sql.NullString
	err := row.Scan(&p.ID, &status, &p.Threshold, &p.RecordCount, &p.ClusterCount, &p.Kept,
		&p.Dropped, &p.Duplicates, &p.Error, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	p.Status = types.PassStatus(status)
	if p.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse finished_at: %w", err)
		}
		p.FinishedAt = &t
	}
	return &p, nil
}

// GetPass returns a pass by id
func (s *SQLiteStorage) GetPass(ctx context.Context, id string) (*types.Pass, error) {
	p, err := scanPass(s.db.QueryRowContext(ctx, `SELECT `+passColumns+` FROM passes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pass %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pass: %w", err)
	}
	return p, nil
}

// GetLastPass returns the most recently started pass, or nil if none ran yet
func (s *SQLiteStorage) GetLastPass(ctx context.Context) (*types.Pass, error) {
	p, err := scanPass(s.db.QueryRowContext(ctx, `
		SELECT `+passColumns+` FROM passes ORDER BY started_at DESC, rowid DESC LIMIT 1
	`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last pass: %w", err)
	}
	return p, nil
}
