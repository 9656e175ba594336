package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/steveyegge/forge/internal/types"
)

// recordCounter is the counter row that mints record ids
const recordCounter = "records"

// maxKeyAttempts bounds the fresh-id retries after a key collision
const maxKeyAttempts = 3

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// New creates a new SQLite storage backend
func New(ctx context.Context, path string) (*SQLiteStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL for concurrent readers during a pass; busy timeout so concurrent
	// writers wait on the IMMEDIATE lock instead of failing
	dsn := "file:" + path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(on)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize schema
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := syncRecordCounter(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to sync record counter: %w", err)
	}

	s := &SQLiteStorage{db: db, path: path}
	if v, err := s.GetConfig(ctx, "schema_version"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	} else if v == "" {
		if err := s.SetConfig(ctx, "schema_version", schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to write schema_version: %w", err)
		}
	}

	return s, nil
}

// syncRecordCounter makes sure the counter row exists and is never behind
// the highest id in the log (e.g. a log restored from an export)
func syncRecordCounter(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO record_counters (name, last_id)
		SELECT ?, COALESCE(MAX(id), 0) FROM records WHERE true
		ON CONFLICT(name) DO UPDATE SET
			last_id = MAX(last_id, excluded.last_id)
	`, recordCounter)
	return err
}

// Path returns the database file path
func (s *SQLiteStorage) Path() string {
	return s.path
}

// AppendRecord inserts a record into the log and assigns its id.
//
// Id minting is the only serialized step of ingestion: it runs inside an
// IMMEDIATE transaction, which takes the write lock up front. A requested id
// (rec.ID != 0) that collides with an existing record is never overwritten;
// the insert is retried with a freshly minted id. Exact duplicates are
// inserted like any other record and tagged through DuplicateOf.
func (s *SQLiteStorage) AppendRecord(ctx context.Context, rec *types.Record, content []byte) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if rec.IngestedAt.IsZero() {
		rec.IngestedAt = time.Now().UTC()
	}

	featuresJSON, err := encodeJSON(rec.QuickFeatures)
	if err != nil {
		return fmt.Errorf("failed to encode quick features: %w", err)
	}

	// Acquire a dedicated connection so BEGIN IMMEDIATE and COMMIT run on
	// the same connection (database/sql would otherwise pick any pooled one)
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("failed to begin immediate transaction: %w", err)
	}

	// Use context.Background() for ROLLBACK so cleanup happens even if ctx is canceled
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	var dupOf sql.NullInt64
	err = conn.QueryRowContext(ctx, `
		SELECT MIN(id) FROM records WHERE content_hash = ?
	`, rec.ContentHash).Scan(&dupOf)
	if err != nil {
		return fmt.Errorf("failed to look up content hash: %w", err)
	}
	rec.DuplicateOf = 0
	if dupOf.Valid {
		rec.DuplicateOf = dupOf.Int64
	}

	requested := rec.ID
	for attempt := 1; ; attempt++ {
		id := requested
		if id == 0 {
			id, err = mintRecordID(ctx, conn)
			if err != nil {
				return err
			}
		}

		err = insertRecord(ctx, conn, id, rec, featuresJSON)
		if err == nil {
			rec.ID = id
			break
		}
		if !isConstraintError(err) {
			return fmt.Errorf("failed to insert record: %w", err)
		}
		if attempt >= maxKeyAttempts {
			return fmt.Errorf("%w: id %d after %d attempts", types.ErrDuplicateKey, id, attempt)
		}
		// Collision: never overwrite, mint a fresh id next time around
		requested = 0
	}

	// Keep the counter ahead of explicitly requested ids
	if _, err := conn.ExecContext(ctx, `
		UPDATE record_counters SET last_id = MAX(last_id, ?) WHERE name = ?
	`, rec.ID, recordCounter); err != nil {
		return fmt.Errorf("failed to advance record counter: %w", err)
	}

	if content != nil {
		if _, err := conn.ExecContext(ctx, `
			INSERT OR IGNORE INTO blobs (content_hash, content) VALUES (?, ?)
		`, rec.ContentHash, content); err != nil {
			return fmt.Errorf("failed to store content: %w", err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return nil
}

// mintRecordID atomically increments the record counter and returns the new id.
// The counter is bumped past MAX(id) as well, so it can never hand out an id
// that is already taken.
func mintRecordID(ctx context.Context, conn *sql.Conn) (int64, error) {
	var next int64
	err := conn.QueryRowContext(ctx, `
		INSERT INTO record_counters (name, last_id)
		SELECT ?, COALESCE(MAX(id), 0) + 1 FROM records WHERE true
		ON CONFLICT(name) DO UPDATE SET
			last_id = MAX(last_id, (SELECT COALESCE(MAX(id), 0) FROM records)) + 1
		RETURNING last_id
	`, recordCounter).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to mint record id: %w", err)
	}
	return next, nil
}

func insertRecord(ctx context.Context, conn *sql.Conn, id int64, rec *types.Record, featuresJSON string) error {
	var dupOf interface{}
	if rec.DuplicateOf != 0 {
		dupOf = rec.DuplicateOf
	}
	_, err := conn.ExecContext(ctx, `
		INSERT INTO records (
			id, source_id, source_name, url, license, type, file_path,
			byte_size, content_hash, shingles, parsed, quick_features,
			duplicate_of, ingested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id, rec.SourceID, rec.SourceName, rec.URL, rec.License, string(rec.Type), rec.FilePath,
		rec.ByteSize, rec.ContentHash, encodeShingles(rec.Shingles), rec.Parsed, featuresJSON,
		dupOf, formatTime(rec.IngestedAt),
	)
	return err
}

// isConstraintError reports whether err is a key collision on insert
func isConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const recordColumns = `
	id, source_id, source_name, url, license, type, file_path,
	byte_size, content_hash, shingles, parsed, quick_features,
	duplicate_of, ingested_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*types.Record, error) {
	var rec types.Record
	var typ, featuresJSON, ingestedAt string
	var shingles []byte
	var dupOf sql.NullInt64

	err := row.Scan(
		&rec.ID, &rec.SourceID, &rec.SourceName, &rec.URL, &rec.License, &typ, &rec.FilePath,
		&rec.ByteSize, &rec.ContentHash, &shingles, &rec.Parsed, &featuresJSON,
		&dupOf, &ingestedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Type = types.ArtifactType(typ)
	rec.Shingles = decodeShingles(shingles)
	if dupOf.Valid {
		rec.DuplicateOf = dupOf.Int64
	}
	if err := decodeJSON(featuresJSON, &rec.QuickFeatures); err != nil {
		return nil, fmt.Errorf("failed to decode quick features of record %d: %w", rec.ID, err)
	}
	if rec.IngestedAt, err = parseTime(ingestedAt); err != nil {
		return nil, fmt.Errorf("failed to parse ingested_at of record %d: %w", rec.ID, err)
	}
	return &rec, nil
}

// GetRecord retrieves a record by id
func (s *SQLiteStorage) GetRecord(ctx context.Context, id int64) (*types.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// QueryRecords returns records matching the filter, ordered by id
func (s *SQLiteStorage) QueryRecords(ctx context.Context, filter types.RecordFilter) ([]*types.Record, error) {
	whereClauses := []string{}
	args := []interface{}{}

	if filter.SourceID != "" {
		whereClauses = append(whereClauses, "source_id = ?")
		args = append(args, filter.SourceID)
	}
	if filter.Type != "" {
		whereClauses = append(whereClauses, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.ContentHash != "" {
		whereClauses = append(whereClauses, "content_hash = ?")
		args = append(args, filter.ContentHash)
	}
	if filter.MinID > 0 {
		whereClauses = append(whereClauses, "id >= ?")
		args = append(args, filter.MinID)
	}
	if filter.MaxID > 0 {
		whereClauses = append(whereClauses, "id <= ?")
		args = append(args, filter.MaxID)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = "WHERE " + strings.Join(whereClauses, " AND ")
	}

	limitSQL := ""
	if filter.Limit > 0 {
		limitSQL = fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	querySQL := fmt.Sprintf(`SELECT %s FROM records %s ORDER BY id ASC %s`, recordColumns, whereSQL, limitSQL)

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*types.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

// CountRecords returns the number of records in the log
func (s *SQLiteStorage) CountRecords(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// GetContent returns the raw bytes stored for a content hash
func (s *SQLiteStorage) GetContent(ctx context.Context, contentHash string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, `SELECT content FROM blobs WHERE content_hash = ?`, contentHash).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("content %s: %w", contentHash, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content: %w", err)
	}
	return content, nil
}

// PutContent stores raw bytes under their content hash (e.g. remediated output).
// Existing content for the hash is left untouched.
func (s *SQLiteStorage) PutContent(ctx context.Context, contentHash string, content []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO blobs (content_hash, content) VALUES (?, ?)
	`, contentHash, content)
	if err != nil {
		return fmt.Errorf("failed to put content: %w", err)
	}
	return nil
}

// GetConfig gets a configuration value from the config table
func (s *SQLiteStorage) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetConfig sets a configuration value in the config table
func (s *SQLiteStorage) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// encodeShingles packs a shingle set as little-endian uint64s
func encodeShingles(shingles []uint64) []byte {
	if len(shingles) == 0 {
		return nil
	}
	buf := make([]byte, 8*len(shingles))
	for i, v := range shingles {
		binary.LittleEndian.PutUint64(buf[8*i:], v)
	}
	return buf
}

func decodeShingles(buf []byte) []uint64 {
	if len(buf) < 8 {
		return nil
	}
	out := make([]uint64, len(buf)/8)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(buf[8*i:])
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	// CURRENT_TIMESTAMP default format
	return time.Parse("2006-01-02 15:04:05", s)
}
