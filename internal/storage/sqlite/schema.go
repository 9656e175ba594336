package sqlite

// schemaVersion is stored in the config table on first open
const schemaVersion = "1"

const schema = `
-- Record log: append-only, never updated or deleted
CREATE TABLE IF NOT EXISTS records (
    id INTEGER PRIMARY KEY,
    source_id TEXT NOT NULL,
    source_name TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL DEFAULT '',
    license TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL CHECK(type IN ('html', 'mjml')),
    file_path TEXT NOT NULL DEFAULT '',
    byte_size INTEGER NOT NULL CHECK(byte_size >= 0),
    content_hash TEXT NOT NULL CHECK(length(content_hash) = 64),
    shingles BLOB,
    parsed INTEGER NOT NULL DEFAULT 0,
    quick_features TEXT NOT NULL DEFAULT '{}',
    duplicate_of INTEGER,
    ingested_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_records_content_hash ON records(content_hash);
CREATE INDEX IF NOT EXISTS idx_records_source ON records(source_id);

CREATE TRIGGER IF NOT EXISTS records_no_update
BEFORE UPDATE ON records
BEGIN
    SELECT RAISE(ABORT, 'records are append-only');
END;

CREATE TRIGGER IF NOT EXISTS records_no_delete
BEFORE DELETE ON records
BEGIN
    SELECT RAISE(ABORT, 'records are append-only');
END;

-- Atomic id counter for the record log
CREATE TABLE IF NOT EXISTS record_counters (
    name TEXT PRIMARY KEY,
    last_id INTEGER NOT NULL DEFAULT 0
);

-- Raw artifact bytes, one row per distinct content hash
CREATE TABLE IF NOT EXISTS blobs (
    content_hash TEXT PRIMARY KEY,
    content BLOB NOT NULL
);

-- Derived: clusters of the most recent pass
CREATE TABLE IF NOT EXISTS clusters (
    cluster_id INTEGER PRIMARY KEY,
    keeper_id INTEGER NOT NULL,
    kind TEXT NOT NULL CHECK(kind IN ('singleton', 'exact', 'near')),
    size INTEGER NOT NULL CHECK(size > 0),
    pass_id TEXT NOT NULL
);

-- Derived: one row per record, so no record can sit in two clusters
CREATE TABLE IF NOT EXISTS cluster_members (
    record_id INTEGER PRIMARY KEY,
    cluster_id INTEGER NOT NULL,
    FOREIGN KEY (record_id) REFERENCES records(id),
    FOREIGN KEY (cluster_id) REFERENCES clusters(cluster_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_cluster_members_cluster ON cluster_members(cluster_id);

-- Derived: latest score per keeper
CREATE TABLE IF NOT EXISTS scores (
    record_id INTEGER PRIMARY KEY,
    content_hash TEXT NOT NULL,
    subscores TEXT NOT NULL,
    total REAL NOT NULL CHECK(total >= 0 AND total <= 100),
    band TEXT NOT NULL CHECK(band IN ('keep', 'retry', 'drop')),
    attempts INTEGER NOT NULL DEFAULT 1,
    remediated INTEGER NOT NULL DEFAULT 0,
    errors TEXT NOT NULL DEFAULT '[]',
    rubric_version TEXT NOT NULL,
    pass_id TEXT NOT NULL,
    scored_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (record_id) REFERENCES records(id)
);

-- Audit log: append-only; a (record, reason, detail) triple is logged once
CREATE TABLE IF NOT EXISTS audit_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    record_id INTEGER NOT NULL,
    reason TEXT NOT NULL CHECK(reason IN ('duplicate-of', 'score-below-threshold')),
    detail TEXT NOT NULL,
    keeper_id INTEGER,
    total REAL,
    pass_id TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (record_id, reason, detail),
    FOREIGN KEY (record_id) REFERENCES records(id)
);

CREATE INDEX IF NOT EXISTS idx_audit_record ON audit_log(record_id);
CREATE INDEX IF NOT EXISTS idx_audit_pass ON audit_log(pass_id);

-- Pass log
CREATE TABLE IF NOT EXISTS passes (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL CHECK(status IN ('running', 'completed', 'failed')),
    threshold REAL NOT NULL,
    record_count INTEGER NOT NULL DEFAULT 0,
    cluster_count INTEGER NOT NULL DEFAULT 0,
    kept INTEGER NOT NULL DEFAULT 0,
    dropped INTEGER NOT NULL DEFAULT 0,
    duplicates INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',
    started_at DATETIME NOT NULL,
    finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_passes_started ON passes(started_at);

-- Config table
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
