package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the audit database schema.
const Schema = `
-- Dispatched violation events
CREATE TABLE IF NOT EXISTS audit_events (
    id TEXT PRIMARY KEY,
    content_digest TEXT NOT NULL,
    snapshot_version INTEGER NOT NULL,

    -- Rule
    rule_id TEXT NOT NULL,
    rule_version TEXT,
    tier TEXT NOT NULL,
    severity TEXT NOT NULL,
    category TEXT,

    -- Decision
    action TEXT NOT NULL,
    confidence REAL NOT NULL,
    spans TEXT,

    -- Timestamps
    occurred_at TIMESTAMP NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);

-- Schema version table
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

-- Indexes for common queries
CREATE INDEX IF NOT EXISTS idx_audit_occurred_at ON audit_events(occurred_at);
CREATE INDEX IF NOT EXISTS idx_audit_rule_id ON audit_events(rule_id);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_events(action);
CREATE INDEX IF NOT EXISTS idx_audit_content_digest ON audit_events(content_digest);
`

// InsertSchemaVersion inserts the schema version into the schema_version table.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version from the database.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`

const insertEvent = `
INSERT INTO audit_events (
    id, content_digest, snapshot_version,
    rule_id, rule_version, tier, severity, category,
    action, confidence, spans,
    occurred_at, recorded_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`

const selectColumns = `
    id, content_digest, snapshot_version,
    rule_id, rule_version, tier, severity, category,
    action, confidence, spans,
    occurred_at, recorded_at
`
