package store

// SQL schema constants for the durable cache/fields/extractions tables.

const schemaCache = `
CREATE TABLE IF NOT EXISTS cache (
    key TEXT PRIMARY KEY,
    label TEXT NOT NULL,
    result_body BLOB NOT NULL,
    metadata_body BLOB NOT NULL,
    created_at TEXT NOT NULL,
    hit_count INTEGER NOT NULL DEFAULT 0,
    last_hit TEXT
);
CREATE INDEX IF NOT EXISTS idx_cache_created ON cache(created_at);
CREATE INDEX IF NOT EXISTS idx_cache_label ON cache(label);
`

const schemaFields = `
CREATE TABLE IF NOT EXISTS fields (
    key TEXT PRIMARY KEY,
    label TEXT NOT NULL,
    field_name TEXT NOT NULL,
    value TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fields_created ON fields(created_at);
CREATE INDEX IF NOT EXISTS idx_fields_label ON fields(label);
`

const schemaExtractions = `
CREATE TABLE IF NOT EXISTS extractions (
    id TEXT PRIMARY KEY,
    timestamp TEXT NOT NULL,
    label TEXT NOT NULL,
    method TEXT NOT NULL,
    steps TEXT NOT NULL,
    schema_fields INTEGER NOT NULL DEFAULT 0,
    latency_ms INTEGER NOT NULL DEFAULT 0,
    status_code INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_extractions_timestamp ON extractions(timestamp);
CREATE INDEX IF NOT EXISTS idx_extractions_label ON extractions(label);
`

const schemaMigrations = `
CREATE TABLE IF NOT EXISTS migrations (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// allSchemas is the ordered list of schema DDL statements that form
// the initial (version-1) database layout.
var allSchemas = []string{
	schemaCache,
	schemaFields,
	schemaExtractions,
	schemaMigrations,
}
