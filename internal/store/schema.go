package store

const schemaSQL = `
CREATE TABLE IF NOT EXISTS usage_entries (
    file_path             TEXT NOT NULL REFERENCES file_tracker(file_path) ON DELETE CASCADE,
    entry_id              TEXT NOT NULL,
    ts_unix_ns            INTEGER NOT NULL,
    model                 TEXT NOT NULL,
    input_tokens          INTEGER NOT NULL,
    output_tokens         INTEGER NOT NULL,
    cache_creation_tokens INTEGER NOT NULL,
    cache_read_tokens     INTEGER NOT NULL,
    cost_usd              REAL NOT NULL,
    session_id            TEXT NOT NULL,
    project               TEXT NOT NULL,
    project_path          TEXT,
    PRIMARY KEY (file_path, entry_id)
);

CREATE TABLE IF NOT EXISTS file_tracker (
    file_path            TEXT PRIMARY KEY,
    mtime_ns             INTEGER NOT NULL,
    size_bytes           INTEGER NOT NULL,
    parse_errors         INTEGER NOT NULL DEFAULT 0,
    parsed_at            TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_ts ON usage_entries(ts_unix_ns);
CREATE INDEX IF NOT EXISTS idx_entries_project ON usage_entries(project);
`
