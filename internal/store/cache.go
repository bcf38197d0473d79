// Package store provides a SQLite-backed cache of normalized usage entries per session file.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/theirongolddev/burnwatch/internal/model"

	_ "modernc.org/sqlite" // register sqlite driver
)

// Cache provides SQLite-backed entry caching.
type Cache struct {
	db *sql.DB
}

// Open opens or creates the cache database at the given path.
func Open(dbPath string) (*Cache, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the cache database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// FileInfo holds the tracked mtime and size for a file.
type FileInfo struct {
	MtimeNs     int64
	SizeBytes   int64
	ParseErrors int
}

// GetTrackedFiles returns a map of file_path -> FileInfo for all tracked files.
func (c *Cache) GetTrackedFiles() (map[string]FileInfo, error) {
	rows, err := c.db.Query("SELECT file_path, mtime_ns, size_bytes, parse_errors FROM file_tracker")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string]FileInfo)
	for rows.Next() {
		var path string
		var fi FileInfo
		if err := rows.Scan(&path, &fi.MtimeNs, &fi.SizeBytes, &fi.ParseErrors); err != nil {
			return nil, err
		}
		result[path] = fi
	}
	return result, rows.Err()
}

// SaveFile replaces the cached entries of one file and its tracking info.
func (c *Cache) SaveFile(path string, entries []model.UsageEntry, fi FileInfo) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`INSERT INTO file_tracker (file_path, mtime_ns, size_bytes, parse_errors, parsed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			mtime_ns = excluded.mtime_ns, size_bytes = excluded.size_bytes,
			parse_errors = excluded.parse_errors, parsed_at = excluded.parsed_at`,
		path, fi.MtimeNs, fi.SizeBytes, fi.ParseErrors, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM usage_entries WHERE file_path = ?", path); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO usage_entries
		(file_path, entry_id, ts_unix_ns, model, input_tokens, output_tokens,
		 cache_creation_tokens, cache_read_tokens, cost_usd, session_id, project, project_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		_, err = stmt.Exec(path, e.ID, e.Timestamp.UnixNano(), e.Model,
			e.InputTokens, e.OutputTokens, e.CacheCreationTokens, e.CacheReadTokens,
			e.CostUSD, e.SessionID, e.Project, e.ProjectPath)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadEntries reads cached entries grouped by source file.
// Entries within a file are ordered by timestamp.
func (c *Cache) LoadEntries() (map[string][]model.UsageEntry, error) {
	rows, err := c.db.Query(`SELECT
		file_path, entry_id, ts_unix_ns, model, input_tokens, output_tokens,
		cache_creation_tokens, cache_read_tokens, cost_usd, session_id, project, project_path
		FROM usage_entries ORDER BY file_path, ts_unix_ns, entry_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string][]model.UsageEntry)
	for rows.Next() {
		var (
			path        string
			e           model.UsageEntry
			tsNs        int64
			projectPath sql.NullString
		)
		err := rows.Scan(&path, &e.ID, &tsNs, &e.Model, &e.InputTokens, &e.OutputTokens,
			&e.CacheCreationTokens, &e.CacheReadTokens, &e.CostUSD, &e.SessionID, &e.Project, &projectPath)
		if err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(0, tsNs).UTC()
		if projectPath.Valid {
			e.ProjectPath = projectPath.String
		}
		result[path] = append(result[path], e)
	}
	return result, rows.Err()
}

// DeleteFile removes a tracked file and its cached entries.
func (c *Cache) DeleteFile(path string) error {
	_, err := c.db.Exec("DELETE FROM file_tracker WHERE file_path = ?", path)
	return err
}

// EntryCount returns the number of cached entries.
func (c *Cache) EntryCount() (int, error) {
	var count int
	err := c.db.QueryRow("SELECT COUNT(*) FROM usage_entries").Scan(&count)
	return count, err
}
