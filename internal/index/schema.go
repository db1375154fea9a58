// Package index provides the SQLite-backed structural index of the library
// (series and chapter rows keyed by path) and durable storage for file
// operations.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS series (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	title        TEXT NOT NULL DEFAULT '',
	path         TEXT NOT NULL UNIQUE,
	custom_title TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chapters (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	series_id  INTEGER NOT NULL REFERENCES series(id) ON DELETE CASCADE,
	path       TEXT NOT NULL UNIQUE,
	volume     REAL NOT NULL DEFAULT 0,
	number     REAL NOT NULL DEFAULT 0,
	pages      INTEGER NOT NULL DEFAULT 0,
	page_read  INTEGER NOT NULL DEFAULT 0,
	checksum   TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chapters_series ON chapters(series_id);
CREATE INDEX IF NOT EXISTS idx_chapters_path ON chapters(path);

CREATE TABLE IF NOT EXISTS operations (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	source_path  TEXT NOT NULL,
	target_path  TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'pending',
	backup_path  TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	retry_count  INTEGER NOT NULL DEFAULT 0,
	max_retries  INTEGER NOT NULL DEFAULT 2,
	flags        TEXT NOT NULL DEFAULT '{}',
	validation   TEXT NOT NULL DEFAULT '',
	snapshot     TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	validated_at DATETIME,
	started_at   DATETIME,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_operations_status ON operations(status);
CREATE INDEX IF NOT EXISTS idx_operations_created ON operations(created_at);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
