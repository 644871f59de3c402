// Package mediaindex is the registry other applications query to discover
// captured photos. Announced files are recorded in SQLite (default) or MySQL.
package mediaindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one announced media file.
type Entry struct {
	Path        string    `json:"path"`
	Album       string    `json:"album"`
	SizeBytes   int64     `json:"size_bytes"`
	AnnouncedAt time.Time `json:"announced_at"`
}

type dialect struct {
	driver string
	schema string
	upsert string
}

var dialects = map[string]dialect{
	"sqlite": {
		driver: "sqlite",
		schema: `
CREATE TABLE IF NOT EXISTS media_entries (
    path TEXT PRIMARY KEY,
    album TEXT NOT NULL,
    size_bytes INTEGER NOT NULL,
    announced_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_media_entries_album ON media_entries (album, announced_at);
`,
		upsert: `
INSERT INTO media_entries (path, album, size_bytes, announced_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
    album = excluded.album,
    size_bytes = excluded.size_bytes,
    announced_at = excluded.announced_at
`,
	},
	"mysql": {
		driver: "mysql",
		schema: `
CREATE TABLE IF NOT EXISTS media_entries (
    path VARCHAR(512) NOT NULL PRIMARY KEY,
    album VARCHAR(255) NOT NULL,
    size_bytes BIGINT NOT NULL,
    announced_at DATETIME(6) NOT NULL,
    INDEX idx_media_entries_album (album, announced_at)
)
`,
		upsert: `
INSERT INTO media_entries (path, album, size_bytes, announced_at)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    album = VALUES(album),
    size_bytes = VALUES(size_bytes),
    announced_at = VALUES(announced_at)
`,
	},
}

// Index wraps the media index database.
type Index struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to the index and ensures the schema exists. For sqlite the
// DSN is a file path whose directory is created if missing. MySQL DSNs
// need parseTime=true, which Open adds when absent.
func Open(driver, dsn string) (*Index, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported media index driver: %s", driver)
	}

	switch driver {
	case "sqlite":
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create media index directory: %w", err)
			}
		}
	case "mysql":
		var err error
		if dsn, err = withParseTime(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open media index: %w", err)
	}
	if driver == "sqlite" {
		// one writer; WAL lets /media listings read while the announcer writes
		if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure media index: %w", err)
		}
		db.SetMaxOpenConns(1)
	}

	idx := &Index{db: db, dialect: d}
	if err := idx.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (i *Index) ensureSchema() error {
	if _, err := i.db.Exec(i.dialect.schema); err != nil {
		return fmt.Errorf("create media index schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (i *Index) Close() error {
	return i.db.Close()
}

// Record inserts or refreshes an entry.
func (i *Index) Record(ctx context.Context, e Entry) error {
	if e.Path == "" {
		return errors.New("media index: empty path")
	}
	_, err := i.db.ExecContext(ctx, i.dialect.upsert, e.Path, e.Album, e.SizeBytes, e.AnnouncedAt.UTC())
	if err != nil {
		return fmt.Errorf("record %s: %w", e.Path, err)
	}
	return nil
}

// Lookup returns the entry for path, or nil if it was never announced.
func (i *Index) Lookup(ctx context.Context, path string) (*Entry, error) {
	var e Entry
	err := i.db.QueryRowContext(ctx,
		`SELECT path, album, size_bytes, announced_at FROM media_entries WHERE path = ?`, path,
	).Scan(&e.Path, &e.Album, &e.SizeBytes, &e.AnnouncedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns entries newest first. An empty album lists every album;
// limit <= 0 means no limit.
func (i *Index) List(ctx context.Context, album string, limit int) ([]Entry, error) {
	query := `SELECT path, album, size_bytes, announced_at FROM media_entries`
	var args []any
	if album != "" {
		query += ` WHERE album = ?`
		args = append(args, album)
	}
	query += ` ORDER BY announced_at DESC, path DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Path, &e.Album, &e.SizeBytes, &e.AnnouncedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of indexed files.
func (i *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := i.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media_entries`).Scan(&n)
	return n, err
}
