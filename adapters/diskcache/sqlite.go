package diskcache

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
)

// SQLite stores entries as rows of a single table.  Each Commit is one
// transaction; with a positive maxSize the least recently accessed rows are
// deleted in the same transaction until the total fits.
type SQLite struct {
	db      *sql.DB
	maxSize int64
}

var _ core.DiskCache = (*SQLite)(nil)

// NewSQLite opens (creating when needed) the database at dbPath.
// Use ":memory:" for a private in-memory cache.
func NewSQLite(dbPath string, maxSize int64) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "sqlite.open", fmt.Errorf("failed to open database: %w", err))
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CategoryCache, "sqlite.pragma", fmt.Errorf("failed to enable WAL mode: %w", err))
	}

	c := &SQLite{db: db, maxSize: maxSize}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CategoryCache, "sqlite.schema", fmt.Errorf("failed to initialize schema: %w", err))
	}
	return c, nil
}

func (c *SQLite) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			cache_key TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			metadata BLOB,
			size INTEGER NOT NULL,
			accessed_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_accessed ON cache_entries(accessed_at)`,
	}
	for _, stmt := range statements {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (c *SQLite) OpenSnapshot(ctx context.Context, key string) (core.DiskSnapshot, error) {
	var data, metadata []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT data, metadata FROM cache_entries WHERE cache_key = ?`, key,
	).Scan(&data, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrCacheMiss
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "sqlite.open_snapshot", err)
	}
	if _, err := c.db.ExecContext(ctx,
		`UPDATE cache_entries SET accessed_at = ? WHERE cache_key = ?`, time.Now().UnixNano(), key,
	); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "sqlite.touch", err)
	}
	return &memorySnapshot{data: data, metadata: metadata}, nil
}

func (c *SQLite) Edit(ctx context.Context, key string) (core.DiskEditor, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "sqlite.edit", err)
	}
	return &sqliteEditor{ctx: ctx, cache: c, key: key}, nil
}

func (c *SQLite) Remove(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key); err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "sqlite.remove", err)
	}
	return nil
}

func (c *SQLite) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "sqlite.clear", err)
	}
	return nil
}

// Size returns the total bytes of stored entries.
func (c *SQLite) Size(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	if err := c.db.QueryRowContext(ctx, `SELECT SUM(size) FROM cache_entries`).Scan(&total); err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryCache, "sqlite.size", err)
	}
	return total.Int64, nil
}

func (c *SQLite) Close() error { return c.db.Close() }

// commit runs in one transaction bound to ctx, so a cancellation before
// tx.Commit rolls the entry back.
func (c *SQLite) commit(ctx context.Context, key string, data, metadata []byte) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "sqlite.commit.begin", err)
	}
	defer tx.Rollback()

	if data == nil {
		data = []byte{}
	}
	size := int64(len(data) + len(metadata))
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (cache_key, data, metadata, size, accessed_at) VALUES (?, ?, ?, ?, ?)`,
		key, data, metadata, size, time.Now().UnixNano(),
	); err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "sqlite.commit.insert", err)
	}
	if c.maxSize > 0 {
		if err := trimTx(ctx, tx, c.maxSize); err != nil {
			return apperrors.Wrap(apperrors.CategoryCache, "sqlite.commit.trim", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return apperrors.Cancelled("sqlite.commit", err)
	}
	if err := tx.Commit(); err != nil {
		if ctx.Err() != nil {
			return apperrors.Cancelled("sqlite.commit", ctx.Err())
		}
		return apperrors.Wrap(apperrors.CategoryCache, "sqlite.commit", err)
	}
	return nil
}

func trimTx(ctx context.Context, tx *sql.Tx, maxSize int64) error {
	var total sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT SUM(size) FROM cache_entries`).Scan(&total); err != nil {
		return err
	}
	excess := total.Int64 - maxSize
	if excess <= 0 {
		return nil
	}
	rows, err := tx.QueryContext(ctx, `SELECT cache_key, size FROM cache_entries ORDER BY accessed_at ASC`)
	if err != nil {
		return err
	}
	var victims []string
	for rows.Next() && excess > 0 {
		var key string
		var size int64
		if err := rows.Scan(&key, &size); err != nil {
			rows.Close()
			return err
		}
		victims = append(victims, key)
		excess -= size
	}
	rows.Close()
	for _, key := range victims {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key); err != nil {
			return err
		}
	}
	return nil
}

// ── Snapshot / editor ─────────────────────────────────────────────────────────

type memorySnapshot struct {
	data, metadata []byte
}

func (s *memorySnapshot) Data() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func (s *memorySnapshot) Metadata() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.metadata)), nil
}

func (s *memorySnapshot) Close() error { return nil }

type sqliteEditor struct {
	ctx      context.Context
	cache    *SQLite
	key      string
	data     bytes.Buffer
	metadata bytes.Buffer
	done     bool
}

func (e *sqliteEditor) Data() (io.Writer, error)     { return &e.data, nil }
func (e *sqliteEditor) Metadata() (io.Writer, error) { return &e.metadata, nil }

func (e *sqliteEditor) Commit() error {
	if e.done {
		return apperrors.New(apperrors.CategoryCache, "sqlite.commit", errors.New("editor already closed"))
	}
	e.done = true
	return e.cache.commit(e.ctx, e.key, e.data.Bytes(), e.metadata.Bytes())
}

func (e *sqliteEditor) Abort() error {
	e.done = true
	e.data.Reset()
	e.metadata.Reset()
	return nil
}
