// Package cache provides a durable compile cache so repeated builds of
// unchanged models skip code generation. Entries are keyed by a
// content-addressed hash of the DAG and generation options; the cached
// value is the generated procedure text itself.
package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// Cache is a SQLite-backed compile cache.
// Uses WAL mode for concurrent read access.
type Cache struct {
	db *sql.DB
}

// Open creates or opens a cache database at the given path. Applies
// required pragmas and the schema automatically; safe to call on an
// existing cache.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect cache: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent builds.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Get returns the cached procedure text for a key, if present.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	var code string
	err := c.db.QueryRowContext(ctx,
		`SELECT code FROM compilations WHERE key = ?`, key).Scan(&code)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get: %w", err)
	}
	return code, true, nil
}

// Put stores generated procedure text under a key. Duplicate keys are
// silently ignored: the same key always names the same text, so the
// first write wins and Put stays idempotent.
func (c *Cache) Put(ctx context.Context, key, funcName, code string) error {
	buildID := uuid.Must(uuid.NewV7()).String()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO compilations (key, build_id, funcname, code)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, key, buildID, funcName, code)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Len returns the number of cached compilations.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM compilations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("cache len: %w", err)
	}
	return n, nil
}

// Prune keeps the most recent keep entries and deletes the rest.
// Recency comes from the UUIDv7 build_id, which orders by creation time
// without storing wall-clock timestamps. Returns the number of deleted
// rows.
func (c *Cache) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := c.db.ExecContext(ctx, `
		DELETE FROM compilations WHERE key NOT IN (
			SELECT key FROM compilations ORDER BY build_id DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("cache prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache prune: %w", err)
	}
	return int(n), nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist. Idempotent.
func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("cache schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}
