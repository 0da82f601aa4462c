// Package sqlite provides a file-backed response cache for the command
// line tools, where no Valkey server is around.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AzyAli/map3d/internal/core/ports"
)

// Cache implements ports.CacheService on a single SQLite table.
type Cache struct {
	DB  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the cache database at path. Use ":memory:" for a
// throwaway cache.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	// a single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	c := &Cache{DB: db, now: time.Now}
	if err := c.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) initSchema() error {
	_, err := c.DB.Exec(`
	CREATE TABLE IF NOT EXISTS response_cache (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		expires_at INTEGER NOT NULL
	);
	`)
	if err != nil {
		return fmt.Errorf("init cache schema: %w", err)
	}
	return nil
}

// Get returns the cached value, or ports.ErrNotFound when the key is
// missing or expired.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := c.DB.QueryRowContext(ctx,
		`SELECT value, expires_at FROM response_cache WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cache %q: %w", key, err)
	}
	if c.now().Unix() >= expiresAt {
		_ = c.Delete(ctx, key)
		return nil, ports.ErrNotFound
	}
	return value, nil
}

// Set stores value for ttlSeconds.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	if key == "" {
		return errors.New("set cache: key must not be empty")
	}
	expiresAt := c.now().Add(time.Duration(ttlSeconds) * time.Second).Unix()
	_, err := c.DB.ExecContext(ctx, `
	INSERT OR REPLACE INTO response_cache (key, value, expires_at)
	VALUES (?, ?, ?)
	`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("set cache %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if _, err := c.DB.ExecContext(ctx, `DELETE FROM response_cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete cache %q: %w", key, err)
	}
	return nil
}

// Purge drops every expired entry and returns how many were removed.
func (c *Cache) Purge(ctx context.Context) (int64, error) {
	res, err := c.DB.ExecContext(ctx, `DELETE FROM response_cache WHERE expires_at <= ?`, c.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("purge cache: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.DB.Close()
}
