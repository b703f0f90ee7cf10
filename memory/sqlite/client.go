// Package sqlite implements the memory contract (§6.3) against an embedded
// modernc.org/sqlite database, matching the teacher's srv/sqlite package
// composition: a thin Client owns the *sql.DB and migrations, a Store
// layered on top owns the domain operations.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	zlog "github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"sidekickcore/logger"
)

// Client owns the underlying connection and migration lifecycle for one
// workspace database (§6.6 "one embedded database per workspace").
type Client struct {
	db *sql.DB
}

// NewClient opens (creating directories as needed) and migrates the
// workspace database at dbPath.
func NewClient(dbPath string) (*Client, error) {
	logger.Init()
	zlog.Info().Str("path", dbPath).Msg("opening memory database")

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("memory/sqlite: failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("memory/sqlite: failed to open database: %w", err)
	}

	// A single connection, matching §5's "serializes its writes through a
	// single lock (per-connection)". For dbPath == ":memory:" this is load
	// bearing, not just a concurrency nicety: modernc.org/sqlite opens a
	// fresh, independent in-memory database per connection, so a pool of
	// more than one would make writes on one connection invisible to reads
	// on another.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("memory/sqlite: failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("memory/sqlite: failed to enable foreign keys: %w", err)
	}

	client := &Client{db: db}
	if err := migrateUp(db); err != nil {
		return nil, err
	}

	zlog.Info().Msg("memory database ready")
	return client, nil
}

// DB exposes the underlying connection pool for Store construction.
func (c *Client) DB() *sql.DB { return c.db }

// Close closes the underlying connection.
func (c *Client) Close() error { return c.db.Close() }
