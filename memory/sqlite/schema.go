package sqlite

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// migrationsFS embeds the table layout from §6.6: memory_events,
// belief_slots, retrieval_units (with its FTS5 companion), deletion_ledger,
// embedding_cache, associations.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrateUp applies every pending migration against db, matching the
// teacher's srv/sqlite/migrate.go embedded-iofs pattern.
func migrateUp(db *sql.DB) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("memory/sqlite: failed to create migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("memory/sqlite: failed to create migrations source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "memory", driver)
	if err != nil {
		return fmt.Errorf("memory/sqlite: failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("memory/sqlite: failed to apply migrations: %w", err)
	}
	return nil
}
