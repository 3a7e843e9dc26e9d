package tracking

import (
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// runMigrations applies pending migrations from the embedded filesystem.
// Embedding keeps production deployments self-contained; the binary carries
// its own schema.
func runMigrations(db *stdsql.DB, dbName string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migrate driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dbName, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Close only the source. m.Close() would also close the shared *sql.DB
	// handed to postgres.WithInstance.
	if err := source.Close(); err != nil {
		return fmt.Errorf("close migration source: %w", err)
	}
	return nil
}
