package store

import (
	"context"
	"database/sql"
	"fmt"

	"contentsync/internal/store/migrations"
	"contentsync/internal/store/pgmigrations"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

// Open opens the database named by driver ("sqlite3" or "pgx"), applies
// the schema migrations for that dialect, and returns the store together
// with the handle the caller owns.
func Open(ctx context.Context, driver, dsn string) (*SQL, *sql.DB, error) {
	switch driver {
	case "sqlite3", "pgx":
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("db open error: %w", err)
	}

	if err := RunMigrations(ctx, db, driver); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("db migration error: %w", err)
	}

	return NewSQL(db, driver), db, nil
}

// RunMigrations applies the dialect-specific schema to an open handle.
func RunMigrations(ctx context.Context, db *sql.DB, driver string) error {
	switch driver {
	case "sqlite3":
		goose.SetBaseFS(migrations.Migrations)
		if err := goose.SetDialect("sqlite3"); err != nil {
			return err
		}
	case "pgx":
		goose.SetBaseFS(pgmigrations.Migrations)
		if err := goose.SetDialect("postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported store driver %q", driver)
	}
	return goose.UpContext(ctx, db, ".")
}
