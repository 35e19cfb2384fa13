// Package postgres stores leads, their edit history and users in Postgres.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/httpfs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/phbpx/leadtrack/pkg/database"
)

//go:embed migrations
var migrations embed.FS

// lib/pq errorCodeNames
// https://github.com/lib/pq/blob/master/error.go#L178
const foreignKeyViolation = "23503"

// readyTimeout bounds how long Migrate waits for the database to accept
// connections.
const readyTimeout = 30 * time.Second

// Migrate attempts to bring the schema for db up to date with the migrations
// defined in this package.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if err := database.WaitReady(ctx, db, readyTimeout); err != nil {
		return fmt.Errorf("db status check: %w", err)
	}

	source, err := httpfs.New(http.FS(migrations), "migrations")
	if err != nil {
		return fmt.Errorf("invalid source instance: %w", err)
	}

	target, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("invalid target postgres instance, %w", err)
	}

	m, err := migrate.NewWithInstance("httpfs", source, "postgres", target)
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// isForeignKeyViolation reports whether err broke the named constraint.
func isForeignKeyViolation(err error, constraint string) bool {
	var pqerr *pq.Error
	return errors.As(err, &pqerr) && pqerr.Code == foreignKeyViolation && pqerr.Constraint == constraint
}
