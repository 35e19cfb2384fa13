// Package database opens the traced Postgres connection pool.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/nhatthm/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Config is the required properties to use the database.
type Config struct {
	User            string
	Password        string
	Host            string
	Name            string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	DisableTLS      bool
	// ApplicationName shows up in pg_stat_activity.
	ApplicationName string
}

// DSN builds the lib/pq connection URL. Sessions run in UTC so timestamps
// read back the way they were written.
func DSN(cfg Config) string {
	sslMode := "require"
	if cfg.DisableTLS {
		sslMode = "disable"
	}

	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")
	if cfg.ApplicationName != "" {
		q.Set("application_name", cfg.ApplicationName)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host,
		Path:     cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Open returns a pool whose queries are traced and whose pool stats are
// exported as metrics. No connection is made until first use.
func Open(cfg Config) (*sqlx.DB, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.AllowRoot(),
		otelsql.TraceQueryWithoutArgs(),
		otelsql.TraceRowsClose(),
		otelsql.TraceRowsAffected(),
		otelsql.WithDatabaseName(cfg.Name),
		otelsql.WithSystem(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("registering traced driver: %w", err)
	}

	db, err := sql.Open(driverName, DSN(cfg))
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := otelsql.RecordStats(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("recording pool stats: %w", err)
	}

	return sqlx.NewDb(db, "postgres"), nil
}

// WaitReady retries StatusCheck with a growing pause until it passes or
// timeout elapses. It is meant for startup, when the database may still be
// coming up.
func WaitReady(ctx context.Context, db *sqlx.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	for attempt := 1; ; attempt++ {
		if err = StatusCheck(ctx, db); err == nil {
			return nil
		}

		pause := time.Duration(attempt) * 100 * time.Millisecond
		if pause > 2*time.Second {
			pause = 2 * time.Second
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("database not ready after %d attempts: %w", attempt, err)
		case <-time.After(pause):
		}
	}
}

// StatusCheck returns nil if it can successfully talk to the database. It
// forces a round trip so a pool with stale connections does not pass.
func StatusCheck(ctx context.Context, db *sqlx.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return err
	}

	const q = `SELECT true`
	var tmp bool
	return db.QueryRowContext(ctx, q).Scan(&tmp)
}
