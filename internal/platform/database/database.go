// Package database opens the SQL connection pool behind the constellation store.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "modernc.org/sqlite"             // registers the "sqlite" database/sql driver

	"icstore/internal/constellation/store/sqlstore"
)

// Config describes the connection.
type Config struct {
	// Driver is postgres or sqlite. Empty infers it from URL.
	Driver string
	// URL is a postgres:// DSN or a sqlite file path (optionally prefixed with sqlite://).
	URL string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// Dialect infers the SQL dialect from the URL scheme.
func Dialect(url string) sqlstore.Dialect {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return sqlstore.Postgres
	}
	return sqlstore.SQLite
}

// Open opens and pings the database. SQLite connections are limited to a
// single writer with WAL journaling.
func Open(ctx context.Context, cfg Config) (*sql.DB, sqlstore.Dialect, error) {
	if cfg.URL == "" {
		return nil, "", errors.New("database url is required")
	}
	dialect := Dialect(cfg.URL)
	if cfg.Driver != "" {
		dialect = sqlstore.Dialect(cfg.Driver)
	}

	var db *sql.DB
	var err error
	switch dialect {
	case sqlstore.Postgres:
		db, err = sql.Open("pgx", cfg.URL)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	case sqlstore.SQLite:
		db, err = sql.Open("sqlite", strings.TrimPrefix(cfg.URL, "sqlite://"))
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		busy := cfg.BusyTimeout
		if busy <= 0 {
			busy = 5 * time.Second
		}
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			fmt.Sprintf("PRAGMA busy_timeout=%d", busy.Milliseconds()),
			"PRAGMA foreign_keys=ON",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, "", fmt.Errorf("sqlite %q: %w", pragma, err)
			}
		}
	default:
		return nil, "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping database: %w", err)
	}
	return db, dialect, nil
}
