// Package database owns the embedded SQLite store: connection lifecycle,
// pragmas and schema migrations. The schema version is stamped in
// PRAGMA user_version; a database newer than the binary refuses to open.
package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"moorgate/pkg/logging"
)

// SQLiteConn represents the gateway's database connection
type SQLiteConn = *sql.DB

// ErrNoRows is returned when a query returns no rows
var ErrNoRows = sql.ErrNoRows

// Config holds database configuration
type Config struct {
	Path          string
	MaxOpenConns  int
	BusyTimeoutMs int
}

// DefaultConfig returns default database configuration for the given path
func DefaultConfig(path string) Config {
	return Config{
		Path:          path,
		MaxOpenConns:  4,
		BusyTimeoutMs: 5000,
	}
}

// Connect opens (or creates) the database, applies pragmas and brings the
// schema up to date. Use ":memory:" for ephemeral in-process storage (tests).
func Connect(cfg Config, logger logging.Logger) (SQLiteConn, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A shared in-memory database exists per connection; keep the pool at
	// one so every query sees the same store.
	if strings.Contains(cfg.Path, ":memory:") {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	// WAL for concurrent readers; busy_timeout instead of SQLITE_BUSY.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		logger.WithError(err).Warn("WAL mode unavailable")
	}
	if _, err := db.Exec(fmt.Sprintf(`PRAGMA busy_timeout=%d`, cfg.BusyTimeoutMs)); err != nil {
		logger.WithError(err).Warn("busy_timeout not applied")
	}
	if _, err := db.Exec(`PRAGMA synchronous=NORMAL`); err != nil {
		logger.WithError(err).Warn("synchronous pragma not applied")
	}

	if err := migrate(db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.WithFields(logging.Fields{
		"path":           cfg.Path,
		"schema_version": len(migrations),
	}).Info("Database connected")

	return db, nil
}

// MustConnect is like Connect but exits on error.
func MustConnect(cfg Config, logger logging.Logger) SQLiteConn {
	db, err := Connect(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database")
	}
	return db
}

// migrate applies pending migrations in order. Migrations are strictly
// monotonic; running an old binary against a newer schema is refused.
func migrate(db *sql.DB, logger logging.Logger) error {
	var current int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&current); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if current > len(migrations) {
		return fmt.Errorf("database schema v%d is newer than this binary (v%d); refusing to downgrade", current, len(migrations))
	}

	for i, stmts := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d: begin: %w", v, err)
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d: %w", v, err)
			}
		}
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d`, v)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("stamp migration %d: %w", v, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v, err)
		}
		logger.WithField("version", v).Debug("Applied migration")
	}
	return nil
}
