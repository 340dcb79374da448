// Package sqlitedb opens the daemon's sqlite stores and classifies their
// errors for services.
package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"

	"github.com/vango-dev/apid/pkg/core"
)

// Memory is the path of a private in-memory database.
const Memory = ":memory:"

// Migration upgrades the schema to Version.
type Migration struct {
	Version int
	SQL     string
}

// Open opens the database at path, enables foreign keys and applies every
// migration newer than the stored user_version, in order.
func Open(path string, migrations []Migration, logger *slog.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: sqlite has a single writer, and every pooled
	// connection to ":memory:" would be a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := migrate(db, migrations, logger.With("db", path)); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Version returns the schema version stored in the database.
func Version(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func migrate(db *sql.DB, migrations []Migration, logger *slog.Logger) error {
	current, err := Version(db)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		err := InTx(context.Background(), db, func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.SQL); err != nil {
				return err
			}
			// PRAGMA does not take bind parameters.
			_, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version))
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.Version, err)
		}
		logger.Info("schema upgraded", "from", current, "to", m.Version)
		current = m.Version
	}
	return nil
}

// InTx runs fn in a transaction, committing when it returns nil.
func InTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Classify wraps err in a *core.StoreError naming op. A nil err stays nil
// and an existing StoreError is returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *core.StoreError
	if errors.As(err, &se) {
		return err
	}

	kind := core.StoreUnknown
	var sqliteErr sqlite3.Error
	switch {
	case errors.Is(err, sql.ErrNoRows):
		kind = core.StoreNotFound
	case errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint:
		kind = core.StoreConflict
	}
	return &core.StoreError{Kind: kind, Op: op, Err: err}
}
