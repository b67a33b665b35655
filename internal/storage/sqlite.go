package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the package registry database at
// path and ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenExisting opens a database that must already exist. Nothing is created
// or bootstrapped.
func OpenExisting(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("sqlite database %q does not exist", path)
		}
		return nil, fmt.Errorf("stat sqlite database: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("sqlite path %q is a directory", path)
	}
	return open(ctx, path)
}

func open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	return db, nil
}

// BootstrapSQLite creates the installed-package tables if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS packages (
  name          TEXT PRIMARY KEY,
  version_code  INTEGER NOT NULL,
  target_sdk    INTEGER NOT NULL DEFAULT 0,
  label         TEXT,
  digest        TEXT,
  originator    TEXT,
  path          TEXT NOT NULL,
  installed_at  TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS package_permissions (
  package   TEXT NOT NULL REFERENCES packages(name) ON DELETE CASCADE,
  name      TEXT NOT NULL,
  granted   INTEGER NOT NULL DEFAULT 0,
  position  INTEGER NOT NULL,
  PRIMARY KEY (package, name)
);`,
		`CREATE INDEX IF NOT EXISTS package_permissions_package_position_idx ON package_permissions(package, position);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
