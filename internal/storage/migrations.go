package storage

import (
	"context"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the user_version a fully migrated catalog carries.
// Failing to reach it is fatal.
const ExpectedSchemaVersion = 3

// migration is one step of the catalog schema. Statements run in a single
// transaction together with the user_version bump.
type migration struct {
	description string
	statements  []string
	version     int
}

var migrations = []migration{
	{
		version:     1,
		description: "Initial catalog schema",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS catalog_entries (
				key TEXT PRIMARY KEY,
				schema TEXT NOT NULL DEFAULT '',
				source_file TEXT NOT NULL DEFAULT '',
				position INTEGER,
				name TEXT NOT NULL,
				type_mark TEXT,
				code TEXT,
				manufacturer TEXT,
				unit TEXT,
				quantity REAL,
				price REAL,
				price_source TEXT,
				product_code TEXT,
				spec_ref TEXT,
				category TEXT,
				notes TEXT,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX idx_catalog_entries_name ON catalog_entries(name)`,
			`CREATE INDEX idx_catalog_entries_schema ON catalog_entries(schema)`,
			`CREATE TABLE IF NOT EXISTS import_runs (
				id TEXT PRIMARY KEY,
				source_file TEXT NOT NULL,
				schema TEXT NOT NULL,
				started_at DATETIME NOT NULL,
				finished_at DATETIME NOT NULL,
				total INTEGER NOT NULL DEFAULT 0,
				inserted INTEGER NOT NULL DEFAULT 0,
				updated INTEGER NOT NULL DEFAULT 0,
				failed INTEGER NOT NULL DEFAULT 0,
				skipped INTEGER NOT NULL DEFAULT 0,
				cancelled BOOLEAN NOT NULL DEFAULT 0,
				errors TEXT
			)`,
			`CREATE INDEX idx_import_runs_started_at ON import_runs(started_at)`,
		},
	},
	{
		version:     2,
		description: "Record catalog checkpoints",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS checkpoint_metadata (
				id TEXT PRIMARY KEY,
				created_at DATETIME NOT NULL,
				description TEXT,
				file_size INTEGER,
				entries INTEGER NOT NULL DEFAULT 0,
				import_runs INTEGER NOT NULL DEFAULT 0,
				schema_version INTEGER,
				is_auto BOOLEAN DEFAULT 0,
				last_import_run TEXT
			)`,
			`CREATE INDEX idx_checkpoint_metadata_created_at ON checkpoint_metadata(created_at)`,
		},
	},
	{
		version:     3,
		description: "Index catalog lookups by code and manufacturer",
		statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_catalog_entries_code ON catalog_entries(code)`,
			`CREATE INDEX IF NOT EXISTS idx_catalog_entries_manufacturer ON catalog_entries(manufacturer)`,
		},
	},
}

// Migrate brings the schema up to ExpectedSchemaVersion. Already applied
// steps are skipped, so calling it on every start is safe.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
		current = m.version
		slog.Info("Applied migration", "version", m.version, "description", m.description)
	}

	final, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if final != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, final)
	}
	return nil
}

func (s *SQLiteStorage) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
	}
	return nil
}

// SchemaVersion returns the database's PRAGMA user_version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return v, nil
}
