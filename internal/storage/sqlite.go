package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"

	"github.com/Veraticus/smeta/internal/common"
	"github.com/Veraticus/smeta/internal/model"
	"github.com/Veraticus/smeta/internal/service"
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

var _ service.Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	dsn := dbPath
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections, and an in-memory
	// database only lives as long as its single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// NewCheckpointManager creates a new checkpoint manager for this storage instance.
func (s *SQLiteStorage) NewCheckpointManager() (*CheckpointManager, error) {
	return NewCheckpointManager(s.db, s.dbPath)
}

// ImportTarget binds the schema and source file recorded on upserted rows.
// It satisfies the importer's store contract.
type ImportTarget struct {
	storage    *SQLiteStorage
	schema     model.Schema
	sourceFile string
}

// ImportTarget returns a store view that tags upserts with schema and source.
func (s *SQLiteStorage) ImportTarget(schema model.Schema, sourceFile string) *ImportTarget {
	return &ImportTarget{storage: s, schema: schema, sourceFile: sourceFile}
}

// SelectExisting delegates to the storage.
func (t *ImportTarget) SelectExisting(ctx context.Context, keys []string) (map[string]struct{}, error) {
	return t.storage.SelectExisting(ctx, keys)
}

// Upsert writes records tagged with the bound schema and source file.
func (t *ImportTarget) Upsert(ctx context.Context, records []model.CanonicalRecord) error {
	return t.storage.UpsertFrom(ctx, t.schema, t.sourceFile, records)
}

// DeleteAll delegates to the storage.
func (t *ImportTarget) DeleteAll(ctx context.Context) error {
	return t.storage.DeleteAll(ctx)
}

// DeleteByKey delegates to the storage.
func (t *ImportTarget) DeleteByKey(ctx context.Context, key string) error {
	return t.storage.DeleteByKey(ctx, key)
}

// classifyError marks lock contention as retryable.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %w", common.ErrStoreBusy, err)
		case sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
			return fmt.Errorf("%w: %w", common.ErrDatabaseCorrupted, err)
		}
	}
	return err
}
