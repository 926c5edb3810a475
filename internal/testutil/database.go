// Package testutil provides shared test helpers for packages that need a
// migrated catalog database.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/smeta/internal/model"
	"github.com/Veraticus/smeta/internal/storage"
)

// TestDB represents a test database with the records it was seeded with.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
	Seeded  []model.CanonicalRecord
}

// SetupTestDB creates a migrated in-memory database seeded with the records
// of the given fixtures. Cleanup is registered on t.
//
// Example:
//
//	db := testutil.SetupTestDB(t, testutil.FixtureLighting)
func SetupTestDB(t *testing.T, fixtures ...Fixture) *TestDB {
	t.Helper()

	var records []model.CanonicalRecord
	for _, f := range fixtures {
		records = append(records, f.Records()...)
	}
	return SetupTestDBWithOptions(t, TestDBOptions{Records: records})
}

// TestDBOptions provides configuration options for test database setup.
type TestDBOptions struct {
	CustomSetup    func(context.Context, *storage.SQLiteStorage) error
	Schema         model.Schema
	SourceFile     string
	Records        []model.CanonicalRecord
	SkipMigrations bool
}

// SetupTestDBWithOptions creates a test database with custom options.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	ctx := context.Background()

	if !opts.SkipMigrations {
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
	}

	if len(opts.Records) > 0 {
		if err := store.UpsertFrom(ctx, opts.Schema, opts.SourceFile, opts.Records); err != nil {
			t.Fatalf("failed to seed catalog: %v", err)
		}
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}

	return &TestDB{
		Storage: store,
		Seeded:  opts.Records,
		t:       t,
	}
}

// MustCount returns the number of catalog entries or fails the test.
func (db *TestDB) MustCount() int {
	db.t.Helper()
	n, err := db.Storage.CountRecords(context.Background())
	if err != nil {
		db.t.Fatalf("failed to count catalog entries: %v", err)
	}
	return n
}

// MustGet returns the stored entry for key or fails the test.
func (db *TestDB) MustGet(key string) *model.StoredRecord {
	db.t.Helper()
	rec, err := db.Storage.GetRecord(context.Background(), key)
	if err != nil {
		db.t.Fatalf("failed to get %s: %v", key, err)
	}
	return rec
}
