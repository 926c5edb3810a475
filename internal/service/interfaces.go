// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/smeta/internal/model"
)

// CatalogFilter narrows catalog listings.
type CatalogFilter struct {
	Schema model.Schema
	Search string
	Limit  int
	Offset int
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Catalog operations
	SelectExisting(ctx context.Context, keys []string) (map[string]struct{}, error)
	Upsert(ctx context.Context, records []model.CanonicalRecord) error
	UpsertFrom(ctx context.Context, schema model.Schema, sourceFile string, records []model.CanonicalRecord) error
	DeleteAll(ctx context.Context) error
	DeleteByKey(ctx context.Context, key string) error
	GetRecord(ctx context.Context, key string) (*model.StoredRecord, error)
	ListRecords(ctx context.Context, filter CatalogFilter) ([]model.StoredRecord, error)
	ListCatalog(ctx context.Context) ([]model.CatalogEntry, error)
	CountRecords(ctx context.Context) (int, error)

	// Import run history
	SaveImportRun(ctx context.Context, run *model.ImportRun) error
	ListImportRuns(ctx context.Context, limit int) ([]model.ImportRun, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
