// Package storage provides the SQLite persistence layer for the catalog.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/smeta/internal/model"
)

// Validation errors.
var (
	ErrNilContext       = errors.New("context cannot be nil")
	ErrEmptyString      = errors.New("string parameter cannot be empty")
	ErrNilParameter     = errors.New("parameter cannot be nil")
	ErrInvalidRecord    = errors.New("invalid catalog record")
	ErrInvalidImportRun = errors.New("invalid import run")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateRecords checks every record has the columns the table requires.
func validateRecords(records []model.CanonicalRecord) error {
	for i := range records {
		if strings.TrimSpace(records[i].Key) == "" {
			return fmt.Errorf("%w: record at index %d: missing key", ErrInvalidRecord, i)
		}
		if strings.TrimSpace(records[i].Name) == "" {
			return fmt.Errorf("%w: record %s: missing name", ErrInvalidRecord, records[i].Key)
		}
	}
	return nil
}

// validateImportRun validates an import run before it is saved.
func validateImportRun(run *model.ImportRun) error {
	if run == nil {
		return fmt.Errorf("%w: import run", ErrNilParameter)
	}
	if run.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidImportRun)
	}
	if run.StartedAt.IsZero() || run.FinishedAt.IsZero() {
		return fmt.Errorf("%w: missing timestamps", ErrInvalidImportRun)
	}
	if run.FinishedAt.Before(run.StartedAt) {
		return fmt.Errorf("%w: finished before it started", ErrInvalidImportRun)
	}
	return nil
}
