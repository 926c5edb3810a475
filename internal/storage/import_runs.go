package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Veraticus/smeta/internal/model"
)

// SaveImportRun records the outcome of one import.
func (s *SQLiteStorage) SaveImportRun(ctx context.Context, run *model.ImportRun) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateImportRun(run); err != nil {
		return err
	}

	var errorsJSON sql.NullString
	if len(run.Errors) > 0 {
		data, err := json.Marshal(run.Errors)
		if err != nil {
			return fmt.Errorf("failed to marshal import errors: %w", err)
		}
		errorsJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO import_runs (
			id, source_file, schema, started_at, finished_at,
			total, inserted, updated, failed, skipped, cancelled, errors
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.SourceFile,
		string(run.Schema),
		run.StartedAt,
		run.FinishedAt,
		run.Total,
		run.Inserted,
		run.Updated,
		run.Failed,
		run.Skipped,
		run.Cancelled,
		errorsJSON,
	)
	if err != nil {
		return classifyError(fmt.Errorf("failed to save import run: %w", err))
	}
	return nil
}

// ListImportRuns returns the most recent import runs, newest first. A
// non-positive limit returns all of them.
func (s *SQLiteStorage) ListImportRuns(ctx context.Context, limit int) ([]model.ImportRun, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, source_file, schema, started_at, finished_at,
			total, inserted, updated, failed, skipped, cancelled, errors
		FROM import_runs
		ORDER BY started_at DESC, id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to query import runs: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var runs []model.ImportRun
	for rows.Next() {
		var (
			run        model.ImportRun
			schema     string
			errorsJSON sql.NullString
		)
		if err := rows.Scan(
			&run.ID, &run.SourceFile, &schema, &run.StartedAt, &run.FinishedAt,
			&run.Total, &run.Inserted, &run.Updated, &run.Failed, &run.Skipped,
			&run.Cancelled, &errorsJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan import run: %w", err)
		}
		run.Schema = model.Schema(schema)
		if errorsJSON.Valid && errorsJSON.String != "" {
			if err := json.Unmarshal([]byte(errorsJSON.String), &run.Errors); err != nil {
				slog.Warn("Failed to parse import run errors", "id", run.ID, "error", err)
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
