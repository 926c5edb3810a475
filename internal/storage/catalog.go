package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/smeta/internal/common"
	"github.com/Veraticus/smeta/internal/model"
	"github.com/Veraticus/smeta/internal/service"
)

// selectChunk keeps IN (...) lists under SQLite's bound parameter limit.
const selectChunk = 500

const catalogColumns = `key, schema, source_file, position, name, type_mark, code, manufacturer,
	unit, quantity, price, price_source, product_code, spec_ref, category, notes,
	created_at, updated_at`

// SelectExisting returns the subset of keys already present in the catalog.
func (s *SQLiteStorage) SelectExisting(ctx context.Context, keys []string) (map[string]struct{}, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	existing := make(map[string]struct{}, len(keys))
	for start := 0; start < len(keys); start += selectChunk {
		chunk := keys[start:min(start+selectChunk, len(keys))]

		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		// #nosec G202 - only placeholders are concatenated
		rows, err := s.db.QueryContext(ctx,
			"SELECT key FROM catalog_entries WHERE key IN ("+placeholders+")", args...)
		if err != nil {
			return nil, classifyError(fmt.Errorf("failed to query existing keys: %w", err))
		}

		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to scan key: %w", err)
			}
			existing[key] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, classifyError(err)
		}
		_ = rows.Close()
	}

	return existing, nil
}

// Upsert inserts or replaces records by key without changing their schema
// or source file tags.
func (s *SQLiteStorage) Upsert(ctx context.Context, records []model.CanonicalRecord) error {
	return s.UpsertFrom(ctx, "", "", records)
}

// UpsertFrom inserts or replaces records by key in a single transaction,
// tagging them with schema and source file when those are non-empty.
func (s *SQLiteStorage) UpsertFrom(ctx context.Context, schema model.Schema, sourceFile string, records []model.CanonicalRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO catalog_entries (
			key, schema, source_file, position, name, type_mark, code, manufacturer,
			unit, quantity, price, price_source, product_code, spec_ref, category, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			schema = COALESCE(NULLIF(excluded.schema, ''), catalog_entries.schema),
			source_file = COALESCE(NULLIF(excluded.source_file, ''), catalog_entries.source_file),
			position = excluded.position,
			name = excluded.name,
			type_mark = excluded.type_mark,
			code = excluded.code,
			manufacturer = excluded.manufacturer,
			unit = excluded.unit,
			quantity = excluded.quantity,
			price = excluded.price,
			price_source = excluded.price_source,
			product_code = excluded.product_code,
			spec_ref = excluded.spec_ref,
			category = excluded.category,
			notes = excluded.notes,
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return classifyError(fmt.Errorf("failed to prepare statement: %w", err))
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.Key,
			string(schema),
			sourceFile,
			nullInt(r.Position),
			r.Name,
			nullString(r.TypeMark),
			nullString(r.Code),
			nullString(r.Manufacturer),
			nullString(r.Unit),
			nullFloat(r.Quantity),
			nullFloat(r.Price),
			nullString(r.PriceSource),
			nullString(r.ProductCode),
			nullString(r.SpecRef),
			nullString(r.Category),
			nullString(r.Notes),
		)
		if err != nil {
			return classifyError(fmt.Errorf("failed to upsert %s: %w", r.Key, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return classifyError(fmt.Errorf("failed to commit upsert: %w", err))
	}
	return nil
}

// DeleteAll removes every catalog entry.
func (s *SQLiteStorage) DeleteAll(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM catalog_entries"); err != nil {
		return classifyError(fmt.Errorf("failed to delete catalog entries: %w", err))
	}
	return nil
}

// DeleteByKey removes one catalog entry.
func (s *SQLiteStorage) DeleteByKey(ctx context.Context, key string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(key, "key"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM catalog_entries WHERE key = ?", key)
	if err != nil {
		return classifyError(fmt.Errorf("failed to delete %s: %w", key, err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("catalog entry %s: %w", key, common.ErrNotFound)
	}
	return nil
}

// GetRecord retrieves one catalog entry by key.
func (s *SQLiteStorage) GetRecord(ctx context.Context, key string) (*model.StoredRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(key, "key"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+catalogColumns+" FROM catalog_entries WHERE key = ?", key)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog entry %s: %w", key, common.ErrNotFound)
	}
	if err != nil {
		return nil, classifyError(err)
	}
	return rec, nil
}

// ListRecords returns catalog entries in name order. Search matches name,
// code or manufacturer as a substring.
func (s *SQLiteStorage) ListRecords(ctx context.Context, filter service.CatalogFilter) ([]model.StoredRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.Schema != "" {
		where = append(where, "schema = ?")
		args = append(args, string(filter.Schema))
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		where = append(where, "(name LIKE ? OR code LIKE ? OR manufacturer LIKE ?)")
		like := "%" + q + "%"
		args = append(args, like, like, like)
	}

	query := "SELECT " + catalogColumns + " FROM catalog_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name, key"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, max(filter.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to query catalog: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var out []model.StoredRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// ListCatalog returns the matching view of every entry in insertion order.
func (s *SQLiteStorage) ListCatalog(ctx context.Context) ([]model.CatalogEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT "+catalogColumns+" FROM catalog_entries ORDER BY rowid")
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to query catalog: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var out []model.CatalogEntry
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec.Entry())
	}
	return out, rows.Err()
}

// CountRecords returns the number of catalog entries.
func (s *SQLiteStorage) CountRecords(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM catalog_entries").Scan(&n); err != nil {
		return 0, classifyError(fmt.Errorf("failed to count catalog entries: %w", err))
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*model.StoredRecord, error) {
	var (
		rec                                         model.StoredRecord
		schema                                      string
		position                                    sql.NullInt64
		quantity, price                             sql.NullFloat64
		typeMark, code, manufacturer, unit          sql.NullString
		priceSource, productCode, specRef, category sql.NullString
		notes                                       sql.NullString
	)

	err := sc.Scan(
		&rec.Key, &schema, &rec.SourceFile, &position, &rec.Name,
		&typeMark, &code, &manufacturer, &unit, &quantity, &price,
		&priceSource, &productCode, &specRef, &category, &notes,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan catalog entry: %w", err)
	}

	rec.Schema = model.Schema(schema)
	if position.Valid {
		rec.Position = model.IntPtr(int(position.Int64))
	}
	if quantity.Valid {
		rec.Quantity = model.FloatPtr(quantity.Float64)
	}
	if price.Valid {
		rec.Price = model.FloatPtr(price.Float64)
	}
	rec.TypeMark = stringPtr(typeMark)
	rec.Code = stringPtr(code)
	rec.Manufacturer = stringPtr(manufacturer)
	rec.Unit = stringPtr(unit)
	rec.PriceSource = stringPtr(priceSource)
	rec.ProductCode = stringPtr(productCode)
	rec.SpecRef = stringPtr(specRef)
	rec.Category = stringPtr(category)
	rec.Notes = stringPtr(notes)
	return &rec, nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return model.StringPtr(ns.String)
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}
