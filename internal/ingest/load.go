package ingest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/Veraticus/smeta/internal/coerce"
	"github.com/Veraticus/smeta/internal/common"
	"github.com/Veraticus/smeta/internal/mapping"
	"github.com/Veraticus/smeta/internal/model"
)

// Options configures the file to records pipeline.
type Options struct {
	// Registry overrides the built-in alias tables when non-nil.
	Registry mapping.Registry
	// Policy overrides the schema's built-in coercion policy when non-nil.
	Policy *coerce.Policy
	Schema model.Schema
}

// LoadResult is the outcome of turning one file into canonical records.
type LoadResult struct {
	Source   string
	Schema   model.Schema
	Mapping  mapping.Mapping
	Records  []model.CanonicalRecord
	Lines    []int
	Warnings []error
	RowCount int
	Dropped  int
}

// Load reads a file from disk and coerces its rows.
func Load(path string, opts Options) (*LoadResult, error) {
	table, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromTable(filepath.Base(path), table, opts)
}

// LoadReader is Load for an already open stream, such as an upload.
func LoadReader(name string, r io.Reader, opts Options) (*LoadResult, error) {
	table, err := Read(name, r)
	if err != nil {
		return nil, err
	}
	return FromTable(filepath.Base(name), table, opts)
}

// FromTable maps and coerces a parsed table. Rows without a name are dropped
// quietly; other row failures become warnings. It fails only when the schema
// requires a key and no column supplies one.
func FromTable(source string, t *Table, opts Options) (*LoadResult, error) {
	schema := opts.Schema
	if schema == "" {
		schema = model.SchemaMaterial
	}
	registry := opts.Registry
	if registry == nil {
		registry = mapping.DefaultRegistry()
	}
	policy := coerce.PolicyFor(schema)
	if opts.Policy != nil {
		policy = *opts.Policy
	}

	m := mapping.BuildMapping(t.Headers, registry.TableFor(schema))
	if policy.RequireKey && !m.Has(model.FieldKey) {
		return nil, common.NewUserError("the file has no key column",
			fmt.Errorf("%w: no header maps to %s", common.ErrValidation, model.FieldKey))
	}

	res := &LoadResult{
		Source:   source,
		Schema:   schema,
		Mapping:  m,
		RowCount: len(t.Rows),
		Warnings: append([]error(nil), t.Warnings...),
		Records:  make([]model.CanonicalRecord, 0, len(t.Rows)),
		Lines:    make([]int, 0, len(t.Rows)),
	}

	if _, ok := policy.Defaults[model.FieldName]; !ok && !m.Has(model.FieldName) {
		res.Warnings = append(res.Warnings, fmt.Errorf("%w: no header maps to %s, every row will be dropped",
			common.ErrValidation, model.FieldName))
	}

	for i, row := range t.Rows {
		rec, err := coerce.Record(row.Line, row.Cells, m, policy)
		if err != nil {
			res.Dropped++
			if errors.Is(err, common.ErrMissingName) {
				slog.Debug("Dropping row without name", "source", source, "line", row.Line)
				continue
			}
			res.Warnings = append(res.Warnings, err)
			continue
		}
		if policy.NumberPositions && rec.Position == nil {
			rec.Position = model.IntPtr(i + 1)
		}
		res.Records = append(res.Records, rec)
		res.Lines = append(res.Lines, row.Line)
	}

	slog.Debug("Loaded import file",
		"source", source,
		"schema", schema,
		"rows", res.RowCount,
		"records", len(res.Records),
		"dropped", res.Dropped,
		"unmapped", len(m.Unmapped))

	return res, nil
}
