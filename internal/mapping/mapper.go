// Package mapping resolves arbitrary spreadsheet headers onto canonical
// record fields.
package mapping

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/Veraticus/smeta/internal/model"
)

// Method records how a header was resolved.
type Method string

// Resolution methods, in the order they are attempted.
const (
	MethodExact    Method = "exact"
	MethodFolded   Method = "case_insensitive"
	MethodContains Method = "contains"
)

// Column is the resolution of one header. Field is empty for unmapped headers.
type Column struct {
	Header     string      `json:"header"`
	Normalized string      `json:"normalized"`
	Field      model.Field `json:"field,omitempty"`
	Alias      string      `json:"alias,omitempty"`
	Method     Method      `json:"method,omitempty"`
	Index      int         `json:"index"`
}

// Mapped reports whether the column feeds a canonical field.
func (c Column) Mapped() bool {
	return c.Field != "" && c.Field != Skip
}

// Mapping is the immutable header resolution for one import file.
type Mapping struct {
	Columns  []Column `json:"columns"`
	Unmapped []string `json:"unmapped"`
}

// FieldAt returns the field fed by the column at index i.
func (m Mapping) FieldAt(i int) (model.Field, bool) {
	if i < 0 || i >= len(m.Columns) || !m.Columns[i].Mapped() {
		return "", false
	}
	return m.Columns[i].Field, true
}

// ByHeader returns the header to field map of all mapped columns. When two
// columns share a header text, the later one wins.
func (m Mapping) ByHeader() map[string]model.Field {
	out := make(map[string]model.Field, len(m.Columns))
	for _, c := range m.Columns {
		if c.Mapped() {
			out[c.Header] = c.Field
		}
	}
	return out
}

// Has reports whether any column feeds f.
func (m Mapping) Has(f model.Field) bool {
	for _, c := range m.Columns {
		if c.Field == f {
			return true
		}
	}
	return false
}

// Mapper resolves headers against one alias table. It is safe for
// concurrent use once built.
type Mapper struct {
	exact  map[string]Alias
	folded map[string]Alias
	table  []foldedAlias
}

type foldedAlias struct {
	folded string
	Alias
}

// NewMapper prepares an alias table for lookups. Earlier aliases win over
// later ones carrying the same label.
func NewMapper(table AliasTable) *Mapper {
	m := &Mapper{
		exact:  make(map[string]Alias, len(table)),
		folded: make(map[string]Alias, len(table)),
		table:  make([]foldedAlias, 0, len(table)),
	}
	for _, a := range table {
		label := Normalize(a.Label)
		if label == "" {
			continue
		}
		f := fold(label)
		if _, ok := m.exact[label]; !ok {
			m.exact[label] = a
		}
		if _, ok := m.folded[f]; !ok {
			m.folded[f] = a
		}
		m.table = append(m.table, foldedAlias{folded: f, Alias: a})
	}
	return m
}

// Resolve maps a single header. The boolean is false for unmapped headers.
func (m *Mapper) Resolve(header string) (Column, bool) {
	col := Column{Header: header, Normalized: Normalize(header)}
	if col.Normalized == "" {
		return col, false
	}

	if a, ok := m.exact[col.Normalized]; ok {
		col.Field, col.Alias, col.Method = a.Field, a.Label, MethodExact
		return col, true
	}

	f := fold(col.Normalized)
	if a, ok := m.folded[f]; ok {
		col.Field, col.Alias, col.Method = a.Field, a.Label, MethodFolded
		return col, true
	}

	for _, a := range m.table {
		if strings.Contains(f, a.folded) || strings.Contains(a.folded, f) {
			col.Field, col.Alias, col.Method = a.Field, a.Label, MethodContains
			return col, true
		}
	}

	return col, false
}

// Build resolves every header of a file, preserving column order.
func (m *Mapper) Build(headers []string) Mapping {
	out := Mapping{
		Columns:  make([]Column, len(headers)),
		Unmapped: []string{},
	}
	for i, h := range headers {
		col, ok := m.Resolve(h)
		col.Index = i
		out.Columns[i] = col
		if !ok {
			out.Unmapped = append(out.Unmapped, h)
		}
	}
	return out
}

// BuildMapping resolves headers against table.
func BuildMapping(headers []string, table AliasTable) Mapping {
	return NewMapper(table).Build(headers)
}

func fold(s string) string {
	return cases.Fold().String(s)
}
