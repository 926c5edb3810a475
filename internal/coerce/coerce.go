// Package coerce converts raw spreadsheet cells into canonical record values.
package coerce

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/smeta/internal/common"
	"github.com/Veraticus/smeta/internal/mapping"
	"github.com/Veraticus/smeta/internal/model"
)

// Number parses a permissive numeric cell such as "1 234,50 руб." or
// "$12.99". Everything except digits, sign and separators is discarded.
// When both separators appear the last one is the decimal point and the
// others group thousands. The boolean is false when nothing parseable is left.
func Number(raw string) (float64, bool) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			b.WriteRune(r)
		}
	}
	s := strings.TrimRight(b.String(), ".,")
	if s == "" {
		return 0, false
	}

	if last := strings.LastIndexAny(s, ".,"); last >= 0 {
		intPart := strings.NewReplacer(".", "", ",", "").Replace(s[:last])
		s = intPart + "." + s[last+1:]
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// Integer parses a whole number. Fractional values are rejected.
func Integer(raw string) (int, bool) {
	f, ok := Number(raw)
	if !ok || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// Text trims a cell; an empty result is absent.
func Text(raw string) *string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	return &s
}

// Policy carries the per-schema coercion rules.
type Policy struct {
	// Defaults fill text fields that are still absent after coercion. A
	// default for name keeps nameless rows instead of dropping them.
	Defaults map[model.Field]string
	// RequireKey rejects rows without a key column value.
	RequireKey bool
	// DeriveKey fills a missing key with a content hash.
	DeriveKey bool
	// AbsolutePrice stores prices as absolute values.
	AbsolutePrice bool
	// NumberPositions gives rows without a position their 1-based ordinal.
	NumberPositions bool
}

// PolicyFor returns the built-in policy of a schema variant.
func PolicyFor(schema model.Schema) Policy {
	switch schema {
	case model.SchemaProduct:
		return Policy{
			RequireKey: true,
			Defaults: map[model.Field]string{
				model.FieldName:         "Не указано",
				model.FieldManufacturer: "Не указан",
				model.FieldCategory:     "Без категории",
			},
		}
	case model.SchemaMaterial:
		return Policy{
			DeriveKey:       true,
			AbsolutePrice:   true,
			NumberPositions: true,
			Defaults: map[model.Field]string{
				model.FieldUnit: "шт.",
			},
		}
	default:
		return Policy{DeriveKey: true}
	}
}

// Record coerces one source row. line is the 1-based source line used in
// error reports. When several columns feed the same field, the last non-empty
// value wins. Rows without a name fail with a validation error wrapping
// common.ErrMissingName unless the policy defaults the name.
func Record(line int, cells []string, m mapping.Mapping, p Policy) (model.CanonicalRecord, error) {
	var rec model.CanonicalRecord

	for i := range m.Columns {
		field, ok := m.FieldAt(i)
		if !ok || i >= len(cells) {
			continue
		}
		raw := cells[i]

		var err error
		switch field.Kind() {
		case model.KindInteger:
			if n, ok := Integer(raw); ok {
				err = rec.Set(field, n)
			}
		case model.KindDecimal:
			if f, ok := Number(raw); ok {
				if field == model.FieldPrice && p.AbsolutePrice {
					f = math.Abs(f)
				}
				err = rec.Set(field, f)
			}
		default:
			if s := Text(raw); s != nil {
				err = rec.Set(field, *s)
			}
		}
		if err != nil {
			return model.CanonicalRecord{}, &common.ValidationError{Row: line, Field: string(field), Err: err}
		}
	}

	for field, value := range p.Defaults {
		if rec.Get(field) == nil || (field == model.FieldName && rec.Name == "") {
			if err := rec.Set(field, value); err != nil {
				return model.CanonicalRecord{}, &common.ValidationError{Row: line, Field: string(field), Err: err}
			}
		}
	}

	if rec.Name == "" {
		return model.CanonicalRecord{}, &common.ValidationError{Row: line, Field: string(model.FieldName), Err: common.ErrMissingName}
	}

	if rec.Key == "" {
		switch {
		case p.RequireKey:
			return model.CanonicalRecord{}, &common.ValidationError{Row: line, Field: string(model.FieldKey), Err: common.ErrMissingKey}
		case p.DeriveKey:
			rec.Key = rec.GenerateKey()
		}
	}

	return rec, nil
}
