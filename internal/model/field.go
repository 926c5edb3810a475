// Package model defines the core domain types shared across the application.
package model

import (
	"errors"
	"fmt"
	"strings"
)

// Field identifies a canonical record attribute.
type Field string

// Canonical fields, in export order.
const (
	FieldKey          Field = "key"
	FieldPosition     Field = "position"
	FieldName         Field = "name"
	FieldTypeMark     Field = "type_mark"
	FieldCode         Field = "code"
	FieldManufacturer Field = "manufacturer"
	FieldUnit         Field = "unit"
	FieldQuantity     Field = "quantity"
	FieldPrice        Field = "price"
	FieldPriceSource  Field = "price_source"
	FieldProductCode  Field = "product_code"
	FieldSpecRef      Field = "spec_ref"
	FieldCategory     Field = "category"
	FieldNotes        Field = "notes"
)

// FieldKind describes how a raw cell is coerced into a field.
type FieldKind int

const (
	// KindText fields are trimmed strings; empty becomes absent.
	KindText FieldKind = iota
	// KindInteger fields hold whole numbers.
	KindInteger
	// KindDecimal fields hold fractional numbers.
	KindDecimal
)

// Field errors.
var (
	ErrUnknownField = errors.New("unknown field")
	ErrFieldType    = errors.New("value has wrong type for field")
	ErrEmptyName    = errors.New("name cannot be empty")
)

var fieldKinds = map[Field]FieldKind{
	FieldKey:          KindText,
	FieldPosition:     KindInteger,
	FieldName:         KindText,
	FieldTypeMark:     KindText,
	FieldCode:         KindText,
	FieldManufacturer: KindText,
	FieldUnit:         KindText,
	FieldQuantity:     KindDecimal,
	FieldPrice:        KindDecimal,
	FieldPriceSource:  KindText,
	FieldProductCode:  KindText,
	FieldSpecRef:      KindText,
	FieldCategory:     KindText,
	FieldNotes:        KindText,
}

// AllFields lists every canonical field in export order.
func AllFields() []Field {
	return []Field{
		FieldKey, FieldPosition, FieldName, FieldTypeMark, FieldCode,
		FieldManufacturer, FieldUnit, FieldQuantity, FieldPrice, FieldPriceSource,
		FieldProductCode, FieldSpecRef, FieldCategory, FieldNotes,
	}
}

// Kind returns the coercion kind of the field.
func (f Field) Kind() FieldKind {
	return fieldKinds[f]
}

// Numeric reports whether the field holds a number.
func (f Field) Numeric() bool {
	k := f.Kind()
	return k == KindInteger || k == KindDecimal
}

// Valid reports whether f is a known canonical field.
func (f Field) Valid() bool {
	_, ok := fieldKinds[f]
	return ok
}

// ParseField resolves a field name, accepting any letter case.
func ParseField(s string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, s)
	}
	return f, nil
}
