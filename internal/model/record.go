package model

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// CanonicalRecord is the normalized representation of one imported row.
// Optional attributes are nil when the source cell was empty or unparseable.
type CanonicalRecord struct {
	Position     *int     `json:"position,omitempty"`
	TypeMark     *string  `json:"type_mark,omitempty"`
	Code         *string  `json:"code,omitempty"`
	Manufacturer *string  `json:"manufacturer,omitempty"`
	Unit         *string  `json:"unit,omitempty"`
	Quantity     *float64 `json:"quantity,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	PriceSource  *string  `json:"price_source,omitempty"`
	ProductCode  *string  `json:"product_code,omitempty"`
	SpecRef      *string  `json:"spec_ref,omitempty"`
	Category     *string  `json:"category,omitempty"`
	Notes        *string  `json:"notes,omitempty"`
	Key          string   `json:"key"`
	Name         string   `json:"name"`
}

// Clone returns a deep copy that shares no pointers with r.
func (r CanonicalRecord) Clone() CanonicalRecord {
	c := r
	c.Position = clonePtr(r.Position)
	c.TypeMark = clonePtr(r.TypeMark)
	c.Code = clonePtr(r.Code)
	c.Manufacturer = clonePtr(r.Manufacturer)
	c.Unit = clonePtr(r.Unit)
	c.Quantity = clonePtr(r.Quantity)
	c.Price = clonePtr(r.Price)
	c.PriceSource = clonePtr(r.PriceSource)
	c.ProductCode = clonePtr(r.ProductCode)
	c.SpecRef = clonePtr(r.SpecRef)
	c.Category = clonePtr(r.Category)
	c.Notes = clonePtr(r.Notes)
	return c
}

// GenerateKey derives a stable natural key from the identifying attributes.
// It is used for schema variants whose source files carry no key column.
func (r CanonicalRecord) GenerateKey() string {
	data := fmt.Sprintf("%s:%s:%s:%s",
		strings.ToLower(r.Name),
		strings.ToLower(Deref(r.TypeMark)),
		strings.ToLower(Deref(r.Code)),
		strings.ToLower(Deref(r.Manufacturer)))
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash[:16])
}

// Get returns the value of a field as a plain Go value, or nil when absent.
func (r CanonicalRecord) Get(f Field) any {
	switch f {
	case FieldKey:
		if r.Key == "" {
			return nil
		}
		return r.Key
	case FieldName:
		return r.Name
	case FieldPosition:
		if r.Position == nil {
			return nil
		}
		return *r.Position
	case FieldQuantity:
		return derefAny(r.Quantity)
	case FieldPrice:
		return derefAny(r.Price)
	}
	if p := r.textField(f); p != nil {
		return derefAny(*p)
	}
	return nil
}

// Set applies a single typed edit. A nil value clears the field. Text values
// are trimmed and an empty result clears the field, except for name which
// must stay non-empty.
func (r *CanonicalRecord) Set(f Field, value any) error {
	if !f.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownField, f)
	}

	switch f.Kind() {
	case KindInteger:
		n, err := toInt(value)
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
		r.Position = n
		return nil
	case KindDecimal:
		n, err := toFloat(value)
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
		if f == FieldQuantity {
			r.Quantity = n
		} else {
			r.Price = n
		}
		return nil
	}

	s, err := toText(value)
	if err != nil {
		return fmt.Errorf("%s: %w", f, err)
	}
	switch f {
	case FieldName:
		if s == nil {
			return ErrEmptyName
		}
		r.Name = *s
	case FieldKey:
		r.Key = Deref(s)
	default:
		*r.textField(f) = s
	}
	return nil
}

func (r *CanonicalRecord) textField(f Field) **string {
	switch f {
	case FieldTypeMark:
		return &r.TypeMark
	case FieldCode:
		return &r.Code
	case FieldManufacturer:
		return &r.Manufacturer
	case FieldUnit:
		return &r.Unit
	case FieldPriceSource:
		return &r.PriceSource
	case FieldProductCode:
		return &r.ProductCode
	case FieldSpecRef:
		return &r.SpecRef
	case FieldCategory:
		return &r.Category
	case FieldNotes:
		return &r.Notes
	}
	return nil
}

// Deref returns the pointed-to string or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// FloatPtr returns a pointer to f.
func FloatPtr(f float64) *float64 {
	return &f
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func derefAny[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func toText(value any) (*string, error) {
	var s string
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		s = v
	case *string:
		if v == nil {
			return nil, nil
		}
		s = *v
	case fmt.Stringer:
		s = v.String()
	case float64, int, int64:
		s = fmt.Sprint(v)
	default:
		return nil, fmt.Errorf("%w: %T", ErrFieldType, value)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

func toFloat(value any) (*float64, error) {
	var f float64
	switch v := value.(type) {
	case nil:
		return nil, nil
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case *float64:
		if v == nil {
			return nil, nil
		}
		f = *v
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFieldType, err)
		}
		f = parsed
	default:
		return nil, fmt.Errorf("%w: %T", ErrFieldType, value)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, nil
	}
	return &f, nil
}

func toInt(value any) (*int, error) {
	switch v := value.(type) {
	case int:
		return &v, nil
	case *int:
		if v == nil {
			return nil, nil
		}
		n := *v
		return &n, nil
	}
	f, err := toFloat(value)
	if err != nil || f == nil {
		return nil, err
	}
	if *f != math.Trunc(*f) {
		return nil, fmt.Errorf("%w: %v is not a whole number", ErrFieldType, *f)
	}
	n := int(*f)
	return &n, nil
}
