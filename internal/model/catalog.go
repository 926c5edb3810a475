package model

import (
	"fmt"
	"strings"
	"time"
)

// Schema selects the alias table and coercion policy for an import file.
type Schema string

// Supported schema variants.
const (
	SchemaEquipment Schema = "equipment"
	SchemaMaterial  Schema = "material"
	SchemaProduct   Schema = "product"
)

// ParseSchema resolves a schema variant name.
func ParseSchema(s string) (Schema, error) {
	switch Schema(strings.ToLower(strings.TrimSpace(s))) {
	case SchemaEquipment:
		return SchemaEquipment, nil
	case SchemaMaterial:
		return SchemaMaterial, nil
	case SchemaProduct:
		return SchemaProduct, nil
	}
	return "", fmt.Errorf("unknown schema %q (want equipment, material or product)", s)
}

// CatalogEntry is the matching view of one persisted catalog row.
type CatalogEntry struct {
	Price        *float64 `json:"price,omitempty"`
	Key          string   `json:"key"`
	Name         string   `json:"name"`
	Code         string   `json:"code"`
	Manufacturer string   `json:"manufacturer"`
	Unit         string   `json:"unit"`
	Source       string   `json:"source"`
}

// Tier names the matching stage that produced a candidate.
type Tier string

// Matching tiers, in the order they are tried.
const (
	TierExact      Tier = "exact"
	TierKeyword    Tier = "keyword"
	TierSimilarity Tier = "similarity"
)

// CandidateMatch is one ranked catalog candidate for a free-text query.
type CandidateMatch struct {
	Tier  Tier         `json:"tier"`
	Entry CatalogEntry `json:"entry"`
	Score int          `json:"score"`
}

// StoredRecord is a persisted catalog row with bookkeeping columns.
type StoredRecord struct {
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Schema     Schema
	SourceFile string
	CanonicalRecord
}

// Entry projects a stored record onto the catalog view used for matching.
// Code falls back to the type mark and then to the key; source falls back
// to "catalog".
func (s StoredRecord) Entry() CatalogEntry {
	code := Deref(s.Code)
	if code == "" {
		code = Deref(s.TypeMark)
	}
	if code == "" {
		code = "ID" + s.Key
	}
	source := Deref(s.PriceSource)
	if source == "" {
		source = "catalog"
	}
	return CatalogEntry{
		Key:          s.Key,
		Name:         s.Name,
		Code:         code,
		Manufacturer: Deref(s.Manufacturer),
		Unit:         Deref(s.Unit),
		Price:        clonePtr(s.Price),
		Source:       source,
	}
}
