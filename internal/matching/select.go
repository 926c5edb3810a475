package matching

import "github.com/Veraticus/smeta/internal/model"

// SelectMatch copies the commercial fields of a chosen catalog entry onto a
// copy of rec. Empty code and manufacturer clear the record's values; the unit
// is kept when the entry has none; non-positive prices are dropped.
func SelectMatch(rec model.CanonicalRecord, entry model.CatalogEntry) model.CanonicalRecord {
	out := rec.Clone()

	out.Code = optional(entry.Code)
	out.Manufacturer = optional(entry.Manufacturer)
	if entry.Unit != "" {
		out.Unit = model.StringPtr(entry.Unit)
	}
	if entry.Price != nil && *entry.Price > 0 {
		out.Price = model.FloatPtr(*entry.Price)
	} else {
		out.Price = nil
	}
	out.PriceSource = optional(entry.Source)
	out.ProductCode = optional(entry.Key)

	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return model.StringPtr(s)
}
