package testutil

import "github.com/Veraticus/smeta/internal/model"

// Fixture is a predefined catalog for tests.
type Fixture interface {
	Name() string
	Records() []model.CanonicalRecord
}

type fixture struct {
	name    string
	records []model.CanonicalRecord
}

func (f *fixture) Name() string { return f.name }

// Records returns a deep copy so tests can modify the result.
func (f *fixture) Records() []model.CanonicalRecord {
	out := make([]model.CanonicalRecord, len(f.records))
	for i, r := range f.records {
		out[i] = r.Clone()
	}
	return out
}

func entry(key, name, code, manufacturer string, price float64) model.CanonicalRecord {
	rec := model.CanonicalRecord{
		Key:  key,
		Name: name,
		Unit: model.StringPtr("шт."),
	}
	if code != "" {
		rec.Code = model.StringPtr(code)
	}
	if manufacturer != "" {
		rec.Manufacturer = model.StringPtr(manufacturer)
	}
	if price > 0 {
		rec.Price = model.FloatPtr(price)
	}
	return rec
}

// Predefined fixtures.
var (
	// FixtureLighting is a small luminaire catalog with overlapping names.
	FixtureLighting Fixture = &fixture{
		name: "Lighting",
		records: []model.CanonicalRecord{
			entry("L1", "Светильник светодиодный ДПО 36Вт", "DPO-36", "Световые технологии", 2450),
			entry("L2", "Светильник светодиодный ДВО 18Вт", "DVO-18", "Ардатов", 1320),
			entry("L3", "Прожектор светодиодный 50Вт", "PR-50", "Световые технологии", 3100),
			entry("L4", "Светильник аварийный", "", "", 0),
		},
	}

	// FixtureCables is a cable and wiring catalog.
	FixtureCables Fixture = &fixture{
		name: "Cables",
		records: []model.CanonicalRecord{
			entry("C1", "Кабель ВВГнг-LS 3x2,5", "VVG-325", "Кольчугино", 87.5),
			entry("C2", "Кабель ВВГнг-LS 5x4", "VVG-54", "Кольчугино", 210),
			entry("C3", "Провод ПуГВ 1x1,5", "PUGV-15", "Энергокабель", 19.9),
		},
	}
)
