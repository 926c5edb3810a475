package mapping

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Veraticus/smeta/internal/model"
)

// Skip marks a known column whose values are intentionally discarded. Skipped
// columns are not reported as unmapped.
const Skip model.Field = "-"

// ErrInvalidAliasFile is returned when an alias override file cannot be used.
var ErrInvalidAliasFile = errors.New("invalid alias file")

// Alias binds one header label to a canonical field.
type Alias struct {
	Label string      `yaml:"label"`
	Field model.Field `yaml:"field"`
}

// AliasTable is an ordered list of aliases. Order decides which alias wins
// when a header matches several of them by containment, so more specific
// labels come before the shorter labels they contain.
type AliasTable []Alias

// EquipmentAliases covers equipment specification sheets.
var EquipmentAliases = AliasTable{
	{"Позиция", model.FieldPosition},
	{"Наименования и технические характеристики", model.FieldName},
	{"Наименование и техническая характеристика", model.FieldName},
	{"Тип, марка, обозначение документов, опросного листа", model.FieldTypeMark},
	{"Код оборудования, изделия, материалов, № опросного листа", model.FieldCode},
	{"Завод изготовитель", model.FieldManufacturer},
	{"Завод-изготовитель", model.FieldManufacturer},
	{"Единица измерения", model.FieldUnit},
	{"Кол-во", model.FieldQuantity},
	{"Количество", model.FieldQuantity},
	{"Масса единицы, кг", model.FieldNotes},
	{"Примечание", model.FieldNotes},
}

// MaterialAliases covers material estimates and price lists.
var MaterialAliases = AliasTable{
	{"Позиция", model.FieldPosition},
	{"Наименования", model.FieldName},
	{"Наименование", model.FieldName},
	{"Тип, марка", model.FieldTypeMark},
	{"Тип/марка", model.FieldTypeMark},
	{"Код оборудования", model.FieldCode},
	{"Артикул", model.FieldCode},
	{"Код", model.FieldCode},
	{"Завод изготовитель", model.FieldManufacturer},
	{"Производитель", model.FieldManufacturer},
	{"Завод", model.FieldManufacturer},
	{"Единица измерения", model.FieldUnit},
	{"Ед. изм.", model.FieldUnit},
	{"Ед.", model.FieldUnit},
	{"Количество", model.FieldQuantity},
	{"Кол-во", model.FieldQuantity},
	{"Спецификация", model.FieldSpecRef},
	{"Узел", model.FieldSpecRef},
	{"Стоимость", model.FieldPrice},
	{"Цена", model.FieldPrice},
	{"Основание", model.FieldPriceSource},
	{"Источник", model.FieldPriceSource},
	{"Примечания", model.FieldNotes},
	{"Примечание", model.FieldNotes},
	{"Name", model.FieldName},
	{"Manufacturer", model.FieldManufacturer},
	{"Quantity", model.FieldQuantity},
	{"Price", model.FieldPrice},
	{"Unit", model.FieldUnit},
	{"№", model.FieldPosition},
}

// ProductAliases covers product catalog exports keyed by an id column.
var ProductAliases = AliasTable{
	{"id", model.FieldKey},
	{"name", model.FieldName},
	{"Наименование", model.FieldName},
	{"brand_code", Skip},
	{"brand", model.FieldManufacturer},
	{"Бренд", model.FieldManufacturer},
	{"article", model.FieldCode},
	{"Артикул", model.FieldCode},
	{"cli_code", model.FieldProductCode},
	{"class_code", Skip},
	{"class", model.FieldCategory},
	{"Класс", model.FieldCategory},
	{"price", model.FieldPrice},
	{"unit", model.FieldUnit},
}

// Registry holds one alias table per schema variant.
type Registry map[model.Schema]AliasTable

// DefaultRegistry returns the built-in alias tables.
func DefaultRegistry() Registry {
	return Registry{
		model.SchemaEquipment: EquipmentAliases,
		model.SchemaMaterial:  MaterialAliases,
		model.SchemaProduct:   ProductAliases,
	}
}

// TableFor returns the alias table for a schema, or nil when none is registered.
func (r Registry) TableFor(schema model.Schema) AliasTable {
	return r[schema]
}

// Merge returns a registry in which the aliases of other are tried before
// the aliases of r for each schema.
func (r Registry) Merge(other Registry) Registry {
	out := make(Registry, len(r))
	for schema, table := range r {
		out[schema] = append(AliasTable(nil), table...)
	}
	for schema, table := range other {
		merged := make(AliasTable, 0, len(table)+len(out[schema]))
		merged = append(merged, table...)
		merged = append(merged, out[schema]...)
		out[schema] = merged
	}
	return out
}

// LoadRegistry reads alias overrides from a YAML file of the form
//
//	material:
//	  - label: Цена с НДС
//	    field: price
func LoadRegistry(path string) (Registry, error) {
	// #nosec G304 - path comes from local configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alias file: %w", err)
	}

	var raw map[string]AliasTable
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAliasFile, err)
	}

	reg := make(Registry, len(raw))
	for name, table := range raw {
		schema, err := model.ParseSchema(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAliasFile, err)
		}
		for i, a := range table {
			if Normalize(a.Label) == "" {
				return nil, fmt.Errorf("%w: %s entry %d has an empty label", ErrInvalidAliasFile, name, i+1)
			}
			if a.Field != Skip && !a.Field.Valid() {
				return nil, fmt.Errorf("%w: %s entry %d: unknown field %q", ErrInvalidAliasFile, name, i+1, a.Field)
			}
		}
		reg[schema] = table
	}
	return reg, nil
}
