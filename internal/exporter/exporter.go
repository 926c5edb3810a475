// Package exporter writes edited record collections back out as XLSX or CSV
// using the same column headers the material importer recognizes.
package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Veraticus/smeta/internal/model"
)

// SheetName is the worksheet title used for XLSX exports.
const SheetName = "Материалы"

// column describes one exported column.
type column struct {
	value  func(idx int, r model.CanonicalRecord) any
	header string
	width  float64
}

var columns = []column{
	{header: "№", width: 5, value: func(idx int, r model.CanonicalRecord) any {
		if r.Position != nil {
			return *r.Position
		}
		return idx + 1
	}},
	{header: "Наименование", width: 40, value: func(_ int, r model.CanonicalRecord) any { return r.Name }},
	{header: "Тип, марка", width: 15, value: text(func(r model.CanonicalRecord) *string { return r.TypeMark })},
	{header: "Код", width: 15, value: text(func(r model.CanonicalRecord) *string { return r.Code })},
	{header: "Производитель", width: 20, value: text(func(r model.CanonicalRecord) *string { return r.Manufacturer })},
	{header: "Ед. изм.", width: 10, value: text(func(r model.CanonicalRecord) *string { return r.Unit })},
	{header: "Кол-во", width: 10, value: number(func(r model.CanonicalRecord) *float64 { return r.Quantity })},
	{header: "Спецификация", width: 15, value: text(func(r model.CanonicalRecord) *string { return r.SpecRef })},
	{header: "Цена", width: 12, value: number(func(r model.CanonicalRecord) *float64 { return r.Price })},
	{header: "Основание", width: 15, value: text(func(r model.CanonicalRecord) *string { return r.PriceSource })},
	{header: "Примечания", width: 30, value: text(func(r model.CanonicalRecord) *string { return r.Notes })},
}

func text(get func(model.CanonicalRecord) *string) func(int, model.CanonicalRecord) any {
	return func(_ int, r model.CanonicalRecord) any {
		return model.Deref(get(r))
	}
}

// number leaves absent values as empty strings so the cell stays blank.
func number(get func(model.CanonicalRecord) *float64) func(int, model.CanonicalRecord) any {
	return func(_ int, r model.CanonicalRecord) any {
		if v := get(r); v != nil {
			return *v
		}
		return ""
	}
}

// Headers returns the exported column headers in order.
func Headers() []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = c.header
	}
	return out
}

// WriteXLSX writes records as a single-sheet workbook.
func WriteXLSX(w io.Writer, records []model.CanonicalRecord) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c.header
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	last, err := excelize.ColumnNumberToName(len(columns))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, "A1", last+"1", bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, c := range columns {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(SheetName, name, name, c.width); err != nil {
			return fmt.Errorf("failed to set width of %s: %w", c.header, err)
		}
	}

	for idx, r := range records {
		row := make([]any, len(columns))
		for i, c := range columns {
			row[i] = c.value(idx, r)
		}
		cell, err := excelize.CoordinatesToCellName(1, idx+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", idx+1, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// WriteCSV writes records as comma separated values. The output starts with
// a UTF-8 byte order mark so spreadsheet programs detect the encoding.
func WriteCSV(w io.Writer, records []model.CanonicalRecord) error {
	if _, err := io.WriteString(w, "\ufeff"); err != nil {
		return fmt.Errorf("failed to write BOM: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Headers()); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	line := make([]string, len(columns))
	for idx, r := range records {
		for i, c := range columns {
			line[i] = format(c.value(idx, r))
		}
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("failed to write row %d: %w", idx+1, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Write picks the encoding from a file name extension.
func Write(name string, w io.Writer, records []model.CanonicalRecord) error {
	switch {
	case strings.HasSuffix(strings.ToLower(name), ".csv"):
		return WriteCSV(w, records)
	default:
		return WriteXLSX(w, records)
	}
}

func format(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
