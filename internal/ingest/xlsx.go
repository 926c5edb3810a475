package ingest

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ReadXLSX parses the first worksheet of a workbook. The first non-empty row
// is the header; short data rows are padded with empty cells and cells past
// the last header are ignored.
func ReadXLSX(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	t := &Table{Sheet: sheet}
	for i, cells := range rows {
		if blank(cells) {
			continue
		}
		if t.Headers == nil {
			t.Headers = cells
			continue
		}

		aligned := make([]string, len(t.Headers))
		copy(aligned, cells)
		t.Rows = append(t.Rows, Row{Line: i + 1, Cells: aligned})
	}

	if t.Headers == nil {
		return nil, fmt.Errorf("sheet %q has no header row", sheet)
	}
	return t, nil
}
