package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/Veraticus/smeta/internal/common"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadCSV parses delimited text. The delimiter is detected from the header
// line among comma, semicolon and tab. Rows whose column count differs from
// the header are skipped with a ParseError warning; blank rows are ignored.
func ReadCSV(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = detectDelimiter(data)
	cr.FieldsPerRecord = -1

	t := &Table{}
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				t.Warnings = append(t.Warnings, &common.ParseError{Row: pe.StartLine, Reason: pe.Err.Error()})
				continue
			}
			return nil, err
		}

		line, _ := cr.FieldPos(0)
		if t.Headers == nil {
			if blank(record) {
				continue
			}
			t.Headers = record
			continue
		}
		if blank(record) {
			continue
		}
		if len(record) != len(t.Headers) {
			t.Warnings = append(t.Warnings, &common.ParseError{
				Row:    line,
				Reason: fmt.Sprintf("wrong number of columns: expected %d, got %d", len(t.Headers), len(record)),
			})
			continue
		}
		t.Rows = append(t.Rows, Row{Line: line, Cells: record})
	}

	if t.Headers == nil {
		return nil, errors.New("file has no header row")
	}
	return t, nil
}

// detectDelimiter counts candidate separators on the first line, ignoring
// anything inside double quotes.
func detectDelimiter(data []byte) rune {
	counts := map[rune]int{',': 0, ';': 0, '\t': 0}
	inQuotes := false
	for _, b := range data {
		if b == '"' {
			inQuotes = !inQuotes
			continue
		}
		if inQuotes {
			continue
		}
		if b == '\n' {
			break
		}
		if _, ok := counts[rune(b)]; ok {
			counts[rune(b)]++
		}
	}

	best := ','
	for _, d := range []rune{';', '\t'} {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best
}
