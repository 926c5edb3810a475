// Package ingest reads tabular import files into header-aligned rows.
package ingest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Veraticus/smeta/internal/common"
)

// Row is one data row. Cells are aligned with the table headers; Line is the
// 1-based source line (or sheet row) for error reports.
type Row struct {
	Cells []string
	Line  int
}

// Table is a parsed import file.
type Table struct {
	Headers  []string
	Rows     []Row
	Warnings []error
	Sheet    string
}

// Format identifies a supported file type.
type Format string

// Supported formats.
const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DetectFormat picks a reader from the file name extension.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".tsv", ".txt":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: %q", common.ErrUnsupportedFormat, filepath.Ext(name))
}

// Read parses r according to the extension of name.
func Read(name string, r io.Reader) (*Table, error) {
	format, err := DetectFormat(name)
	if err != nil {
		return nil, err
	}

	var t *Table
	switch format {
	case FormatXLSX:
		t, err = ReadXLSX(r)
	default:
		t, err = ReadCSV(r)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", common.ErrUnreadableFile, filepath.Base(name), err)
	}
	return t, nil
}

// ReadFile opens and parses a file from disk.
func ReadFile(path string) (*Table, error) {
	if _, err := DetectFormat(path); err != nil {
		return nil, err
	}

	// #nosec G304 - path is supplied by the operator
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrUnreadableFile, err)
	}
	defer func() { _ = f.Close() }()

	return Read(path, f)
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
