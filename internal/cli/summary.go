package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Veraticus/smeta/internal/mapping"
	"github.com/Veraticus/smeta/internal/matching"
	"github.com/Veraticus/smeta/internal/model"
)

// maxListedErrors bounds how many result errors a summary prints.
const maxListedErrors = 10

// RenderImportSummary renders the outcome of an import run.
func RenderImportSummary(source string, res *model.ReconciliationResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %d\n", BoldStyle.Render("Rows:    "), res.Total)
	fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("Inserted:"), SuccessStyle.Render(strconv.Itoa(res.Inserted)))
	fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("Updated: "), InfoStyle.Render(strconv.Itoa(res.Updated)))
	if n := len(res.FailedRows); n > 0 {
		fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("Failed:  "), ErrorStyle.Render(strconv.Itoa(n)))
	}

	errs := res.ErrorList()
	if len(errs) > 0 {
		b.WriteString("\n")
		for i, e := range errs {
			if i == maxListedErrors {
				b.WriteString(SubtleStyle.Render(fmt.Sprintf("  ... %d more in the import log", len(errs)-i)) + "\n")
				break
			}
			b.WriteString(FormatError(e) + "\n")
		}
	}

	var status string
	switch {
	case res.Cancelled:
		status = FormatWarning("Import cancelled; completed batches were kept")
	case res.Success():
		status = FormatSuccess("Import complete")
	default:
		status = FormatWarning("Import finished with errors")
	}
	b.WriteString("\n" + status)

	return RenderBox(ChartIcon+" "+source, b.String())
}

// RenderSuggestions renders ranked catalog suggestions for one query.
func RenderSuggestions(query string, suggestions []matching.Suggestion) string {
	if len(suggestions) == 0 {
		return FormatWarning(fmt.Sprintf("No catalog matches for %q", query))
	}

	rows := make([][]string, len(suggestions))
	for i, s := range suggestions {
		rows[i] = []string{
			strconv.Itoa(i + 1),
			s.Name,
			s.Code,
			s.Manufacturer,
			formatPrice(s.Price),
			FormatTier(s.Tier),
			strconv.Itoa(s.Score),
		}
	}

	header := []string{"#", "Name", "Code", "Manufacturer", "Price", "Tier", "Score"}
	return FormatTitle(query) + "\n" + RenderTable(header, rows)
}

// RenderMapping renders the header resolution of an import file.
func RenderMapping(m mapping.Mapping) string {
	rows := make([][]string, len(m.Columns))
	for i, c := range m.Columns {
		field := string(c.Field)
		switch {
		case c.Field == mapping.Skip:
			field = SubtleStyle.Render("(ignored)")
		case field == "":
			field = WarningStyle.Render("(unmapped)")
		}
		rows[i] = []string{strconv.Itoa(c.Index + 1), c.Header, field, c.Alias, string(c.Method)}
	}

	out := RenderTable([]string{"#", "Header", "Field", "Alias", "Method"}, rows)
	if len(m.Unmapped) > 0 {
		out += "\n\n" + FormatWarning(fmt.Sprintf("%d unmapped column(s): %s", len(m.Unmapped), strings.Join(m.Unmapped, ", ")))
	}
	return out
}

func formatPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	return strconv.FormatFloat(*p, 'f', 2, 64)
}
