package cli

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/smeta/internal/mapping"
	"github.com/Veraticus/smeta/internal/matching"
	"github.com/Veraticus/smeta/internal/model"
)

func TestRenderImportSummary(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		res := &model.ReconciliationResult{Total: 3, Inserted: 2, Updated: 1, Errors: []string{}}
		out := RenderImportSummary("prices.xlsx", res)

		assert.Contains(t, out, "prices.xlsx")
		assert.Contains(t, out, "Import complete")
		assert.NotContains(t, out, "Failed")
	})

	t.Run("errors are truncated", func(t *testing.T) {
		res := &model.ReconciliationResult{Total: 30000, Inserted: 1000, Errors: []string{}}
		for i := 0; i < 12; i++ {
			res.AddError(fmt.Sprintf("batch %d: connection reset", i+2))
			res.FailedRows = append(res.FailedRows, model.FailedRow{Row: i, Reason: "connection reset"})
		}
		out := RenderImportSummary("big.csv", res)

		assert.Contains(t, out, "batch 2: connection reset")
		assert.NotContains(t, out, "batch 13: connection reset")
		assert.Contains(t, out, "2 more in the import log")
		assert.Contains(t, out, "Import finished with errors")
	})

	t.Run("cancelled", func(t *testing.T) {
		res := &model.ReconciliationResult{Total: 10, Cancelled: true, Errors: []string{}}
		assert.Contains(t, RenderImportSummary("x.csv", res), "Import cancelled")
	})
}

func TestRenderSuggestions(t *testing.T) {
	price := 1250.0
	out := RenderSuggestions("Светильник", []matching.Suggestion{
		{Name: "Светильник LED 36W", Code: "SV-36", Manufacturer: "Световые технологии", Price: &price, Tier: model.TierKeyword, Score: 97},
		{Name: "Светильник ДПО", Code: "IDk2", Tier: model.TierKeyword, Score: 50},
	})

	assert.Contains(t, out, "Светильник LED 36W")
	assert.Contains(t, out, "1250.00")
	assert.Contains(t, out, "97")
	assert.Contains(t, out, "-")

	assert.Contains(t, RenderSuggestions("нет", nil), `No catalog matches for "нет"`)
}

func TestRenderMapping(t *testing.T) {
	m := mapping.BuildMapping([]string{"Наименование", "brand_code", "Цвет"}, mapping.ProductAliases)
	out := RenderMapping(m)

	assert.Contains(t, out, "name")
	assert.Contains(t, out, "(ignored)")
	assert.Contains(t, out, "(unmapped)")
	assert.Contains(t, out, "1 unmapped column(s): Цвет")
}

func TestRenderTable(t *testing.T) {
	out := RenderTable([]string{"a", "b"}, [][]string{{"long value"}, {"x", "y"}})
	lines := strings.Split(out, "\n")

	assert.GreaterOrEqual(t, len(lines), 3)
	assert.Contains(t, out, "long value")
}

func TestImportProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewImportProgress(&buf, 2500)

	p.Update(40, 1000)
	p.Update(30, 1000)
	assert.Equal(t, 40, p.last)

	p.Update(100, 1500)
	assert.Equal(t, 100, p.last)
	assert.Equal(t, 1500, p.Processed())

	p.Finish()
	assert.Contains(t, buf.String(), "Importing 2500 rows")
}

func TestFormatTier(t *testing.T) {
	for _, tier := range []model.Tier{model.TierExact, model.TierKeyword, model.TierSimilarity, model.Tier("manual")} {
		assert.Contains(t, FormatTier(tier), string(tier))
	}
}
