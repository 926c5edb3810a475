package ingest

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Veraticus/smeta/internal/common"
	"github.com/Veraticus/smeta/internal/mapping"
	"github.com/Veraticus/smeta/internal/model"
)

func TestReadCSV_QuotedFields(t *testing.T) {
	input := "Наименование,Тип/марка,Примечание\n" +
		"\"Кабель, медный\",ВВГ,\"строка1\nстрока2\"\n" +
		"\"Щит \"\"ЩРН\"\"\",,\n"

	tbl, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []string{"Наименование", "Тип/марка", "Примечание"}, tbl.Headers)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "Кабель, медный", tbl.Rows[0].Cells[0])
	assert.Equal(t, "строка1\nстрока2", tbl.Rows[0].Cells[2])
	assert.Equal(t, `Щит "ЩРН"`, tbl.Rows[1].Cells[0])
	assert.Equal(t, 2, tbl.Rows[0].Line)
	assert.Equal(t, 4, tbl.Rows[1].Line)
	assert.Empty(t, tbl.Warnings)
}

func TestReadCSV_DelimiterAndBOM(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "semicolon", input: "\ufeffid;name;brand\n1;Лампа;Philips\n"},
		{name: "tab", input: "id\tname\tbrand\n1\tЛампа\tPhilips\n"},
		{name: "comma with quoted semicolons", input: "\"id;x\",name,brand\n1,Лампа,Philips\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, err := ReadCSV(strings.NewReader(tt.input))
			require.NoError(t, err)
			require.Len(t, tbl.Headers, 3)
			require.Len(t, tbl.Rows, 1)
			assert.Equal(t, "Лампа", tbl.Rows[0].Cells[1])
			assert.Equal(t, "id", strings.TrimSuffix(tbl.Headers[0], ";x"))
		})
	}
}

func TestReadCSV_ColumnCountMismatch(t *testing.T) {
	input := "id,name,brand\n1,Лампа,Philips\n2,Патрон\n\n3,Розетка,Legrand\n"

	tbl, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)

	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "Розетка", tbl.Rows[1].Cells[1])
	require.Len(t, tbl.Warnings, 1)

	var pe *common.ParseError
	require.ErrorAs(t, tbl.Warnings[0], &pe)
	assert.Equal(t, 3, pe.Row)
	assert.ErrorIs(t, tbl.Warnings[0], common.ErrParse)
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("\n\n"))
	assert.Error(t, err)
}

func writeWorkbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestReadXLSX(t *testing.T) {
	buf := writeWorkbook(t, [][]any{
		{},
		{"№", "Наименование", "Кол-во", "Цена"},
		{1, "Светильник", 13, 3500.5},
		{},
		{2, "Прожектор"},
	})

	tbl, err := ReadXLSX(buf)
	require.NoError(t, err)

	assert.Equal(t, "Sheet1", tbl.Sheet)
	assert.Equal(t, []string{"№", "Наименование", "Кол-во", "Цена"}, tbl.Headers)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, []string{"1", "Светильник", "13", "3500.5"}, tbl.Rows[0].Cells)
	assert.Equal(t, 3, tbl.Rows[0].Line)
	assert.Equal(t, []string{"2", "Прожектор", "", ""}, tbl.Rows[1].Cells)
	assert.Equal(t, 5, tbl.Rows[1].Line)
}

func TestRead_UnsupportedAndUnreadable(t *testing.T) {
	_, err := Read("prices.pdf", strings.NewReader(""))
	assert.ErrorIs(t, err, common.ErrUnsupportedFormat)

	_, err = Read("prices.xlsx", strings.NewReader("not a zip"))
	assert.ErrorIs(t, err, common.ErrUnreadableFile)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, common.ErrUnreadableFile)
}

func TestLoad_MaterialPipeline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "materials.csv")
	content := "Наименование;Производитель;Кол-во;Цена, руб.;Цвет\n" +
		"Кабель ВВГ;Кольчугино;10;1 200,50;серый\n" +
		";;5;100;\n" +
		"Розетка;Legrand;2;;белый\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	res, err := Load(path, Options{Schema: model.SchemaMaterial})
	require.NoError(t, err)

	assert.Equal(t, "materials.csv", res.Source)
	assert.Equal(t, 3, res.RowCount)
	assert.Equal(t, 1, res.Dropped)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, []string{"Цвет"}, res.Mapping.Unmapped)
	require.Len(t, res.Records, 2)
	assert.Equal(t, []int{2, 4}, res.Lines)

	first := res.Records[0]
	assert.Equal(t, "Кабель ВВГ", first.Name)
	require.NotNil(t, first.Price)
	assert.InDelta(t, 1200.5, *first.Price, 1e-9)
	require.NotNil(t, first.Position)
	assert.Equal(t, 1, *first.Position)

	second := res.Records[1]
	assert.Nil(t, second.Price)
	require.NotNil(t, second.Position)
	assert.Equal(t, 3, *second.Position)
	assert.NotEqual(t, first.Key, second.Key)
}

func TestLoad_ProductRequiresKeyColumn(t *testing.T) {
	tbl := &Table{Headers: []string{"name", "brand"}, Rows: []Row{{Line: 2, Cells: []string{"Лампа", "Philips"}}}}

	_, err := FromTable("products.csv", tbl, Options{Schema: model.SchemaProduct})
	assert.ErrorIs(t, err, common.ErrValidation)

	var ue *common.UserError
	assert.ErrorAs(t, err, &ue)
}

func TestLoad_ProductRowsWithoutKeyWarn(t *testing.T) {
	tbl := &Table{
		Headers: []string{"id", "name", "brand"},
		Rows: []Row{
			{Line: 2, Cells: []string{"A1", "Лампа", "Philips"}},
			{Line: 3, Cells: []string{"", "Патрон", ""}},
		},
	}

	res, err := FromTable("products.csv", tbl, Options{Schema: model.SchemaProduct})
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	assert.Equal(t, "A1", res.Records[0].Key)
	require.Len(t, res.Warnings, 1)
	assert.ErrorIs(t, res.Warnings[0], common.ErrMissingKey)
	assert.Equal(t, 1, res.Dropped)
}

func TestLoad_CustomRegistry(t *testing.T) {
	tbl := &Table{Headers: []string{"Описание"}, Rows: []Row{{Line: 2, Cells: []string{"Муфта"}}}}
	reg := mapping.Registry{model.SchemaEquipment: mapping.AliasTable{{Label: "Описание", Field: model.FieldName}}}

	res, err := FromTable("eq.xlsx", tbl, Options{Schema: model.SchemaEquipment, Registry: reg})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "Муфта", res.Records[0].Name)
}
