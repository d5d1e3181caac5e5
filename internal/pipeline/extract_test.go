package pipeline

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func mkXLSX(rows [][]any) []byte {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	buf := bytes.NewBuffer(nil)
	_, _ = f.WriteTo(buf)
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name string
		want SourceFormat
		err  bool
	}{
		{name: "padron.xlsx", want: FormatXLSX},
		{name: "PADRON.XLSX", want: FormatXLSX},
		{name: "viejo.xls", want: FormatXLS},
		{name: "socios.Csv", want: FormatCSV},
		{name: "socios.txt", err: true},
		{name: "sin_extension", err: true},
	}
	for _, tc := range cases {
		got, err := DetectFormat(tc.name)
		if tc.err {
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Fatalf("%s: err=%v", tc.name, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%s: got=%q err=%v", tc.name, got, err)
		}
	}
}

func TestReadTableXLSXFirstSheetOnly(t *testing.T) {
	f := excelize.NewFile()
	first := f.GetSheetName(0)
	_ = f.SetCellValue(first, "A1", "Apellido")
	_ = f.SetCellValue(first, "A2", "Pérez")
	_, _ = f.NewSheet("Otra")
	_ = f.SetCellValue("Otra", "A1", "Ignorada")
	buf := bytes.NewBuffer(nil)
	if _, err := f.WriteTo(buf); err != nil {
		t.Fatal(err)
	}

	table, err := ReadTable("padron.xlsx", buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(table.Header) != 1 || table.Header[0] != "Apellido" {
		t.Fatalf("header=%v", table.Header)
	}
	if len(table.Rows) != 1 || table.Rows[0][0] != "Pérez" {
		t.Fatalf("rows=%v", table.Rows)
	}
}

func TestReadTableXLSXNumbersAsText(t *testing.T) {
	blob := mkXLSX([][]any{
		{"Nombre", "DNI"},
		{"Ana", 30111222},
	})
	table, err := ReadTable("p.xlsx", bytes.NewReader(blob))
	if err != nil {
		t.Fatal(err)
	}
	if got := table.Rows[0][1]; got != "30111222" {
		t.Fatalf("dni cell=%q", got)
	}
}

func TestReadTableXLSXIgnoresNumberFormat(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	_ = f.SetCellValue(sheet, "A1", "Nombre")
	_ = f.SetCellValue(sheet, "B1", "DNI")
	_ = f.SetCellValue(sheet, "A2", "Ana")
	_ = f.SetCellValue(sheet, "B2", 12345678)
	_ = f.SetCellValue(sheet, "A3", "Luis")
	_ = f.SetCellValue(sheet, "B3", 30111222)
	thousands, err := f.NewStyle(&excelize.Style{NumFmt: 3}) // #,##0
	if err != nil {
		t.Fatal(err)
	}
	twoDecimals, err := f.NewStyle(&excelize.Style{NumFmt: 2}) // 0.00
	if err != nil {
		t.Fatal(err)
	}
	_ = f.SetCellStyle(sheet, "B2", "B2", thousands)
	_ = f.SetCellStyle(sheet, "B3", "B3", twoDecimals)
	buf := bytes.NewBuffer(nil)
	if _, err := f.WriteTo(buf); err != nil {
		t.Fatal(err)
	}

	table, err := ReadTable("formateado.xlsx", bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if got := table.Rows[0][1]; got != "12345678" {
		t.Fatalf("thousands-formatted dni=%q", got)
	}
	if got := table.Rows[1][1]; got != "30111222" {
		t.Fatalf("decimal-formatted dni=%q", got)
	}

	records, err := Normalize("formateado.xlsx", bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[1].NationalID != "30111222" {
		t.Fatalf("records=%+v", records)
	}
}

// testdata/padron.xls is a BIFF8 workbook: DNI cells stored as RK numbers
// styled with a custom "00000000" format and with the built-in date format,
// a row with no records, and a row whose cells have no ROW record.
func TestReadTableXLS(t *testing.T) {
	content, err := os.ReadFile(filepath.Join("testdata", "padron.xls"))
	if err != nil {
		t.Fatal(err)
	}

	table, err := ReadTable("padron.xls", bytes.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(table.Header, "|") != "Apellido|Nombre|DNI" {
		t.Fatalf("header=%q", table.Header)
	}
	want := [][]string{
		{"Pérez", "Juan", "12345678"},
		{"García", "Ana", "30111222"},
		{"Sosa", "Luis", "20555666"},
	}
	if len(table.Rows) != len(want) {
		t.Fatalf("rows=%q", table.Rows)
	}
	for i, row := range want {
		if strings.Join(table.Rows[i], "|") != strings.Join(row, "|") {
			t.Fatalf("row %d=%q want=%q", i, table.Rows[i], row)
		}
	}

	records, err := Normalize("padron.xls", bytes.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 || records[0].Name != "PÉREZ JUAN" || records[0].NationalID != "12345678" {
		t.Fatalf("records=%+v", records)
	}
}

func TestReadTableXLSWithOOXMLContent(t *testing.T) {
	blob := mkXLSX([][]any{{"Apellido"}, {"Gómez"}})
	table, err := ReadTable("renombrado.xls", bytes.NewReader(blob))
	if err != nil {
		t.Fatal(err)
	}
	if len(table.Rows) != 1 {
		t.Fatalf("rows=%v", table.Rows)
	}
}

func TestReadTableXLSGarbage(t *testing.T) {
	_, err := ReadTable("roto.xls", strings.NewReader("esto no es un libro"))
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestReadTableCSVWithBOM(t *testing.T) {
	content := "\ufeffApellido,Nombre,DNI\nPérez,Juan,12.345.678\n\n,,\nGarcía,Ana\n"
	table, err := ReadTable("socios.csv", strings.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}
	if table.Header[0] != "Apellido" {
		t.Fatalf("header=%q", table.Header[0])
	}
	if len(table.Rows) != 2 {
		t.Fatalf("rows=%v", table.Rows)
	}
	if len(table.Rows[1]) != 2 {
		t.Fatalf("short row=%v", table.Rows[1])
	}
}

func TestReadTableEmpty(t *testing.T) {
	for _, content := range []string{"", "\n\n", ",,\n"} {
		_, err := ReadTable("vacio.csv", strings.NewReader(content))
		if !errors.Is(err, ErrEmptyTable) {
			t.Fatalf("%q: err=%v", content, err)
		}
	}
}

func TestReadTableHeaderOnly(t *testing.T) {
	table, err := ReadTable("solo.csv", strings.NewReader("Apellido,Nombre\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(table.Rows) != 0 {
		t.Fatalf("rows=%v", table.Rows)
	}
}
