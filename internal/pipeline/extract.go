package pipeline

import (
	"bytes"
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	ErrUnsupportedFormat = errors.New("Formato no soportado (solo Excel o CSV)")
	ErrEmptyTable        = errors.New("archivo vacío")
)

// Table is a header row plus data rows, every cell kept as text.
type Table struct {
	Header []string
	Rows   [][]string
}

type SourceFormat string

const (
	FormatXLSX SourceFormat = "xlsx"
	FormatXLS  SourceFormat = "xls"
	FormatCSV  SourceFormat = "csv"
)

// DetectFormat picks the decoder from the filename extension only.
func DetectFormat(filename string) (SourceFormat, error) {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(filename))) {
	case ".xlsx":
		return FormatXLSX, nil
	case ".xls":
		return FormatXLS, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

func ReadTable(filename string, r io.Reader) (Table, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return Table{}, err
	}

	content, err := io.ReadAll(r)
	if err != nil {
		return Table{}, errors.Wrap(err, "read upload")
	}

	var rows [][]string
	switch format {
	case FormatXLSX:
		rows, err = readXLSX(content)
	case FormatXLS:
		rows, err = readXLS(content)
	case FormatCSV:
		rows, err = readCSV(content)
	}
	if err != nil {
		return Table{}, err
	}
	return tableFromRows(rows)
}

func readXLSX(content []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, errors.Wrap(err, "open xlsx")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyTable
	}
	// Raw values keep number formats like "#,##0" out of the DNI column.
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.Wrapf(err, "read sheet %q", sheets[0])
	}
	return rows, nil
}

// BIFF8 sheets are at most 256 columns wide.
const maxXLSColumns = 256

// readXLS decodes a legacy BIFF workbook. Files that carry an .xls name but are
// really OOXML are handed to excelize instead.
func readXLS(content []byte) (rows [][]string, err error) {
	if bytes.HasPrefix(content, []byte("PK\x03\x04")) {
		return readXLSX(content)
	}

	defer func() {
		if r := recover(); r != nil {
			rows, err = nil, errors.Errorf("open xls: malformed workbook: %v", r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(content), "utf-8")
	if err != nil {
		return nil, errors.Wrap(err, "open xls")
	}
	if wb == nil {
		return nil, errors.New("open xls: no workbook stream")
	}
	rawNumberFormats(wb)

	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, ErrEmptyTable
	}

	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := xlsRow(sheet, i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		// Rows without a ROW record report no last column.
		last := row.LastCol()
		if last <= 0 {
			last = maxXLSColumns - 1
		}
		cells := []string{}
		for c := 0; c <= last; c++ {
			cells = append(cells, row.Col(c))
		}
		rows = append(rows, trimTrailingEmpty(cells))
	}
	return rows, nil
}

// rawNumberFormats points every cell style at the General format, so RK
// numbers come back as digits instead of being rendered as dates.
func rawNumberFormats(wb *xls.WorkBook) {
	for _, xf := range wb.Xfs {
		switch x := xf.(type) {
		case *xls.Xf8:
			x.Format = 0
		case *xls.Xf5:
			x.Format = 0
		}
	}
}

// xlsRow returns nil for rows the sheet has no record of.
func xlsRow(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}

func readCSV(content []byte) ([][]string, error) {
	decoded := transform.NewReader(bytes.NewReader(content), unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "read csv")
	}
	return rows, nil
}

func tableFromRows(rows [][]string) (Table, error) {
	start := -1
	for i, row := range rows {
		if !isBlankRow(row) {
			start = i
			break
		}
	}
	if start < 0 {
		return Table{}, ErrEmptyTable
	}

	table := Table{Header: rows[start], Rows: make([][]string, 0, len(rows)-start-1)}
	for _, row := range rows[start+1:] {
		if isBlankRow(row) {
			continue
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func trimTrailingEmpty(cells []string) []string {
	end := len(cells)
	for end > 0 && strings.TrimSpace(cells[end-1]) == "" {
		end--
	}
	return cells[:end]
}
