package pipeline

import (
	"io"
	"strings"

	"padron/internal"
	"padron/internal/util"
)

// Header keywords, applied in this order. A header matching several keywords is
// claimed by the first rule that looks at it.
const (
	keySurname    = "apellido"
	keyGivenName  = "nombre"
	keyNationalID = "dni"
)

// Columns holds the detected column indexes; -1 means not found.
type Columns struct {
	Surname    int
	GivenName  int
	NationalID int
}

// Normalize reads an uploaded roll and returns its cleaned, deduplicated members.
func Normalize(filename string, r io.Reader) ([]internal.Record, error) {
	table, err := ReadTable(filename, r)
	if err != nil {
		return nil, err
	}
	return NormalizeTable(table), nil
}

func DetectColumns(header []string) Columns {
	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = util.HeaderKey(h)
	}

	cols := Columns{
		Surname:    findHeaderIndex(keys, keySurname, -1),
		NationalID: findHeaderIndex(keys, keyNationalID, -1),
	}
	cols.GivenName = findHeaderIndex(keys, keyGivenName, cols.Surname)
	return cols
}

func NormalizeTable(table Table) []internal.Record {
	cols := DetectColumns(table.Header)

	seen := map[internal.Record]struct{}{}
	out := make([]internal.Record, 0, len(table.Rows))
	for _, row := range table.Rows {
		record := internal.Record{
			Name:       util.NormalizeName(fullName(row, cols)),
			NationalID: CleanNationalID(cellAt(row, cols.NationalID)),
		}
		if record.Name == "" {
			continue
		}
		if _, exists := seen[record]; exists {
			continue
		}
		seen[record] = struct{}{}
		out = append(out, record)
	}
	return out
}

// CleanNationalID keeps only the digits of a raw ID cell, falling back to the
// SIN DNI sentinel when nothing is left.
func CleanNationalID(raw string) string {
	digits := util.DigitsOnly(raw)
	if digits == "" {
		return internal.NoNationalID
	}
	return digits
}

func fullName(row []string, cols Columns) string {
	switch {
	case cols.Surname >= 0 && cols.GivenName >= 0:
		return cellAt(row, cols.Surname) + " " + cellAt(row, cols.GivenName)
	case cols.Surname >= 0:
		return cellAt(row, cols.Surname)
	case cols.GivenName >= 0:
		return cellAt(row, cols.GivenName)
	default:
		return cellAt(row, 0)
	}
}

func findHeaderIndex(keys []string, keyword string, skip int) int {
	for i, key := range keys {
		if i == skip {
			continue
		}
		if strings.Contains(key, keyword) {
			return i
		}
	}
	return -1
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// ManualRecord builds a member typed in by hand. Every field is required; the
// result follows the same cleaning rules as an imported row.
func ManualRecord(surname, givenName, nationalID string) (internal.Record, bool) {
	surname = strings.TrimSpace(surname)
	givenName = strings.TrimSpace(givenName)
	nationalID = strings.TrimSpace(nationalID)
	if surname == "" || givenName == "" || nationalID == "" {
		return internal.Record{}, false
	}
	return internal.Record{
		Name:       util.NormalizeName(surname + " " + givenName),
		NationalID: CleanNationalID(nationalID),
	}, true
}
