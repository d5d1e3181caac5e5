package pipeline

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"padron/internal"
)

const (
	ExportSheetName   = "Padrón"
	ExportContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	VotedLabel    = "VOTÓ"
	NotVotedLabel = "NO VOTÓ"
)

// SummaryOf counts a member list the same way the roll page does.
func SummaryOf(members []internal.Member) internal.Summary {
	s := internal.Summary{Total: len(members)}
	for _, m := range members {
		if m.Voted {
			s.Voted++
		}
	}
	s.Remaining = s.Total - s.Voted
	return s
}

// ExportRoll writes one sheet with the member list followed, after a blank
// row, by the Total/Votaron/Faltan summary block.
func ExportRoll(members []internal.Member, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), ExportSheetName); err != nil {
		return errors.Wrap(err, "rename sheet")
	}
	sheet := ExportSheetName

	var setErr error
	set := func(col, row int, value any) {
		if setErr != nil {
			return
		}
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			setErr = err
			return
		}
		setErr = f.SetCellValue(sheet, cell, value)
	}

	for i, h := range []string{"ID", "Nombre", "DNI", "Voto"} {
		set(i+1, 1, h)
	}
	for i, m := range members {
		r := i + 2
		set(1, r, m.ID)
		set(2, r, m.Name)
		set(3, r, m.NationalID)
		set(4, r, voteLabel(m.Voted))
	}

	summary := SummaryOf(members)
	start := len(members) + 3
	set(1, start, "Descripción")
	set(2, start, "Cantidad")
	set(1, start+1, "Total")
	set(2, start+1, summary.Total)
	set(1, start+2, "Votaron")
	set(2, start+2, summary.Voted)
	set(1, start+3, "Faltan")
	set(2, start+3, summary.Remaining)
	if setErr != nil {
		return errors.Wrap(setErr, "write cells")
	}

	_, err := f.WriteTo(w)
	return err
}

func ExportRollToFile(members []internal.Member, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	if err := ExportRoll(members, out); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func voteLabel(voted bool) string {
	if voted {
		return VotedLabel
	}
	return NotVotedLabel
}
