package report

import (
	"encoding/csv"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/nfp-revisions/internal/table"
)

// ExportCSV writes the table as CSV with a header row.
func ExportCSV(path string, t *table.Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "report: create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.WriteAll(t.Records()); err != nil {
		return eris.Wrapf(err, "report: write %s", path)
	}
	return f.Close()
}

// ExportXLSX writes the table to a single-sheet workbook. Numbers and flags
// keep their cell types; missing cells are left empty.
func ExportXLSX(path, sheetName string, t *table.Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "report: create dir for %s", path)
	}
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrapf(err, "report: add sheet %s", sheetName)
	}

	names := t.Columns()
	header := sheet.AddRow()
	header.AddCell().SetString(table.DateColumn)
	for _, name := range names {
		header.AddCell().SetString(name)
	}

	cols := make([]*table.Column, len(names))
	for j, name := range names {
		cols[j], _ = t.Column(name)
	}
	for i := 0; i < t.Len(); i++ {
		row := sheet.AddRow()
		row.AddCell().SetString(table.FormatDate(t.Date(i)))
		for _, c := range cols {
			cell := row.AddCell()
			if !c.Valid(i) {
				continue
			}
			switch c.Kind {
			case table.KindFloat:
				cell.SetFloat(c.Floats[i].V)
			case table.KindBool:
				cell.SetBool(c.Bools[i].V)
			default:
				cell.SetString(c.Strings[i].V)
			}
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}
