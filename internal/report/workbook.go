package report

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// SyncOptions controls how sheets are written.
type SyncOptions struct {
	// TabColor is an RGB hex colour such as "1F4E78"; empty leaves tabs
	// unchanged.
	TabColor string
}

// dateNumFmt is the built-in yyyy-mm-dd style.
const dateNumFmt = 14

// SyncWorkbook writes each table into its sheet of the workbook at path and
// saves it in place. It returns false without error when the workbook does
// not exist.
//
// Only the table's columns are written, starting at A1. Columns to the right
// of the table are left alone so user formulas that reference the data keep
// working. Inside the data block a formula cell survives when the table has
// no value for it. Rows left over from a longer previous sync are cleared.
func SyncWorkbook(path string, tables []Table, opts SyncOptions) (bool, error) {
	log := zap.L().With(zap.String("workbook", path))

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		log.Warn("workbook not found, skipping")
		return false, nil
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return false, eris.Wrapf(err, "report: open workbook %s", path)
	}
	defer f.Close() //nolint:errcheck

	dateStyle, err := f.NewStyle(&excelize.Style{NumFmt: dateNumFmt})
	if err != nil {
		return false, eris.Wrap(err, "report: create date style")
	}

	for _, t := range tables {
		if err := syncSheet(f, t, dateStyle, opts); err != nil {
			return false, eris.Wrapf(err, "report: sync sheet %s in %s", t.Sheet, path)
		}
		log.Debug("sheet synced", zap.String("sheet", t.Sheet), zap.Int("rows", len(t.Rows)))
	}

	if err := f.Save(); err != nil {
		return false, eris.Wrapf(err, "report: save workbook %s", path)
	}
	log.Info("workbook updated", zap.Int("sheets", len(tables)))
	return true, nil
}

func syncSheet(f *excelize.File, t Table, dateStyle int, opts SyncOptions) error {
	idx, err := f.GetSheetIndex(t.Sheet)
	if err != nil {
		return err
	}
	if idx == -1 {
		if _, err := f.NewSheet(t.Sheet); err != nil {
			return err
		}
	}

	existing, err := f.GetRows(t.Sheet)
	if err != nil {
		return err
	}

	for c, name := range t.Columns {
		cell, err := excelize.CoordinatesToCellName(c+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(t.Sheet, cell, name); err != nil {
			return err
		}
	}

	for r, row := range t.Rows {
		for c := 0; c < t.Width(); c++ {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			var v any
			if c < len(row) {
				v = row[c]
			}
			if err := writeCell(f, t.Sheet, cell, v, dateStyle); err != nil {
				return err
			}
		}
	}

	// Row 1 is the header, so the data block ends at len(t.Rows)+1.
	for r := len(t.Rows) + 2; r <= len(existing); r++ {
		for c := 1; c <= t.Width(); c++ {
			cell, err := excelize.CoordinatesToCellName(c, r)
			if err != nil {
				return err
			}
			if err := clearCell(f, t.Sheet, cell); err != nil {
				return err
			}
		}
	}

	if opts.TabColor != "" {
		color := strings.ToUpper(strings.TrimPrefix(opts.TabColor, "#"))
		if err := f.SetSheetProps(t.Sheet, &excelize.SheetPropsOptions{TabColorRGB: &color}); err != nil {
			return err
		}
	}
	return nil
}

func writeCell(f *excelize.File, sheet, cell string, v any, dateStyle int) error {
	if v == nil {
		formula, err := f.GetCellFormula(sheet, cell)
		if err != nil {
			return err
		}
		if formula != "" {
			return nil
		}
		return clearCell(f, sheet, cell)
	}

	if err := f.SetCellFormula(sheet, cell, ""); err != nil {
		return err
	}
	if err := f.SetCellValue(sheet, cell, v); err != nil {
		return err
	}
	if _, ok := v.(time.Time); ok {
		return f.SetCellStyle(sheet, cell, cell, dateStyle)
	}
	return nil
}

func clearCell(f *excelize.File, sheet, cell string) error {
	if err := f.SetCellFormula(sheet, cell, ""); err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, nil)
}
