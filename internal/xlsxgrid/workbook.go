package xlsxgrid

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

// Workbook is a thin read-only view over an xlsx file. Parsers work in terms
// of sheet row grids and fixed cell references; everything excelize-specific
// stays here.
type Workbook struct {
	f *excelize.File
}

func Open(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	return &Workbook{f: f}, nil
}

func (w *Workbook) Close() error {
	return w.f.Close()
}

func (w *Workbook) Sheets() []string {
	return w.f.GetSheetList()
}

func (w *Workbook) HasSheet(name string) bool {
	for _, s := range w.f.GetSheetList() {
		if s == name {
			return true
		}
	}
	return false
}

func (w *Workbook) FirstSheet() string {
	sheets := w.f.GetSheetList()
	if len(sheets) == 0 {
		return ""
	}
	return sheets[0]
}

// Rows returns the sheet as a string grid. Trailing empty cells are absent,
// so callers must bounds-check columns.
func (w *Workbook) Rows(sheet string) ([][]string, error) {
	rows, err := w.f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

// Cell reads a single cell by reference ("A1"). Missing cells and read errors
// both come back as the empty string; sniffing code treats them alike.
func (w *Workbook) Cell(sheet, ref string) string {
	v, err := w.f.GetCellValue(sheet, ref)
	if err != nil {
		return ""
	}
	return v
}

// SerialToTime converts an Excel serial date number.
func SerialToTime(serial float64) (time.Time, error) {
	return excelize.ExcelDateToTime(serial, false)
}
