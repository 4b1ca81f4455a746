package parser

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// fixture builders write small but structurally faithful issuer exports.

func setRow(t *testing.T, f *excelize.File, sheet string, row int, values ...string) {
	t.Helper()
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		require.NoError(t, err)
		require.NoError(t, f.SetCellValue(sheet, cell, v))
	}
}

type maxFixture struct {
	last4   string
	month   string
	total   string
	rows    [][]string
	noCard  bool
	noMonth bool
}

func writeMaxFixture(t *testing.T, dir, name string, fx maxFixture) string {
	t.Helper()
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", maxSheetName))

	if !fx.noCard {
		setRow(t, f, maxSheetName, 1, "פירוט עסקאות לכרטיס מסתיים ב-"+fx.last4+", חשבון 557799")
	} else {
		setRow(t, f, maxSheetName, 1, "פירוט עסקאות")
	}
	if !fx.noMonth {
		setRow(t, f, maxSheetName, 2, "חודש חיוב: "+fx.month)
	}
	if fx.total != "" {
		setRow(t, f, maxSheetName, 3, `סה"כ לחיוב: `+fx.total)
	}
	setRow(t, f, maxSheetName, 5, "תאריך עסקה", "שם בית עסק", "סכום עסקה", "מטבע", "סכום חיוב", "הערות", "קטגוריה")
	for i, row := range fx.rows {
		setRow(t, f, maxSheetName, 6+i, row...)
	}

	path := filepath.Join(dir, name)
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

type calFixture struct {
	last4 string
	date  string
	total string
	rows  [][]string
}

func writeCalFixture(t *testing.T, dir, name string, fx calFixture) string {
	t.Helper()
	f := excelize.NewFile()
	sheet := "Sheet1"

	setRow(t, f, sheet, 1, "פירוט עסקאות לכרטיס ויזה כאל המסתיים בספרות "+fx.last4)
	setRow(t, f, sheet, 2, "מועד חיוב: "+fx.date)
	if fx.total != "" {
		setRow(t, f, sheet, 3, `סך חיוב בש"ח: `+fx.total)
	}
	setRow(t, f, sheet, 4, "תאריך העסקה", "שם בית העסק", "סכום העסקה", "מטבע מקור", "סכום החיוב", "פירוט נוסף")
	for i, row := range fx.rows {
		setRow(t, f, sheet, 5+i, row...)
	}

	path := filepath.Join(dir, name)
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

type isracardFixture struct {
	last4  string
	month  string
	total  string
	sheets map[string][][]string
}

func writeIsracardFixture(t *testing.T, dir, name string, fx isracardFixture) string {
	t.Helper()
	f := excelize.NewFile()

	banner := "אמריקן אקספרס " + fx.last4 + " - חיוב לחודש " + fx.month
	if fx.total != "" {
		banner += `, סה"כ: ` + fx.total
	}

	first := true
	for _, sheet := range isracardSheetOrder {
		rows, ok := fx.sheets[sheet]
		if !ok {
			continue
		}
		if first {
			require.NoError(t, f.SetSheetName("Sheet1", sheet))
			first = false
		} else {
			_, err := f.NewSheet(sheet)
			require.NoError(t, err)
		}
		setRow(t, f, sheet, 1, banner)
		setRow(t, f, sheet, 2, "תאריך רכישה", "שם בית עסק", "סכום מקורי", "מטבע מקור", "סכום חיוב", "פירוט נוסף")
		for i, row := range rows {
			setRow(t, f, sheet, 3+i, row...)
		}
	}

	path := filepath.Join(dir, name)
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}
