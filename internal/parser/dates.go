package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/itamarsh/cardledger/internal/xlsxgrid"
)

// ParseDateDDMMYYYY reads dates like "17-03-2025" (max exports).
func ParseDateDDMMYYYY(raw string) (time.Time, error) {
	t, err := time.Parse("02-01-2006", strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q: %w", raw, err)
	}
	return t, nil
}

// ParseDateDMYY reads dates like "7/3/25" (cal exports).
func ParseDateDMYY(raw string) (time.Time, error) {
	t, err := time.Parse("2/1/06", strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q: %w", raw, err)
	}
	return t, nil
}

// ParseDateSerial reads isracard dates: Excel serial numbers, with a
// DD/MM/YYYY fallback for cells the export left as text.
func ParseDateSerial(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		t, err := xlsxgrid.SerialToTime(serial)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad serial date %q: %w", raw, err)
		}
		return t.Truncate(24 * time.Hour), nil
	}
	t, err := time.Parse("02/01/2006", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q: %w", raw, err)
	}
	return t, nil
}

// ParseDateDDMMYYYYSlash reads "02/03/2025" style billing dates from banners.
func ParseDateDDMMYYYYSlash(raw string) (time.Time, error) {
	t, err := time.Parse("02/01/2006", strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q: %w", raw, err)
	}
	return t, nil
}
