package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itamarsh/cardledger/internal/domain"
)

func TestIsracardParser_CanParse(t *testing.T) {
	dir := t.TempDir()
	path := writeIsracardFixture(t, dir, "isracard.xlsx", isracardFixture{
		last4: "9012",
		month: "04/2025",
		sheets: map[string][][]string{
			isracardSheetRegular: {{"45719", "SUPER KOLBO", "45.00", "ILS", "45.00", ""}},
		},
	})

	p := NewIsracardParser()
	assert.True(t, p.CanParse(path))
	assert.False(t, p.CanParse(dir+"/missing.xlsx"))
}

func TestIsracardParser_Parse_MultiSheet(t *testing.T) {
	dir := t.TempDir()
	path := writeIsracardFixture(t, dir, "isracard.xlsx", isracardFixture{
		last4: "9012",
		month: "04/2025",
		total: "1,041.00",
		sheets: map[string][][]string{
			isracardSheetRegular: {
				{"45719", "SUPER KOLBO", "45.00", "ILS", "45.00", ""},
			},
			isracardSheetForeign: {
				{"45720", "HOTEL PARIS", "120.00", "", "436.00", ""},
				{"45721", "MACYS NYC", "80.00", "$", "300.00", ""},
			},
			isracardSheetImmediate: {
				{"45722", "PIZZA DOMINO", "60.00", "ILS", "60.00", ""},
			},
			isracardSheetPending: {
				{"45723", "GAS STATION", "200.00", "ILS", "200.00", ""},
			},
			isracardSheetInfo: {
				{"45724", "POINTS BALANCE", "999.00", "ILS", "999.00", ""},
			},
		},
	})

	result, err := NewIsracardParser().Parse(path)
	require.NoError(t, err)

	assert.Equal(t, "9012", result.Metadata.CardLast4)
	assert.Equal(t, "04/2025", result.Metadata.StatementMonth)

	require.Len(t, result.Transactions, 6)

	// Sheets are attempted in priority order and each row keeps its source.
	assert.Equal(t, isracardSheetRegular, result.Transactions[0].SourceSheet)
	assert.Equal(t, isracardSheetForeign, result.Transactions[1].SourceSheet)
	assert.Equal(t, isracardSheetPending, result.Transactions[4].SourceSheet)
	assert.Equal(t, isracardSheetInfo, result.Transactions[5].SourceSheet)

	// Serial date conversion.
	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), result.Transactions[0].DealDate)

	// Blank currency on the foreign sheet falls back by business geography
	// and is surfaced as a warning.
	paris := result.Transactions[1]
	assert.Equal(t, "EUR", paris.OriginalCurrency)
	nyc := result.Transactions[2]
	assert.Equal(t, "USD", nyc.OriginalCurrency)

	// Immediate-charge rows carry a bank charge date.
	require.NotNil(t, result.Transactions[3].BankChargeDate)

	var currencyWarnings, pendingWarnings int
	for _, w := range result.Warnings {
		switch {
		case w.Message == isracardSheetForeign+": currency guessed as EUR from business name":
			currencyWarnings++
		case w.Message == isracardSheetPending+": charged amount not final":
			pendingWarnings++
		}
	}
	assert.Equal(t, 1, currencyWarnings)
	assert.Equal(t, 1, pendingWarnings)

	// Informational rows are tagged but excluded from the totals check:
	// 45 + 436 + 300 + 60 + 200 matches the declared 1,041.00 exactly.
	require.NotNil(t, result.Validation)
	assert.True(t, result.Validation.IsValid)
}

func TestIsracardParser_Parse_MissingBannerFailsFile(t *testing.T) {
	dir := t.TempDir()
	path := writeIsracardFixture(t, dir, "isracard.xlsx", isracardFixture{
		last4: "", // banner without digits
		month: "04/2025",
		sheets: map[string][][]string{
			isracardSheetRegular: {{"45719", "X", "10.00", "ILS", "10.00", ""}},
		},
	})

	_, err := NewIsracardParser().Parse(path)
	assert.ErrorIs(t, err, domain.ErrMissingMetadata)
}

func TestMatchIsracardFilename(t *testing.T) {
	info, ok := MatchIsracardFilename("Export_9012.xlsx")
	require.True(t, ok)
	assert.Equal(t, "9012", info.Last4)
	assert.Equal(t, IssuerIsracard, info.Issuer)

	_, ok = MatchIsracardFilename("transaction-details_1234_export.xlsx")
	assert.False(t, ok)
}
