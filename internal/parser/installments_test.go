package parser

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchInstallment(t *testing.T) {
	tests := []struct {
		text  string
		index int
		total int
		ok    bool
	}{
		{"תשלום 3 מתוך 12", 3, 12, true},
		{"תשלום 1 מ-5", 1, 5, true},
		{"תשלום 2 מ- 10", 2, 10, true},
		{"Payment 7 of 24", 7, 24, true},
		{"payment 24 of 24", 24, 24, true},
		{"תשלום 5 מתוך 3", 0, 0, false}, // index beyond total
		{"תשלום 0 מתוך 12", 0, 0, false},
		{"רכישה רגילה", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tt := range tests {
		idx, total, ok := MatchInstallment(tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.index, idx, tt.text)
		assert.Equal(t, tt.total, total, tt.text)
	}
}

func TestMatchTotalDealSum(t *testing.T) {
	sum, ok := MatchTotalDealSum("תשלום 1 מתוך 24, סך עסקה: 3,099.00")
	require.True(t, ok)
	assert.True(t, sum.Equal(decimal.RequireFromString("3099.00")))

	_, ok = MatchTotalDealSum("תשלום 1 מתוך 24")
	assert.False(t, ok)
}

func TestMatchSubscription(t *testing.T) {
	assert.True(t, MatchSubscription("NETFLIX.COM", ""))
	assert.True(t, MatchSubscription("Spotify AB", ""))
	assert.True(t, MatchSubscription("חברת חשמל", "הוראת קבע"))
	assert.True(t, MatchSubscription("מכון כושר", "דמי מנוי"))
	assert.False(t, MatchSubscription("SUPERSAL", ""))

	// Recurring-charge markers beat installment notation on the same row.
	assert.True(t, MatchSubscription("NETFLIX.COM", "תשלום 2 מתוך 12"))
}

func TestMatchRefund(t *testing.T) {
	plus := decimal.NewFromInt(50)
	minus := decimal.NewFromInt(-50)

	assert.True(t, MatchRefund("זיכוי", plus))
	assert.True(t, MatchRefund("ביטול עסקה", plus))
	assert.True(t, MatchRefund("", minus))
	assert.False(t, MatchRefund("", plus))
}

func TestNormalizeCurrency(t *testing.T) {
	tests := []struct {
		raw string
		iso string
		ok  bool
	}{
		{"₪", "ILS", true},
		{`ש"ח`, "ILS", true},
		{"nis", "ILS", true},
		{"$", "USD", true},
		{"eur", "EUR", true},
		{"£", "GBP", true},
		{"", "", false},
		{"XYZ", "", false},
	}
	for _, tt := range tests {
		iso, ok := NormalizeCurrency(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.iso, iso, tt.raw)
	}
}

func TestParseAmount(t *testing.T) {
	d, cur, err := ParseAmount("1,234.56")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("1234.56")))
	assert.Empty(t, cur)

	d, cur, err = ParseAmount("₪ 99.90")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("99.90")))
	assert.Equal(t, "ILS", cur)

	d, cur, err = ParseAmount("$120.00")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("120.00")))
	assert.Equal(t, "USD", cur)

	d, _, err = ParseAmount("-45.00")
	require.NoError(t, err)
	assert.True(t, d.IsNegative())

	_, _, err = ParseAmount("")
	assert.Error(t, err)

	_, _, err = ParseAmount("abc")
	assert.Error(t, err)
}

func TestGuessCurrencyByBusinessName(t *testing.T) {
	cur, ok := GuessCurrencyByBusinessName("Hotel de Paris")
	require.True(t, ok)
	assert.Equal(t, "EUR", cur)

	cur, ok = GuessCurrencyByBusinessName("MACYS NEW YORK")
	require.True(t, ok)
	assert.Equal(t, "USD", cur)

	cur, ok = GuessCurrencyByBusinessName("LONDON DRUGS")
	require.True(t, ok)
	assert.Equal(t, "GBP", cur)

	_, ok = GuessCurrencyByBusinessName("SUPERSAL")
	assert.False(t, ok)
}
