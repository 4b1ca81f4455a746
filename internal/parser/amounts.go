package parser

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// currency symbols and non-ISO codes seen in issuer exports, mapped to ISO 4217.
var currencyAliases = map[string]string{
	"₪":   "ILS",
	"שח":  "ILS",
	"ש\"ח": "ILS",
	"NIS": "ILS",
	"ILS": "ILS",
	"$":   "USD",
	"USD": "USD",
	"€":   "EUR",
	"EUR": "EUR",
	"£":   "GBP",
	"GBP": "GBP",
}

// NormalizeCurrency maps a symbol or code to ISO 4217. Unknown or blank input
// returns ("", false); the caller decides the fallback.
func NormalizeCurrency(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if iso, ok := currencyAliases[s]; ok {
		return iso, true
	}
	if iso, ok := currencyAliases[strings.ToUpper(s)]; ok {
		return iso, true
	}
	return "", false
}

// ParseAmount reads an amount cell, tolerating thousands separators, a
// trailing or leading currency symbol and a leading minus. The detected
// currency (if any symbol was embedded) is returned alongside.
func ParseAmount(raw string) (decimal.Decimal, string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, "", fmt.Errorf("empty amount")
	}

	currency := ""
	for sym := range currencyAliases {
		if len(sym) > 0 && !isAlphaNum(sym) && strings.Contains(s, sym) {
			currency, _ = NormalizeCurrency(sym)
			s = strings.ReplaceAll(s, sym, "")
			break
		}
	}

	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("unparseable amount %q: %w", raw, err)
	}
	return d, currency, nil
}

func isAlphaNum(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

// geographic keywords used by the isracard foreign-currency fallback when a
// row carries no currency at all. Used by that parser only.
var geoCurrencyHints = []struct {
	keyword  string
	currency string
}{
	{"USA", "USD"},
	{"NEW YORK", "USD"},
	{"NYC", "USD"},
	{"PARIS", "EUR"},
	{"BERLIN", "EUR"},
	{"MADRID", "EUR"},
	{"ROME", "EUR"},
	{"AMSTERDAM", "EUR"},
	{"LONDON", "GBP"},
}

// GuessCurrencyByBusinessName applies the geographic keyword heuristic.
func GuessCurrencyByBusinessName(businessName string) (string, bool) {
	upper := strings.ToUpper(businessName)
	for _, hint := range geoCurrencyHints {
		if strings.Contains(upper, hint.keyword) {
			return hint.currency, true
		}
	}
	return "", false
}
