package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// "payment K of N" notations across the issuer languages. Order matters only
// for readability; all are mutually exclusive on real inputs.
var installmentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`תשלום\s+(\d+)\s+מתוך\s+(\d+)`),
	regexp.MustCompile(`תשלום\s+(\d+)\s+מ-\s*(\d+)`),
	regexp.MustCompile(`(?i)payment\s+(\d+)\s+of\s+(\d+)`),
}

// MatchInstallment scans free text for an installment marker and returns the
// 1-based index and total.
func MatchInstallment(text string) (index, total int, ok bool) {
	for _, re := range installmentPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		index, _ = strconv.Atoi(m[1])
		total, _ = strconv.Atoi(m[2])
		if index >= 1 && total >= index {
			return index, total, true
		}
	}
	return 0, 0, false
}

// total-deal-sum marker occasionally printed next to the installment note,
// e.g. `סך עסקה: 3,099.00`.
var totalDealRe = regexp.MustCompile(`סך\s+עסקה[:\s]+([\d,]+(?:\.\d+)?)`)

// MatchTotalDealSum extracts the full deal amount from notes when present.
func MatchTotalDealSum(text string) (decimal.Decimal, bool) {
	m := totalDealRe.FindStringSubmatch(text)
	if m == nil {
		return decimal.Zero, false
	}
	d, _, err := ParseAmount(m[1])
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// explicit recurring-charge markers plus a curated keyword list. Subscription
// detection always wins over installment notation.
var subscriptionMarkers = []string{
	"הוראת קבע",
	"חיוב חודשי קבוע",
}

var subscriptionKeywords = []string{
	"netflix",
	"spotify",
	"youtube premium",
	"google one",
	"icloud",
	"apple.com/bill",
	"דמי מנוי",
	"מנוי חודשי",
}

// MatchSubscription checks the business name and notes for recurring-charge
// signals, case-insensitively.
func MatchSubscription(businessName, notes string) bool {
	for _, marker := range subscriptionMarkers {
		if strings.Contains(notes, marker) {
			return true
		}
	}
	haystack := strings.ToLower(businessName + " " + notes)
	for _, kw := range subscriptionKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

var refundMarkers = []string{
	"זיכוי",
	"ביטול עסקה",
}

// MatchRefund: explicit cancellation/credit marker, or a negative amount.
func MatchRefund(notes string, amount decimal.Decimal) bool {
	for _, marker := range refundMarkers {
		if strings.Contains(notes, marker) {
			return true
		}
	}
	return amount.IsNegative()
}
