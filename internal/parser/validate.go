package parser

import (
	"github.com/shopspring/decimal"

	"github.com/itamarsh/cardledger/internal/domain"
)

// Tolerance is the allowed gap, in ILS, between a file's declared total and
// the computed sum of charged amounts.
var Tolerance = decimal.NewFromInt(10)

// Validate compares the sum of charged ILS amounts against the file-declared
// total. A failing result is attached to the parse result as a warning signal
// and never blocks ingestion.
func Validate(txs []domain.ParsedTransaction, declaredTotal *decimal.Decimal) *domain.ValidationResult {
	sum := decimal.Zero
	for _, tx := range txs {
		sum = sum.Add(tx.ChargedAmountILS)
	}

	res := &domain.ValidationResult{
		ExpectedTotal:   declaredTotal,
		CalculatedTotal: sum,
		Difference:      decimal.Zero,
		IsValid:         true,
		Tolerance:       Tolerance,
	}
	if declaredTotal == nil {
		return res
	}

	res.Difference = sum.Sub(*declaredTotal).Abs()
	res.IsValid = res.Difference.LessThanOrEqual(Tolerance)
	return res
}
