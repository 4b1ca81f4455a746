package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/itamarsh/cardledger/internal/domain"
)

// NormalizeBusinessName makes the name component of the group identity stable
// across files: trimmed, inner whitespace collapsed, lowercased.
func NormalizeBusinessName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// BaseGroupID is the deterministic identity of an installment plan. The same
// plan observed in separate uploads, at any payment index, hashes to the same
// id: payment 1's deal date is the purchase date every installment row carries.
func BaseGroupID(businessName string, totalDealSum decimal.Decimal, installmentTotal int, payment1Date time.Time) string {
	key := fmt.Sprintf("%s|%s|%d|%s",
		NormalizeBusinessName(businessName),
		totalDealSum.StringFixed(2),
		installmentTotal,
		payment1Date.Format("2006-01-02"),
	)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// EscapeGroupID derives a collision-escape id for twin purchases that share
// the base identity. Inputs are deterministic only, so replays produce the
// same escape ids.
func EscapeGroupID(baseID string, ordinal int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", baseID, ordinal)))
	return hex.EncodeToString(sum[:])
}

// InstallmentRowHash gives installment rows a content hash that survives
// promotion from projected to completed.
func InstallmentRowHash(groupID string, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("grp|%s|%d", groupID, index)))
	return hex.EncodeToString(sum[:])
}

// ContentHash identifies non-installment transactions for duplicate detection
// across uploads.
func ContentHash(businessID, cardID int64, dealDate time.Time, amount decimal.Decimal, currency string, paymentType domain.PaymentType) string {
	key := fmt.Sprintf("tx|%d|%d|%s|%s|%s|%s",
		businessID,
		cardID,
		dealDate.Format("2006-01-02"),
		amount.StringFixed(2),
		currency,
		paymentType,
	)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
