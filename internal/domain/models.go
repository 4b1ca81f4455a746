package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentType string

const (
	PaymentTypeOneTime      PaymentType = "one_time"
	PaymentTypeInstallments PaymentType = "installments"
	PaymentTypeSubscription PaymentType = "subscription"
)

type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusProjected TransactionStatus = "projected"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// ParsedTransaction is the normalized output of a statement parser. It is not
// persisted as-is; batch orchestration resolves the business, fills missing
// ILS amounts and hands it to reconciliation or dedupe.
type ParsedTransaction struct {
	BusinessName     string           `json:"business_name"`
	DealDate         time.Time        `json:"deal_date"`
	BankChargeDate   *time.Time       `json:"bank_charge_date,omitempty"`
	OriginalAmount   decimal.Decimal  `json:"original_amount"`
	OriginalCurrency string           `json:"original_currency"`
	ChargedAmountILS decimal.Decimal  `json:"charged_amount_ils"`
	ExchangeRateUsed *decimal.Decimal `json:"exchange_rate_used,omitempty"`
	PaymentType      PaymentType      `json:"payment_type"`
	InstallmentIndex int              `json:"installment_index,omitempty"`
	InstallmentTotal int              `json:"installment_total,omitempty"`
	// TotalDealSum is the full deal amount when the file states it; zero means
	// unknown and reconciliation derives it from the per-payment amount.
	TotalDealSum decimal.Decimal `json:"total_deal_sum"`
	IsRefund     bool            `json:"is_refund"`
	SourceFile   string          `json:"source_file"`
	SourceSheet  string          `json:"source_sheet,omitempty"`
	Category     string          `json:"category,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	RawRow       []string        `json:"raw_row,omitempty"`
}

func (t *ParsedTransaction) Validate() error {
	if t.PaymentType == PaymentTypeInstallments {
		if t.InstallmentTotal < 1 || t.InstallmentIndex < 1 || t.InstallmentIndex > t.InstallmentTotal {
			return fmt.Errorf("%w: index %d of %d", ErrInvalidInstallment, t.InstallmentIndex, t.InstallmentTotal)
		}
	}
	return nil
}

// ParserMetadata is extracted from banner cells and fixed positions before any
// row parsing. A missing required field fails the whole file.
type ParserMetadata struct {
	CardLast4      string           `json:"card_last4"`
	AccountNumber  string           `json:"account_number,omitempty"`
	StatementMonth string           `json:"statement_month"`
	StatementDate  *time.Time       `json:"statement_date,omitempty"`
	TotalAmount    *decimal.Decimal `json:"total_amount,omitempty"`
}

// RowIssue records a single-row parse error or warning without aborting the file.
type RowIssue struct {
	Row     int      `json:"row"`
	Message string   `json:"message"`
	Data    []string `json:"data,omitempty"`
}

type ValidationResult struct {
	ExpectedTotal   *decimal.Decimal `json:"expected_total,omitempty"`
	CalculatedTotal decimal.Decimal  `json:"calculated_total"`
	Difference      decimal.Decimal  `json:"difference"`
	IsValid         bool             `json:"is_valid"`
	Tolerance       decimal.Decimal  `json:"tolerance"`
}

type ParseResult struct {
	Metadata     ParserMetadata      `json:"metadata"`
	Transactions []ParsedTransaction `json:"transactions"`
	Errors       []RowIssue          `json:"errors,omitempty"`
	Warnings     []RowIssue          `json:"warnings,omitempty"`
	Validation   *ValidationResult   `json:"validation,omitempty"`
}

// Transaction is the persisted row shape. Projected rows are placeholders for
// future installment payments and are promoted in place when the real payment
// is observed. A completed installment row with a nil ActualChargeDate is a
// computed ("ghost") payment-1 awaiting its real observation.
type Transaction struct {
	ID                  int64             `json:"id"`
	TransactionHash     string            `json:"transaction_hash"`
	BusinessID          int64             `json:"business_id"`
	CardID              int64             `json:"card_id"`
	DealDate            time.Time         `json:"deal_date"`
	OriginalAmount      decimal.Decimal   `json:"original_amount"`
	OriginalCurrency    string            `json:"original_currency"`
	ExchangeRateUsed    *decimal.Decimal  `json:"exchange_rate_used,omitempty"`
	ChargedAmountILS    decimal.Decimal   `json:"charged_amount_ils"`
	PaymentType         PaymentType       `json:"payment_type"`
	InstallmentGroupID  string            `json:"installment_group_id,omitempty"`
	InstallmentIndex    int               `json:"installment_index,omitempty"`
	InstallmentTotal    int               `json:"installment_total,omitempty"`
	TotalDealSum        decimal.Decimal   `json:"total_deal_sum,omitempty"`
	Status              TransactionStatus `json:"status"`
	ProjectedChargeDate *time.Time        `json:"projected_charge_date,omitempty"`
	ActualChargeDate    *time.Time        `json:"actual_charge_date,omitempty"`
	IsRefund            bool              `json:"is_refund"`
	SourceFile          string            `json:"source_file"`
	UploadBatchID       string            `json:"upload_batch_id"`
	Category            string            `json:"category,omitempty"`
}

type CardInfo struct {
	Last4  string `json:"last4"`
	Issuer string `json:"issuer"`
}

func (c *CardInfo) Equal(other *CardInfo) bool {
	if c == nil || other == nil {
		return false
	}
	return c.Last4 == other.Last4 && c.Issuer == other.Issuer
}

type Card struct {
	ID     int64  `json:"id"`
	Last4  string `json:"last4"`
	Issuer string `json:"issuer"`
	Owner  string `json:"owner"`
}

type Business struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type DetectionStatus string

const (
	DetectionVerified    DetectionStatus = "VERIFIED"
	DetectionClash       DetectionStatus = "CLASH"
	DetectionNewCard     DetectionStatus = "NEW_CARD"
	DetectionNeedsManual DetectionStatus = "NEEDS_MANUAL"
)

type DetectionTier string

const (
	TierUser     DetectionTier = "TIER_1_USER"
	TierFilename DetectionTier = "TIER_2_FILENAME"
	TierHeader   DetectionTier = "TIER_3_HEADER"
	TierManual   DetectionTier = "TIER_4_MANUAL"
)

type ClashDetails struct {
	Expected *CardInfo `json:"expected,omitempty"`
	Found    *CardInfo `json:"found,omitempty"`
	Reason   string    `json:"reason"`
}

// DetectionResult is the detector's verdict for one file. Only a VERIFIED
// status lets parsing proceed without a human decision.
type DetectionResult struct {
	Status                DetectionStatus `json:"status"`
	Tier                  DetectionTier   `json:"tier"`
	CardInfo              *CardInfo       `json:"card_info"`
	DBCardID              int64           `json:"db_card_id,omitempty"`
	ClashDetails          *ClashDetails   `json:"clash_details,omitempty"`
	NeedsUserConfirmation bool            `json:"needs_user_confirmation"`
	Message               string          `json:"message"`
}

type BatchStatus string

const (
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// FileResult summarizes one file of an upload batch for the operator surface.
type FileResult struct {
	Filename       string            `json:"filename"`
	Issuer         string            `json:"issuer,omitempty"`
	Detection      *DetectionResult  `json:"detection,omitempty"`
	NewCount       int               `json:"new_count"`
	UpdatedCount   int               `json:"updated_count"`
	DuplicateCount int               `json:"duplicate_count"`
	Errors         []RowIssue        `json:"errors,omitempty"`
	Warnings       []RowIssue        `json:"warnings,omitempty"`
	Validation     *ValidationResult `json:"validation,omitempty"`
	Skipped        bool              `json:"skipped"`
	SkipReason     string            `json:"skip_reason,omitempty"`
}

type UploadBatch struct {
	ID             string       `json:"id"`
	Status         BatchStatus  `json:"status"`
	Files          []FileResult `json:"files"`
	NewCount       int          `json:"new_count"`
	UpdatedCount   int          `json:"updated_count"`
	DuplicateCount int          `json:"duplicate_count"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}
