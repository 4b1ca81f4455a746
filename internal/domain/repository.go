package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ProcessedSet holds row ids already created or consumed in the current batch.
// Lookups exclude these ids so that two identical payments inside one upload
// cannot latch onto the same projected placeholder.
type ProcessedSet map[int64]struct{}

func (s ProcessedSet) Add(id int64) {
	s[id] = struct{}{}
}

func (s ProcessedSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// MatchKey locates existing installment rows by metadata. Matching uses the
// total deal sum, not the per-payment charged amount, because ghost amounts
// can differ slightly from the real values observed later.
type MatchKey struct {
	BusinessID       int64
	CardID           int64
	DealDate         time.Time
	InstallmentTotal int
	TotalDealSum     decimal.Decimal
}

type TransactionRepository interface {
	CreateTransaction(ctx context.Context, tx *Transaction) (int64, error)
	GetTransaction(ctx context.Context, id int64) (*Transaction, error)
	UpdateTransaction(ctx context.Context, tx *Transaction) error
	FindByHash(ctx context.Context, hash string) (*Transaction, error)

	// Installment lookups. All return (nil, nil) when nothing matches.
	FindAnyTransactionInGroup(ctx context.Context, groupID string) (*Transaction, error)
	FindProjectedPayment(ctx context.Context, key MatchKey, index int, exclude ProcessedSet) (*Transaction, error)
	FindCompletedPayment1(ctx context.Context, key MatchKey, exclude ProcessedSet) (*Transaction, error)
	FindOrphanedBackfilledPayment1(ctx context.Context, key MatchKey, exclude ProcessedSet) (*Transaction, error)
	FindExactDuplicate(ctx context.Context, key MatchKey, index int, exclude ProcessedSet) (*Transaction, error)

	SetCategoryForBusiness(ctx context.Context, businessID int64, category string) error
}

type CardRepository interface {
	// FindCard returns (nil, nil) when no card with that last4 is registered
	// for the owner.
	FindCard(ctx context.Context, last4, owner string) (*Card, error)
	CreateCard(ctx context.Context, card *Card) (int64, error)
}

type BatchRepository interface {
	CreateBatch(ctx context.Context, batchID string) error
	GetBatch(ctx context.Context, batchID string) (*UploadBatch, error)
	AppendFileResult(ctx context.Context, batchID string, result FileResult) error
	CompleteBatch(ctx context.Context, batchID string, status BatchStatus, errorMessage string) error
}

// RateLookup is the external currency conversion collaborator. A nil rate with
// a nil error means the rate is unknown for that date/currency.
type RateLookup interface {
	Rate(ctx context.Context, date time.Time, currency string) (*decimal.Decimal, error)
}

// BusinessResolver maps a raw business name from a statement row to a stable
// business record, creating one when needed.
type BusinessResolver interface {
	Resolve(ctx context.Context, rawName string) (Business, error)
}

// Classifier is the external batch categorization collaborator.
type Classifier interface {
	Classify(ctx context.Context, businessNames []string) (map[string]string, error)
}
