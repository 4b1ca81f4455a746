package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/itamarsh/cardledger/internal/domain"
)

// MemoryStore implements the repository interfaces the core consumes. The
// relational layer is an external collaborator; this stands in for it in
// bootstrap and tests, keeping the same contracts.
type MemoryStore struct {
	mu sync.RWMutex

	transactions map[int64]*domain.Transaction
	txOrder      []int64
	hashIndex    map[string]int64
	nextTxID     int64

	cards      map[int64]*domain.Card
	nextCardID int64

	batches map[string]*domain.UploadBatch

	businesses     map[string]domain.Business
	nextBusinessID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[int64]*domain.Transaction),
		hashIndex:    make(map[string]int64),
		cards:        make(map[int64]*domain.Card),
		batches:      make(map[string]*domain.UploadBatch),
		businesses:   make(map[string]domain.Business),
	}
}

// --- TransactionRepository ---

func (s *MemoryStore) CreateTransaction(ctx context.Context, tx *domain.Transaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.TransactionHash != "" {
		if _, exists := s.hashIndex[tx.TransactionHash]; exists {
			return 0, domain.ErrDuplicateTransaction
		}
	}

	s.nextTxID++
	stored := *tx
	stored.ID = s.nextTxID
	s.transactions[stored.ID] = &stored
	s.txOrder = append(s.txOrder, stored.ID)
	if stored.TransactionHash != "" {
		s.hashIndex[stored.TransactionHash] = stored.ID
	}
	tx.ID = stored.ID
	return stored.ID, nil
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.transactions[id]
	if !exists {
		return nil, domain.ErrTransactionNotFound
	}
	copied := *tx
	return &copied, nil
}

func (s *MemoryStore) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.transactions[tx.ID]
	if !exists {
		return domain.ErrTransactionNotFound
	}
	if stored.TransactionHash != tx.TransactionHash {
		delete(s.hashIndex, stored.TransactionHash)
		if tx.TransactionHash != "" {
			s.hashIndex[tx.TransactionHash] = tx.ID
		}
	}
	copied := *tx
	s.transactions[tx.ID] = &copied
	return nil
}

func (s *MemoryStore) FindByHash(ctx context.Context, hash string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.hashIndex[hash]
	if !exists {
		return nil, nil
	}
	copied := *s.transactions[id]
	return &copied, nil
}

func (s *MemoryStore) FindAnyTransactionInGroup(ctx context.Context, groupID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.txOrder {
		tx := s.transactions[id]
		if tx.InstallmentGroupID == groupID {
			copied := *tx
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) FindProjectedPayment(ctx context.Context, key domain.MatchKey, index int, exclude domain.ProcessedSet) (*domain.Transaction, error) {
	return s.findInstallment(key, exclude, func(tx *domain.Transaction) bool {
		return tx.Status == domain.TransactionStatusProjected && tx.InstallmentIndex == index
	})
}

func (s *MemoryStore) FindCompletedPayment1(ctx context.Context, key domain.MatchKey, exclude domain.ProcessedSet) (*domain.Transaction, error) {
	return s.findInstallment(key, exclude, func(tx *domain.Transaction) bool {
		return tx.Status == domain.TransactionStatusCompleted && tx.InstallmentIndex == 1
	})
}

func (s *MemoryStore) FindOrphanedBackfilledPayment1(ctx context.Context, key domain.MatchKey, exclude domain.ProcessedSet) (*domain.Transaction, error) {
	return s.findInstallment(key, exclude, func(tx *domain.Transaction) bool {
		return tx.Status == domain.TransactionStatusCompleted &&
			tx.InstallmentIndex == 1 &&
			tx.ActualChargeDate == nil
	})
}

func (s *MemoryStore) FindExactDuplicate(ctx context.Context, key domain.MatchKey, index int, exclude domain.ProcessedSet) (*domain.Transaction, error) {
	return s.findInstallment(key, exclude, func(tx *domain.Transaction) bool {
		return tx.Status == domain.TransactionStatusCompleted &&
			tx.InstallmentIndex == index &&
			tx.ActualChargeDate != nil
	})
}

func (s *MemoryStore) findInstallment(key domain.MatchKey, exclude domain.ProcessedSet, match func(*domain.Transaction) bool) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.txOrder {
		tx := s.transactions[id]
		if exclude != nil && exclude.Has(id) {
			continue
		}
		if tx.PaymentType != domain.PaymentTypeInstallments {
			continue
		}
		if !matchesKey(tx, key) {
			continue
		}
		if match(tx) {
			copied := *tx
			return &copied, nil
		}
	}
	return nil, nil
}

// Matching uses the total deal sum, never the per-payment charged amount:
// ghost amounts can differ from the real values observed later.
func matchesKey(tx *domain.Transaction, key domain.MatchKey) bool {
	return tx.BusinessID == key.BusinessID &&
		tx.CardID == key.CardID &&
		sameDay(tx.DealDate, key.DealDate) &&
		tx.InstallmentTotal == key.InstallmentTotal &&
		tx.TotalDealSum.Equal(key.TotalDealSum)
}

func sameDay(a, b time.Time) bool {
	return a.Format("2006-01-02") == b.Format("2006-01-02")
}

// ListGroupTransactions returns a group's rows in insertion order.
func (s *MemoryStore) ListGroupTransactions(ctx context.Context, groupID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Transaction
	for _, id := range s.txOrder {
		tx := s.transactions[id]
		if tx.InstallmentGroupID == groupID {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (s *MemoryStore) SetCategoryForBusiness(ctx context.Context, businessID int64, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range s.transactions {
		if tx.BusinessID == businessID {
			tx.Category = category
		}
	}
	return nil
}

// --- CardRepository ---

func (s *MemoryStore) FindCard(ctx context.Context, last4, owner string) (*domain.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, card := range s.cards {
		if card.Last4 == last4 && card.Owner == owner {
			copied := *card
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) CreateCard(ctx context.Context, card *domain.Card) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextCardID++
	stored := *card
	stored.ID = s.nextCardID
	s.cards[stored.ID] = &stored
	card.ID = stored.ID
	return stored.ID, nil
}

// --- BatchRepository ---

func (s *MemoryStore) CreateBatch(ctx context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batches[batchID] = &domain.UploadBatch{
		ID:        batchID,
		Status:    domain.BatchStatusProcessing,
		CreatedAt: time.Now(),
	}
	return nil
}

func (s *MemoryStore) GetBatch(ctx context.Context, batchID string) (*domain.UploadBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, exists := s.batches[batchID]
	if !exists {
		return nil, domain.ErrBatchNotFound
	}
	copied := *batch
	copied.Files = append([]domain.FileResult(nil), batch.Files...)
	return &copied, nil
}

func (s *MemoryStore) AppendFileResult(ctx context.Context, batchID string, result domain.FileResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, exists := s.batches[batchID]
	if !exists {
		return domain.ErrBatchNotFound
	}
	batch.Files = append(batch.Files, result)
	batch.NewCount += result.NewCount
	batch.UpdatedCount += result.UpdatedCount
	batch.DuplicateCount += result.DuplicateCount
	return nil
}

func (s *MemoryStore) CompleteBatch(ctx context.Context, batchID string, status domain.BatchStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, exists := s.batches[batchID]
	if !exists {
		return domain.ErrBatchNotFound
	}
	batch.Status = status
	batch.ErrorMessage = errorMessage
	now := time.Now()
	batch.CompletedAt = &now
	return nil
}

// --- BusinessResolver ---

func (s *MemoryStore) Resolve(ctx context.Context, rawName string) (domain.Business, error) {
	normalized := strings.ToLower(strings.Join(strings.Fields(rawName), " "))

	s.mu.Lock()
	defer s.mu.Unlock()

	if b, exists := s.businesses[normalized]; exists {
		return b, nil
	}
	s.nextBusinessID++
	b := domain.Business{ID: s.nextBusinessID, Name: rawName}
	s.businesses[normalized] = b
	return b, nil
}
