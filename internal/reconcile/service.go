package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/itamarsh/cardledger/internal/domain"
	"github.com/itamarsh/cardledger/pkg/logger"
)

// Service assigns incoming installment payments to stable group identities.
// Plans arrive out of order and across separate uploads; the group hash plus
// persisted projected placeholder rows let later payments attach instead of
// inserting orphans or duplicates.
//
// Known approximation: group creation from a middle payment assumes every
// unobserved payment equals the one actually seen, so the computed payment-1
// ("ghost") amount and all projected amounts stay wrong for uneven plans
// until each real payment is observed and promoted.
type Service struct {
	repo   domain.TransactionRepository
	logger *logger.Logger
}

func New(repo domain.TransactionRepository, log *logger.Logger) *Service {
	return &Service{repo: repo, logger: log}
}

// IncomingInstallment is one installment-type payment as observed in a file,
// after business resolution and currency normalization.
type IncomingInstallment struct {
	BusinessID       int64
	BusinessName     string
	CardID           int64
	DealDate         time.Time
	OriginalAmount   decimal.Decimal
	OriginalCurrency string
	ExchangeRateUsed *decimal.Decimal
	// PerPaymentAmount is the charged ILS amount of this payment.
	PerPaymentAmount decimal.Decimal
	// TotalDealSum is the full deal amount when the file states it; zero means
	// derive it as PerPaymentAmount × Total.
	TotalDealSum decimal.Decimal
	Index        int
	Total        int
	IsRefund     bool
	// ActualChargeDate is the bank charge date when the file provides one.
	ActualChargeDate *time.Time
	SourceFile       string
	UploadBatchID    string
}

type Action string

const (
	ActionCreatedGroup           Action = "created_group"
	ActionCreatedGroupFromMiddle Action = "created_group_from_middle"
	ActionPromoted               Action = "promoted"
	ActionDuplicate              Action = "duplicate"
	ActionCollisionEscape        Action = "collision_escape"
)

type Outcome struct {
	Action  Action
	GroupID string
	// RowIDs are the rows created or updated by this reconciliation step.
	RowIDs []int64
}

// Reconcile runs the per-payment state machine. The processed set carries row
// ids already created or consumed in the current batch; every lookup excludes
// them so a twin payment inside one upload cannot bind to the same slot.
func (s *Service) Reconcile(ctx context.Context, in IncomingInstallment, processed domain.ProcessedSet) (*Outcome, error) {
	if in.Index < 1 || in.Total < in.Index {
		return nil, fmt.Errorf("%w: index %d of %d", domain.ErrInvalidInstallment, in.Index, in.Total)
	}

	totalSum := in.TotalDealSum
	if totalSum.IsZero() {
		totalSum = in.PerPaymentAmount.Mul(decimal.NewFromInt(int64(in.Total)))
	}

	baseID := BaseGroupID(in.BusinessName, totalSum, in.Total, in.DealDate)
	key := domain.MatchKey{
		BusinessID:       in.BusinessID,
		CardID:           in.CardID,
		DealDate:         in.DealDate,
		InstallmentTotal: in.Total,
		TotalDealSum:     totalSum,
	}

	existing, err := s.repo.FindAnyTransactionInGroup(ctx, baseID)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		if in.Index == 1 {
			return s.createInstallmentGroup(ctx, baseID, in, totalSum, processed)
		}
		return s.createInstallmentGroupFromMiddle(ctx, baseID, in, totalSum, processed, ActionCreatedGroupFromMiddle)
	}

	// The base group exists. First try to promote a projected placeholder at
	// this exact index.
	projected, err := s.repo.FindProjectedPayment(ctx, key, in.Index, processed)
	if err != nil {
		return nil, err
	}
	if projected != nil {
		if err := s.completeProjectedInstallment(ctx, projected, in, processed); err != nil {
			return nil, err
		}
		return &Outcome{Action: ActionPromoted, GroupID: projected.InstallmentGroupID, RowIDs: []int64{projected.ID}}, nil
	}

	// A real payment 1 may be arriving for a group that was created from a
	// middle payment: its ghost payment-1 row is completed but was never
	// observed, so it updates in place instead of duplicating.
	if in.Index == 1 {
		ghost, err := s.repo.FindOrphanedBackfilledPayment1(ctx, key, processed)
		if err != nil {
			return nil, err
		}
		if ghost != nil {
			if err := s.completeProjectedInstallment(ctx, ghost, in, processed); err != nil {
				return nil, err
			}
			return &Outcome{Action: ActionPromoted, GroupID: ghost.InstallmentGroupID, RowIDs: []int64{ghost.ID}}, nil
		}
	}

	dup, err := s.repo.FindExactDuplicate(ctx, key, in.Index, processed)
	if err != nil {
		return nil, err
	}
	if dup != nil {
		s.logger.Debug(ctx, "Installment payment already recorded, skipping",
			"group_id", dup.InstallmentGroupID,
			"index", in.Index,
		)
		return &Outcome{Action: ActionDuplicate, GroupID: dup.InstallmentGroupID, RowIDs: []int64{dup.ID}}, nil
	}

	// Twin purchase: same base identity, no free slot. Rehash to a distinct
	// group id and build the group around the observed payment.
	escapeID, err := s.nextEscapeID(ctx, baseID)
	if err != nil {
		return nil, err
	}
	s.logger.Warn(ctx, "Installment identity collision, escaping to new group",
		"base_group_id", baseID,
		"escape_group_id", escapeID,
		"index", in.Index,
	)
	return s.createInstallmentGroupFromMiddle(ctx, escapeID, in, totalSum, processed, ActionCollisionEscape)
}

// createInstallmentGroup handles the clean case: the first observed payment
// is index 1. It records the completed payment-1 row and projects the rest of
// the plan forward as placeholders. Payment 1 absorbs whatever the total
// leaves after N−1 regular payments, so its amount is computed, not copied.
func (s *Service) createInstallmentGroup(ctx context.Context, groupID string, in IncomingInstallment, totalSum decimal.Decimal, processed domain.ProcessedSet) (*Outcome, error) {
	rowIDs := make([]int64, 0, in.Total)

	payment1Amount := totalSum.Sub(in.PerPaymentAmount.Mul(decimal.NewFromInt(int64(in.Total - 1))))
	real := s.buildRow(groupID, in, totalSum, 1, payment1Amount)
	real.Status = domain.TransactionStatusCompleted
	real.ActualChargeDate = chargeDateOrDeal(in)
	id, err := s.repo.CreateTransaction(ctx, real)
	if err != nil {
		return nil, err
	}
	processed.Add(id)
	rowIDs = append(rowIDs, id)

	projIDs, err := s.createProjections(ctx, groupID, in, totalSum, processed, map[int]bool{1: true})
	if err != nil {
		return nil, err
	}
	rowIDs = append(rowIDs, projIDs...)

	return &Outcome{Action: ActionCreatedGroup, GroupID: groupID, RowIDs: rowIDs}, nil
}

// createInstallmentGroupFromMiddle handles a backfill: the first observed
// payment has index K. Payment 1 is recorded as a completed "ghost" row whose
// amount is whatever the total leaves after assuming all other payments equal
// the observed one; every other index gets a projected placeholder.
func (s *Service) createInstallmentGroupFromMiddle(ctx context.Context, groupID string, in IncomingInstallment, totalSum decimal.Decimal, processed domain.ProcessedSet, action Action) (*Outcome, error) {
	rowIDs := make([]int64, 0, in.Total)
	skip := map[int]bool{in.Index: true}

	if in.Index > 1 {
		ghostAmount := totalSum.Sub(in.PerPaymentAmount.Mul(decimal.NewFromInt(int64(in.Total - 1))))
		ghost := s.buildRow(groupID, in, totalSum, 1, ghostAmount)
		ghost.Status = domain.TransactionStatusCompleted
		// No ActualChargeDate: this payment was never observed in a statement.
		id, err := s.repo.CreateTransaction(ctx, ghost)
		if err != nil {
			return nil, err
		}
		processed.Add(id)
		rowIDs = append(rowIDs, id)
		skip[1] = true
	}

	real := s.buildRow(groupID, in, totalSum, in.Index, in.PerPaymentAmount)
	real.Status = domain.TransactionStatusCompleted
	real.ActualChargeDate = chargeDateOrDeal(in)
	id, err := s.repo.CreateTransaction(ctx, real)
	if err != nil {
		return nil, err
	}
	processed.Add(id)
	rowIDs = append(rowIDs, id)

	projIDs, err := s.createProjections(ctx, groupID, in, totalSum, processed, skip)
	if err != nil {
		return nil, err
	}
	rowIDs = append(rowIDs, projIDs...)

	return &Outcome{Action: action, GroupID: groupID, RowIDs: rowIDs}, nil
}

func (s *Service) createProjections(ctx context.Context, groupID string, in IncomingInstallment, totalSum decimal.Decimal, processed domain.ProcessedSet, skip map[int]bool) ([]int64, error) {
	var rowIDs []int64
	for i := 1; i <= in.Total; i++ {
		if skip[i] {
			continue
		}
		row := s.buildRow(groupID, in, totalSum, i, in.PerPaymentAmount)
		row.Status = domain.TransactionStatusProjected
		projDate := in.DealDate.AddDate(0, i-1, 0)
		row.ProjectedChargeDate = &projDate

		id, err := s.repo.CreateTransaction(ctx, row)
		if err != nil {
			return nil, err
		}
		processed.Add(id)
		rowIDs = append(rowIDs, id)
	}
	return rowIDs, nil
}

func (s *Service) buildRow(groupID string, in IncomingInstallment, totalSum decimal.Decimal, index int, chargedILS decimal.Decimal) *domain.Transaction {
	return &domain.Transaction{
		TransactionHash:    InstallmentRowHash(groupID, index),
		BusinessID:         in.BusinessID,
		CardID:             in.CardID,
		DealDate:           in.DealDate,
		OriginalAmount:     in.OriginalAmount,
		OriginalCurrency:   in.OriginalCurrency,
		ExchangeRateUsed:   in.ExchangeRateUsed,
		ChargedAmountILS:   chargedILS,
		PaymentType:        domain.PaymentTypeInstallments,
		InstallmentGroupID: groupID,
		InstallmentIndex:   index,
		InstallmentTotal:   in.Total,
		TotalDealSum:       totalSum,
		IsRefund:           in.IsRefund,
		SourceFile:         in.SourceFile,
		UploadBatchID:      in.UploadBatchID,
	}
}

// completeProjectedInstallment promotes a placeholder (or ghost) row in place:
// status flips to completed and the amount and dates are overwritten with the
// observed values. No new row is inserted.
func (s *Service) completeProjectedInstallment(ctx context.Context, row *domain.Transaction, in IncomingInstallment, processed domain.ProcessedSet) error {
	row.Status = domain.TransactionStatusCompleted
	row.ChargedAmountILS = in.PerPaymentAmount
	row.OriginalAmount = in.OriginalAmount
	row.OriginalCurrency = in.OriginalCurrency
	row.ExchangeRateUsed = in.ExchangeRateUsed
	row.ActualChargeDate = chargeDateOrDeal(in)
	row.SourceFile = in.SourceFile
	row.UploadBatchID = in.UploadBatchID

	if err := s.repo.UpdateTransaction(ctx, row); err != nil {
		return err
	}
	processed.Add(row.ID)
	return nil
}

// nextEscapeID probes escape ordinals for the first unoccupied group id.
func (s *Service) nextEscapeID(ctx context.Context, baseID string) (string, error) {
	for ordinal := 1; ; ordinal++ {
		candidate := EscapeGroupID(baseID, ordinal)
		existing, err := s.repo.FindAnyTransactionInGroup(ctx, candidate)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return candidate, nil
		}
	}
}

// CountGroupsWithBaseID counts the groups sharing a base identity, the base
// group itself plus any collision-escape variants. Probing stops at the first
// unoccupied ordinal, matching how escape ids are assigned.
func (s *Service) CountGroupsWithBaseID(ctx context.Context, baseID string) (int, error) {
	count := 0
	row, err := s.repo.FindAnyTransactionInGroup(ctx, baseID)
	if err != nil {
		return 0, err
	}
	if row != nil {
		count++
	}
	for ordinal := 1; ; ordinal++ {
		row, err := s.repo.FindAnyTransactionInGroup(ctx, EscapeGroupID(baseID, ordinal))
		if err != nil {
			return 0, err
		}
		if row == nil {
			return count, nil
		}
		count++
	}
}

// FindAnyTransactionInGroup is the existence probe used by collision checks,
// exposed for orchestration and tests.
func (s *Service) FindAnyTransactionInGroup(ctx context.Context, groupID string) (*domain.Transaction, error) {
	return s.repo.FindAnyTransactionInGroup(ctx, groupID)
}

func chargeDateOrDeal(in IncomingInstallment) *time.Time {
	if in.ActualChargeDate != nil {
		return in.ActualChargeDate
	}
	d := in.DealDate
	return &d
}
