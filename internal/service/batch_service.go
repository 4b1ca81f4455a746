package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/itamarsh/cardledger/internal/detector"
	"github.com/itamarsh/cardledger/internal/domain"
	"github.com/itamarsh/cardledger/internal/eventbus"
	"github.com/itamarsh/cardledger/internal/parser"
	"github.com/itamarsh/cardledger/internal/reconcile"
	"github.com/itamarsh/cardledger/pkg/logger"
)

// UploadedFile is one file of an upload batch. UserProvidedCard, when set,
// feeds the detector's tier 1.
type UploadedFile struct {
	Path             string
	Filename         string
	UserProvidedCard *domain.CardInfo
}

// BatchService drives detection, parsing and reconciliation per uploaded
// file. Files run sequentially in upload order and rows in file order;
// reconciliation is order-sensitive within a pass.
type BatchService struct {
	txRepo          domain.TransactionRepository
	batches         domain.BatchRepository
	detector        *detector.Service
	registry        *parser.Registry
	reconciler      *reconcile.Service
	businesses      domain.BusinessResolver
	rates           domain.RateLookup
	bus             eventbus.EventBus
	logger          *logger.Logger
	defaultCurrency string
}

func NewBatchService(
	txRepo domain.TransactionRepository,
	batches domain.BatchRepository,
	det *detector.Service,
	registry *parser.Registry,
	reconciler *reconcile.Service,
	businesses domain.BusinessResolver,
	rates domain.RateLookup,
	bus eventbus.EventBus,
	log *logger.Logger,
	defaultCurrency string,
) *BatchService {
	return &BatchService{
		txRepo:          txRepo,
		batches:         batches,
		detector:        det,
		registry:        registry,
		reconciler:      reconciler,
		businesses:      businesses,
		rates:           rates,
		bus:             bus,
		logger:          log,
		defaultCurrency: defaultCurrency,
	}
}

// UploadBatch registers a new batch and processes it asynchronously,
// returning the batch id immediately.
func (s *BatchService) UploadBatch(ctx context.Context, owner string, files []UploadedFile) (string, error) {
	batchID := uuid.New().String()
	ctx = logger.WithBatchID(ctx, batchID)

	if err := s.batches.CreateBatch(ctx, batchID); err != nil {
		s.logger.Error(ctx, "Failed to create batch", "error", err)
		return "", err
	}

	go func() {
		processCtx := logger.WithBatchID(context.Background(), batchID)
		if err := s.ProcessBatch(processCtx, batchID, owner, files); err != nil {
			s.logger.Error(processCtx, "Batch processing failed", "error", err)
		}
	}()

	return batchID, nil
}

// ProcessBatch runs the whole batch synchronously. One bad file never aborts
// its siblings; a batch-fatal error (batch bookkeeping unavailable) marks the
// batch failed with the message preserved and earlier inserts retained.
func (s *BatchService) ProcessBatch(ctx context.Context, batchID, owner string, files []UploadedFile) error {
	s.logger.Info(ctx, "Starting batch processing", "file_count", len(files))

	touched := make(map[int64]domain.Business)

	for _, file := range files {
		result := s.processFile(ctx, batchID, owner, file, touched)
		if err := s.batches.AppendFileResult(ctx, batchID, result); err != nil {
			msg := fmt.Sprintf("batch bookkeeping failed on %s: %v", file.Filename, err)
			s.logger.Error(ctx, "Batch fatal error", "error", err)
			_ = s.batches.CompleteBatch(ctx, batchID, domain.BatchStatusFailed, msg)
			return err
		}
	}

	if err := s.batches.CompleteBatch(ctx, batchID, domain.BatchStatusCompleted, ""); err != nil {
		return err
	}

	s.dispatchCategorization(ctx, batchID, touched)

	s.logger.Info(ctx, "Batch processing completed")
	return nil
}

func (s *BatchService) processFile(ctx context.Context, batchID, owner string, file UploadedFile, touched map[int64]domain.Business) domain.FileResult {
	result := domain.FileResult{Filename: file.Filename}

	det, err := s.detector.DetectCard(ctx, detector.Request{
		Owner:            owner,
		FilePath:         file.Path,
		Filename:         file.Filename,
		UserProvidedCard: file.UserProvidedCard,
	})
	if err != nil {
		result.Skipped = true
		result.SkipReason = fmt.Sprintf("card detection failed: %v", err)
		return result
	}
	result.Detection = det

	if det.Status != domain.DetectionVerified {
		result.Skipped = true
		result.SkipReason = fmt.Sprintf("card detection status %s requires user decision", det.Status)
		s.logger.Warn(ctx, "File skipped pending user decision",
			"filename", file.Filename,
			"status", det.Status,
			"tier", det.Tier,
		)
		return result
	}

	p, ok := s.registry.Get(det.CardInfo.Issuer)
	if !ok {
		result.Skipped = true
		result.SkipReason = fmt.Sprintf("%v: %s", domain.ErrUnknownIssuer, det.CardInfo.Issuer)
		return result
	}
	result.Issuer = p.Name()

	parsed, err := p.Parse(file.Path)
	if err != nil {
		// Metadata and I/O failures fail the file, not the batch.
		result.Skipped = true
		result.SkipReason = fmt.Sprintf("parse failed: %v", err)
		s.logger.Error(ctx, "File parse failed",
			"filename", file.Filename,
			"issuer", p.Name(),
			"error", err,
		)
		return result
	}
	result.Errors = parsed.Errors
	result.Warnings = parsed.Warnings
	result.Validation = parsed.Validation

	if parsed.Validation != nil && !parsed.Validation.IsValid {
		s.logger.Warn(ctx, "Declared total outside tolerance",
			"filename", file.Filename,
			"expected", parsed.Validation.ExpectedTotal,
			"calculated", parsed.Validation.CalculatedTotal,
		)
	}

	processed := make(domain.ProcessedSet)
	for i := range parsed.Transactions {
		tx := &parsed.Transactions[i]
		if err := s.processTransaction(ctx, batchID, det.DBCardID, tx, processed, &result, touched); err != nil {
			// Broken chains and collisions that still fail are logged and
			// recorded; remaining rows keep processing.
			result.Errors = append(result.Errors, domain.RowIssue{
				Row:     i + 1,
				Message: err.Error(),
			})
			s.logger.Error(ctx, "Transaction processing failed",
				"filename", file.Filename,
				"business", tx.BusinessName,
				"error", err,
			)
		}
	}

	return result
}

func (s *BatchService) processTransaction(
	ctx context.Context,
	batchID string,
	cardID int64,
	tx *domain.ParsedTransaction,
	processed domain.ProcessedSet,
	result *domain.FileResult,
	touched map[int64]domain.Business,
) error {
	business, err := s.businesses.Resolve(ctx, tx.BusinessName)
	if err != nil {
		return fmt.Errorf("resolve business %q: %w", tx.BusinessName, err)
	}
	touched[business.ID] = business

	if err := s.normalizeCurrency(ctx, tx, result); err != nil {
		return err
	}

	if tx.PaymentType == domain.PaymentTypeInstallments {
		outcome, err := s.reconciler.Reconcile(ctx, reconcile.IncomingInstallment{
			BusinessID:       business.ID,
			BusinessName:     tx.BusinessName,
			CardID:           cardID,
			DealDate:         tx.DealDate,
			OriginalAmount:   tx.OriginalAmount,
			OriginalCurrency: tx.OriginalCurrency,
			ExchangeRateUsed: tx.ExchangeRateUsed,
			PerPaymentAmount: tx.ChargedAmountILS,
			TotalDealSum:     tx.TotalDealSum,
			Index:            tx.InstallmentIndex,
			Total:            tx.InstallmentTotal,
			IsRefund:         tx.IsRefund,
			ActualChargeDate: tx.BankChargeDate,
			SourceFile:       tx.SourceFile,
			UploadBatchID:    batchID,
		}, processed)
		if err != nil {
			return fmt.Errorf("reconcile installment: %w", err)
		}
		switch outcome.Action {
		case reconcile.ActionPromoted:
			result.UpdatedCount++
		case reconcile.ActionDuplicate:
			result.DuplicateCount++
		default:
			result.NewCount++
		}
		return nil
	}

	// One-time and subscription rows share the plain content-hash dedupe.
	hash := reconcile.ContentHash(business.ID, cardID, tx.DealDate, tx.ChargedAmountILS, tx.OriginalCurrency, tx.PaymentType)
	existing, err := s.txRepo.FindByHash(ctx, hash)
	if err != nil {
		return err
	}
	if existing != nil {
		result.DuplicateCount++
		return nil
	}

	chargeDate := tx.BankChargeDate
	if chargeDate == nil {
		d := tx.DealDate
		chargeDate = &d
	}
	id, err := s.txRepo.CreateTransaction(ctx, &domain.Transaction{
		TransactionHash:  hash,
		BusinessID:       business.ID,
		CardID:           cardID,
		DealDate:         tx.DealDate,
		OriginalAmount:   tx.OriginalAmount,
		OriginalCurrency: tx.OriginalCurrency,
		ExchangeRateUsed: tx.ExchangeRateUsed,
		ChargedAmountILS: tx.ChargedAmountILS,
		PaymentType:      tx.PaymentType,
		Status:           domain.TransactionStatusCompleted,
		ActualChargeDate: chargeDate,
		IsRefund:         tx.IsRefund,
		SourceFile:       tx.SourceFile,
		UploadBatchID:    batchID,
		Category:         tx.Category,
	})
	if err != nil {
		return err
	}
	processed.Add(id)
	result.NewCount++
	return nil
}

// normalizeCurrency fills a missing ILS amount from the external rate lookup.
// An unknown rate degrades to the original amount with a warning, never an
// error.
func (s *BatchService) normalizeCurrency(ctx context.Context, tx *domain.ParsedTransaction, result *domain.FileResult) error {
	if tx.OriginalCurrency == s.defaultCurrency || !tx.ChargedAmountILS.IsZero() {
		return nil
	}

	rate, err := s.rates.Rate(ctx, tx.DealDate, tx.OriginalCurrency)
	if err != nil {
		return fmt.Errorf("rate lookup %s: %w", tx.OriginalCurrency, err)
	}
	if rate == nil {
		result.Warnings = append(result.Warnings, domain.RowIssue{
			Message: fmt.Sprintf("no %s rate for %s, using original amount", tx.OriginalCurrency, tx.DealDate.Format("2006-01-02")),
		})
		tx.ChargedAmountILS = tx.OriginalAmount
		return nil
	}
	tx.ChargedAmountILS = tx.OriginalAmount.Mul(*rate)
	tx.ExchangeRateUsed = rate
	return nil
}

// dispatchCategorization publishes the fire-and-forget categorization job.
// Publish failures are logged and dropped; the batch is already complete.
func (s *BatchService) dispatchCategorization(ctx context.Context, batchID string, touched map[int64]domain.Business) {
	if len(touched) == 0 {
		return
	}
	businesses := make([]domain.Business, 0, len(touched))
	for _, b := range touched {
		businesses = append(businesses, b)
	}

	event := eventbus.Event{
		ID:   fmt.Sprintf("%s-categorize", batchID),
		Type: eventbus.EventTypeCategorization,
		Payload: eventbus.CategorizationEvent{
			BatchID:    batchID,
			Businesses: businesses,
		},
		Timestamp: time.Now(),
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Error(ctx, "Failed to dispatch categorization", "error", err)
	}
}

// GetBatch exposes batch status for the operator surface.
func (s *BatchService) GetBatch(ctx context.Context, batchID string) (*domain.UploadBatch, error) {
	return s.batches.GetBatch(ctx, batchID)
}
