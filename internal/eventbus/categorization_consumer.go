package eventbus

import (
	"context"
	"fmt"

	"github.com/itamarsh/cardledger/internal/domain"
	"github.com/itamarsh/cardledger/pkg/logger"
)

// CategorizationConsumer hands batches of business names to the external
// classifier and writes the assignments back. Runs after batch ingestion,
// decoupled from it.
type CategorizationConsumer struct {
	repo        domain.TransactionRepository
	classifier  domain.Classifier
	logger      *logger.Logger
	workerCount int
}

func NewCategorizationConsumer(repo domain.TransactionRepository, classifier domain.Classifier, log *logger.Logger, workerCount int) *CategorizationConsumer {
	return &CategorizationConsumer{
		repo:        repo,
		classifier:  classifier,
		logger:      log,
		workerCount: workerCount,
	}
}

func (c *CategorizationConsumer) Consume(ctx context.Context, event Event) error {
	payload, ok := event.Payload.(CategorizationEvent)
	if !ok {
		c.logger.Error(ctx, "Invalid payload type for categorization event",
			"event_id", event.ID,
		)
		return fmt.Errorf("invalid payload type")
	}

	if len(payload.Businesses) == 0 {
		return nil
	}

	ctx = logger.WithBatchID(ctx, payload.BatchID)

	names := make([]string, 0, len(payload.Businesses))
	byName := make(map[string]int64, len(payload.Businesses))
	for _, b := range payload.Businesses {
		names = append(names, b.Name)
		byName[b.Name] = b.ID
	}

	categories, err := c.classifier.Classify(ctx, names)
	if err != nil {
		c.logger.Error(ctx, "Classification failed",
			"event_id", event.ID,
			"business_count", len(names),
			"error", err,
		)
		return err
	}

	assigned := 0
	for name, category := range categories {
		businessID, ok := byName[name]
		if !ok || category == "" {
			continue
		}
		if err := c.repo.SetCategoryForBusiness(ctx, businessID, category); err != nil {
			c.logger.Error(ctx, "Failed to store category",
				"business_id", businessID,
				"error", err,
			)
			continue
		}
		assigned++
	}

	c.logger.Info(ctx, "Categorization completed",
		"event_id", event.ID,
		"business_count", len(names),
		"assigned", assigned,
	)

	return nil
}

func (c *CategorizationConsumer) GetWorkerCount() int {
	return c.workerCount
}
