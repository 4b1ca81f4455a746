package eventbus

import (
	"time"

	"github.com/itamarsh/cardledger/internal/domain"
)

type EventType string

const (
	EventTypeCategorization EventType = "categorization"
)

type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
	Retries   int         `json:"retries"`
}

// CategorizationEvent asks the classifier to assign categories to the
// businesses touched by a completed batch. Dispatched fire-and-forget; its
// failure never fails the batch.
type CategorizationEvent struct {
	BatchID    string            `json:"batch_id"`
	Businesses []domain.Business `json:"businesses"`
}
