package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LowStockEvent is raised when a mutation leaves an ingredient with less than
// its alert threshold on hand.
type LowStockEvent struct {
	TenantID     uuid.UUID `json:"tenant_id"`
	ProductID    uuid.UUID `json:"product_id"`
	IngredientID uuid.UUID `json:"ingredient_id"`
	BatchID      uuid.UUID `json:"batch_id"`
	Name         string    `json:"name"`
	Unit         string    `json:"unit"`
	Remaining    float64   `json:"remaining"`
	Threshold    float64   `json:"threshold"`
	RaisedAt     time.Time `json:"raised_at"`
}

// EventPublisher forwards inventory events to background processing.
type EventPublisher interface {
	PublishLowStock(ctx context.Context, events []LowStockEvent) error
}
