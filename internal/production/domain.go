// Package production turns recipes into finished goods: it checks
// availability, deducts ingredients and records immutable batches.
package production

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockworks/internal/recipes"
	"github.com/odyssey-erp/stockworks/internal/shared"
)

// FeatureProduction is the tenant capability gating production.
const FeatureProduction = "production"

// Step names a stage of the production state machine.
type Step string

const (
	StepStart             Step = "START"
	StepValidateModule    Step = "VALIDATE_MODULE_ENABLED"
	StepResolveProduct    Step = "RESOLVE_PRODUCT"
	StepLoadRecipe        Step = "LOAD_RECIPE"
	StepExpandDemand      Step = "EXPAND_DEMAND"
	StepCheckAvailability Step = "CHECK_AVAILABILITY"
	StepDeductIngredients Step = "DEDUCT_INGREDIENTS"
	StepRecordBatch       Step = "RECORD_BATCH"
	StepDone              Step = "DONE"
	StepFailed            Step = "FAILED"
)

// StepError records the stage at which production failed.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("production failed at %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Consumption is the amount of one ingredient a batch used.
type Consumption struct {
	IngredientID uuid.UUID `json:"ingredient_id"`
	Name         string    `json:"name"`
	Unit         string    `json:"unit"`
	Quantity     float64   `json:"quantity"`
	UnitCost     float64   `json:"unit_cost"`
	Cost         float64   `json:"cost"`
}

// Batch is an immutable production record.
type Batch struct {
	ID          uuid.UUID     `json:"id"`
	TenantID    uuid.UUID     `json:"tenant_id"`
	ProductID   uuid.UUID     `json:"product_id"`
	Quantity    int           `json:"quantity"`
	TotalCost   float64       `json:"total_cost"`
	UnitCost    float64       `json:"unit_cost"`
	Consumption []Consumption `json:"consumption"`
	ActorID     int64         `json:"actor_id,omitempty"`
	ProducedAt  time.Time     `json:"produced_at"`
}

// ProductionInput requests a batch of a finished product.
type ProductionInput struct {
	ProductID      uuid.UUID
	BatchSize      int
	ActorID        int64
	IdempotencyKey string
}

// Validate checks the request shape.
func (in ProductionInput) Validate() error {
	if in.ProductID == uuid.Nil {
		return shared.Validation("product_id", "is required")
	}
	if in.BatchSize <= 0 {
		return shared.Validation("batch_size", "must be positive")
	}
	return nil
}

// ProductionResult summarizes a recorded batch.
type ProductionResult struct {
	BatchID          uuid.UUID                 `json:"batch_id"`
	ProductID        uuid.UUID                 `json:"product_id"`
	QuantityProduced int                       `json:"quantity_produced"`
	ProductQuantity  float64                   `json:"product_quantity"`
	TotalCost        float64                   `json:"total_cost"`
	UnitCost         float64                   `json:"unit_cost"`
	Consumption      []Consumption             `json:"consumption"`
	Warnings         []recipes.LowStockWarning `json:"warnings"`
}

// Producibility is a read-only availability report.
type Producibility struct {
	ProductID        uuid.UUID                 `json:"product_id"`
	RequestedBatch   int                       `json:"requested_batch"`
	CanProduce       bool                      `json:"can_produce"`
	MaxProducible    int                       `json:"max_producible"`
	Unbounded        bool                      `json:"unbounded"`
	Demand           []recipes.Demand          `json:"demand"`
	Shortfalls       []shared.Shortfall        `json:"shortfalls"`
	LowStockWarnings []recipes.LowStockWarning `json:"low_stock_warnings"`
}

// RecipeLineInput is one requested recipe line.
type RecipeLineInput struct {
	IngredientID uuid.UUID `json:"ingredient_id"`
	QtyRequired  float64   `json:"qty_required"`
	Unit         string    `json:"unit"`
}

// RecipeUpdate reports a recipe replacement.
type RecipeUpdate struct {
	Updated   bool `json:"updated"`
	LineCount int  `json:"line_count"`
}
