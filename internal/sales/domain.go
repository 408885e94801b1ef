// Package sales decrements finished stock for sales and appends them to the
// revenue ledger.
package sales

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockworks/internal/shared"
	"github.com/odyssey-erp/stockworks/internal/units"
)

// Step names a stage of a sale.
type Step string

const (
	StepCheckStock     Step = "CHECK_STOCK"
	StepDecrementStock Step = "DECREMENT_STOCK"
	StepRecordSale     Step = "RECORD_SALE"
)

// Sale is an append-only revenue record.
type Sale struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    uuid.UUID       `json:"tenant_id"`
	ItemID      uuid.UUID       `json:"item_id"`
	ItemName    string          `json:"item_name"`
	Quantity    float64         `json:"quantity"`
	Unit        units.Unit      `json:"unit"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CustomerRef string          `json:"customer_ref,omitempty"`
	ActorID     int64           `json:"actor_id,omitempty"`
	SoldAt      time.Time       `json:"sold_at"`
}

// SaleInput requests the sale of an item quantity for a total amount.
type SaleInput struct {
	ItemID         uuid.UUID
	Quantity       float64
	TotalAmount    float64
	CustomerRef    string
	ActorID        int64
	IdempotencyKey string
}

// Validate checks the request shape.
func (in SaleInput) Validate() error {
	if in.ItemID == uuid.Nil {
		return shared.Validation("item_id", "is required")
	}
	if in.Quantity <= 0 || math.IsNaN(in.Quantity) || math.IsInf(in.Quantity, 0) {
		return shared.Validation("quantity", "must be positive")
	}
	if in.TotalAmount < 0 || math.IsNaN(in.TotalAmount) || math.IsInf(in.TotalAmount, 0) {
		return shared.Validation("total_amount", "must not be negative")
	}
	if len(in.CustomerRef) > 200 {
		return shared.Validation("customer_ref", "is too long")
	}
	return nil
}

// SaleResult summarizes a recorded sale.
type SaleResult struct {
	SaleID            uuid.UUID       `json:"sale_id"`
	ItemID            uuid.UUID       `json:"item_id"`
	Quantity          float64         `json:"quantity"`
	RemainingQuantity float64         `json:"remaining_quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	CostOfGoods       float64         `json:"cost_of_goods"`
}

// UnitPrice derives the per-unit price of a sale, rounded to four places.
func UnitPrice(total decimal.Decimal, quantity float64) decimal.Decimal {
	q := decimal.NewFromFloat(quantity)
	if q.IsZero() {
		return decimal.Zero
	}
	return total.DivRound(q, 4)
}
