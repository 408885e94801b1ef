package inventory

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/stockworks/internal/shared"
	"github.com/odyssey-erp/stockworks/internal/units"
)

// ItemKind separates purchasable raw materials from produced goods.
type ItemKind string

const (
	// KindRawMaterial is bought and consumed by recipes.
	KindRawMaterial ItemKind = "RAW_MATERIAL"
	// KindFinishedProduct is produced from a recipe and sold.
	KindFinishedProduct ItemKind = "FINISHED_PRODUCT"
)

// Valid reports whether k is a known kind.
func (k ItemKind) Valid() bool {
	return k == KindRawMaterial || k == KindFinishedProduct
}

// PackageDescriptor lets an item stocked in discrete packages be consumed by
// weight or volume.
type PackageDescriptor struct {
	PackageWeight float64    `json:"package_weight"`
	WeightUnit    units.Unit `json:"weight_unit"`
}

// Validate enforces a positive weight paired with a mass or volume unit.
func (p PackageDescriptor) Validate() error {
	if p.PackageWeight <= 0 {
		return shared.Validation("package_weight", "must be positive")
	}
	if !units.IsMeasure(p.WeightUnit) {
		return shared.Validation("weight_unit", "must be a mass or volume unit")
	}
	return nil
}

// StockItem is a tenant-scoped raw material or finished product.
type StockItem struct {
	ID          uuid.UUID          `json:"id"`
	TenantID    uuid.UUID          `json:"tenant_id"`
	Name        string             `json:"name"`
	Kind        ItemKind           `json:"kind"`
	Unit        units.Unit         `json:"unit"`
	Quantity    float64            `json:"quantity"`
	AverageCost float64            `json:"average_cost"`
	Package     *PackageDescriptor `json:"package,omitempty"`
	Active      bool               `json:"active"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// PackageTracked reports whether the item is stocked in discrete packages
// that recipes consume by weight or volume.
func (s StockItem) PackageTracked() bool {
	return s.Package != nil && !units.IsMeasure(s.Unit)
}

// RecipeUnit is the unit recipes use for this item when a line names none.
func (s StockItem) RecipeUnit() units.Unit {
	if s.PackageTracked() {
		return s.Package.WeightUnit
	}
	return s.Unit
}

// Validate checks the stock item invariants.
func (s StockItem) Validate() error {
	if s.TenantID == uuid.Nil {
		return shared.Validation("tenant_id", "is required")
	}
	if s.Name == "" {
		return shared.Validation("name", "is required")
	}
	if !s.Kind.Valid() {
		return shared.Validation("kind", "is not supported")
	}
	if s.Unit == "" {
		return shared.Validation("unit", "is required")
	}
	if s.Quantity < 0 {
		return shared.Validation("quantity", "must not be negative")
	}
	if s.AverageCost < 0 {
		return shared.Validation("average_cost", "must not be negative")
	}
	if s.Package != nil {
		if units.IsMeasure(s.Unit) {
			return shared.Validation("package", "only applies to items stocked in discrete units")
		}
		return s.Package.Validate()
	}
	return nil
}

// NewStockItem builds a validated, empty stock item.
func NewStockItem(tenantID uuid.UUID, name string, kind ItemKind, unit string, pkg *PackageDescriptor) (StockItem, error) {
	item := StockItem{
		ID:       uuid.New(),
		TenantID: tenantID,
		Name:     CanonicalName(name),
		Kind:     kind,
		Unit:     units.Normalize(unit),
		Active:   true,
	}
	if pkg != nil {
		normalized := PackageDescriptor{PackageWeight: pkg.PackageWeight, WeightUnit: units.Normalize(string(pkg.WeightUnit))}
		item.Package = &normalized
	}
	if err := item.Validate(); err != nil {
		return StockItem{}, err
	}
	return item, nil
}

var nameFolder = cases.Lower(language.Und)

// CanonicalName is the natural dedup key of an item within a tenant.
func CanonicalName(name string) string {
	return strings.Join(strings.Fields(nameFolder.String(name)), " ")
}

// MovementType enumerates stock movements.
type MovementType string

const (
	MovementPurchase          MovementType = "PURCHASE"
	MovementPurchaseReversal  MovementType = "PURCHASE_REVERSAL"
	MovementProductionConsume MovementType = "PRODUCTION_CONSUME"
	MovementProductionOutput  MovementType = "PRODUCTION_OUTPUT"
	MovementSale              MovementType = "SALE"
	MovementSaleReversal      MovementType = "SALE_REVERSAL"
	MovementAdjust            MovementType = "ADJUST"
)

// Movement is an immutable stock card row.
type Movement struct {
	ID         uuid.UUID    `json:"id"`
	TenantID   uuid.UUID    `json:"tenant_id"`
	ItemID     uuid.UUID    `json:"item_id"`
	Type       MovementType `json:"type"`
	QtyChange  float64      `json:"qty_change"`
	BalanceQty float64      `json:"balance_qty"`
	UnitCost   float64      `json:"unit_cost"`
	RefID      uuid.UUID    `json:"ref_id,omitempty"`
	Note       string       `json:"note,omitempty"`
	ActorID    int64        `json:"actor_id,omitempty"`
	PostedAt   time.Time    `json:"posted_at"`
}

// Expense is the ledger record of a purchase.
type Expense struct {
	ID         uuid.UUID       `json:"id"`
	TenantID   uuid.UUID       `json:"tenant_id"`
	ItemID     uuid.UUID       `json:"item_id"`
	ItemName   string          `json:"item_name"`
	Quantity   float64         `json:"quantity"`
	Unit       units.Unit      `json:"unit"`
	Amount     decimal.Decimal `json:"amount"`
	ActorID    int64           `json:"actor_id,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// PurchaseInput describes an inbound purchase of an item identified by name.
type PurchaseInput struct {
	ItemName       string
	Quantity       float64
	Unit           string
	TotalPrice     float64
	Package        *PackageDescriptor
	ActorID        int64
	IdempotencyKey string
}

// PurchaseResult is returned to the caller after a purchase is recorded.
type PurchaseResult struct {
	ItemID      uuid.UUID  `json:"item_id"`
	ExpenseID   uuid.UUID  `json:"expense_id"`
	Quantity    float64    `json:"quantity"`
	UnitCost    float64    `json:"unit_cost"`
	Unit        units.Unit `json:"unit"`
	AddedQty    float64    `json:"added_qty"`
	Converted   bool       `json:"converted"`
	CreatedItem bool       `json:"created_item"`
}

// ProductInput creates a finished product explicitly.
type ProductInput struct {
	Name    string
	Unit    string
	ActorID int64
}

// AdjustmentInput corrects an item quantity by a signed delta.
type AdjustmentInput struct {
	ItemID  uuid.UUID
	Delta   float64
	Note    string
	ActorID int64
}

// DeleteResult reports which branch of the smart delete ran.
type DeleteResult struct {
	Deleted     bool `json:"deleted"`
	Deactivated bool `json:"deactivated"`
}

// ItemFilter narrows item listings.
type ItemFilter struct {
	Kind       ItemKind
	ActiveOnly bool
	Limit      int
}

// MovementFilter narrows stock card listings.
type MovementFilter struct {
	From  time.Time
	To    time.Time
	Limit int
}

// ErrNegativeStock triggered when a movement would result in negative qty.
var ErrNegativeStock = shared.Validation("quantity", "would become negative")

// ErrItemInactive marks operations on a deactivated item.
var ErrItemInactive = shared.Validation("item", "is inactive")

// ErrItemNotFound is returned by repositories for a missing row. Services
// replace it with a NotFoundError carrying the id.
var ErrItemNotFound = errors.New("inventory: item not found")
