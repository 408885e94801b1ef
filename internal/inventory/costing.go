package inventory

import (
	"math"

	"github.com/odyssey-erp/stockworks/internal/shared"
	"github.com/odyssey-erp/stockworks/internal/units"
)

// QuantityScale is the number of decimal places stock quantities are stored
// with.
const QuantityScale = 6

// QuantityTolerance is one unit in the last stored place. Quantities closer
// than this compare equal.
const QuantityTolerance = 1e-6

// RoundQuantity rounds q to the stored scale.
func RoundQuantity(q float64) float64 {
	const factor = 1e6
	return math.Round(q*factor) / factor
}

// CostUpdate is the result of folding a purchase into an item. NewQuantity and
// NewAverageCost must always be persisted together.
type CostUpdate struct {
	NewQuantity    float64
	NewAverageCost float64
	ConvertedQty   float64
	UnitChanged    bool
}

// ApplyPurchase computes the new stock level and weighted-average unit cost
// after a purchase of qty (in unit) for totalPrice. It does not mutate item.
func ApplyPurchase(item StockItem, qty float64, unit string, totalPrice float64) (CostUpdate, error) {
	if qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return CostUpdate{}, shared.Validation("quantity", "must be positive")
	}
	if totalPrice < 0 || math.IsNaN(totalPrice) || math.IsInf(totalPrice, 0) {
		return CostUpdate{}, shared.Validation("total_price", "must not be negative")
	}
	if item.Quantity < 0 || item.AverageCost < 0 {
		return CostUpdate{}, shared.Validation("item", "carries negative quantity or cost")
	}

	purchaseUnit := units.Normalize(unit)
	addQty := qty
	unitChanged := false
	if purchaseUnit != item.Unit {
		converted, err := units.Convert(qty, purchaseUnit, item.Unit)
		if err != nil {
			return CostUpdate{}, err
		}
		addQty = converted
		unitChanged = true
	}
	addQty = RoundQuantity(addQty)
	if addQty <= 0 {
		return CostUpdate{}, shared.Validation("quantity", "must be positive")
	}

	newQty := RoundQuantity(item.Quantity + addQty)
	var newCost float64
	if newQty > 0 {
		newCost = (item.Quantity*item.AverageCost + totalPrice) / newQty
	}
	return CostUpdate{
		NewQuantity:    newQty,
		NewAverageCost: newCost,
		ConvertedQty:   addQty,
		UnitChanged:    unitChanged,
	}, nil
}

// ReversePurchase undoes a purchase of addQty (already in the item unit) that
// cost totalPrice. It fails when the stock has since dropped below addQty.
func ReversePurchase(item StockItem, addQty, totalPrice float64) (CostUpdate, error) {
	addQty = RoundQuantity(addQty)
	if addQty <= 0 {
		return CostUpdate{}, shared.Validation("quantity", "must be positive")
	}
	if item.Quantity+QuantityTolerance < addQty {
		return CostUpdate{}, ErrNegativeStock
	}
	newQty := RoundQuantity(item.Quantity - addQty)
	if newQty < QuantityTolerance {
		return CostUpdate{NewQuantity: 0, NewAverageCost: 0, ConvertedQty: addQty}, nil
	}
	newCost := (item.Quantity*item.AverageCost - totalPrice) / newQty
	if newCost < 0 {
		newCost = 0
	}
	return CostUpdate{NewQuantity: newQty, NewAverageCost: newCost, ConvertedQty: addQty}, nil
}

// Decrement removes qty from the item, leaving the average cost untouched.
// Stock that reaches zero within tolerance is snapped to zero.
func Decrement(item StockItem, qty float64) (float64, error) {
	if qty < 0 {
		return 0, shared.Validation("quantity", "must not be negative")
	}
	remaining := RoundQuantity(item.Quantity - qty)
	if remaining < -QuantityTolerance {
		return 0, ErrNegativeStock
	}
	if remaining < QuantityTolerance {
		remaining = 0
	}
	return remaining, nil
}
