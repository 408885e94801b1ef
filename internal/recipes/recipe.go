// Package recipes expands product recipes into ingredient requirements and
// evaluates them against stock on hand.
package recipes

import (
	"math"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockworks/internal/inventory"
	"github.com/odyssey-erp/stockworks/internal/shared"
	"github.com/odyssey-erp/stockworks/internal/units"
)

// Line is one ingredient requirement per unit of finished product.
type Line struct {
	ID           uuid.UUID  `json:"id"`
	TenantID     uuid.UUID  `json:"tenant_id"`
	ProductID    uuid.UUID  `json:"product_id"`
	IngredientID uuid.UUID  `json:"ingredient_id"`
	QtyRequired  float64    `json:"qty_required"`
	Unit         units.Unit `json:"unit,omitempty"`
	Position     int        `json:"position"`
}

// NewLine builds a validated recipe line. An empty unit means the
// ingredient's own recipe unit.
func NewLine(tenantID, productID, ingredientID uuid.UUID, qty float64, unit string) (Line, error) {
	if tenantID == uuid.Nil {
		return Line{}, shared.Validation("tenant_id", "is required")
	}
	if productID == uuid.Nil {
		return Line{}, shared.Validation("product_id", "is required")
	}
	if ingredientID == uuid.Nil {
		return Line{}, shared.Validation("ingredient_id", "is required")
	}
	if ingredientID == productID {
		return Line{}, shared.Validation("ingredient_id", "must differ from the product")
	}
	if qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return Line{}, shared.Validation("qty_required", "must be positive")
	}
	line := Line{
		ID:           uuid.New(),
		TenantID:     tenantID,
		ProductID:    productID,
		IngredientID: ingredientID,
		QtyRequired:  qty,
	}
	if unit != "" {
		line.Unit = units.Normalize(unit)
	}
	return line, nil
}

// Demand is the amount of one ingredient needed, expressed in the
// ingredient's tracking unit (packages for package-tracked items).
type Demand struct {
	IngredientID uuid.UUID  `json:"ingredient_id"`
	Name         string     `json:"name"`
	Unit         units.Unit `json:"unit"`
	Required     float64    `json:"required"`
}

// lineUnit resolves the unit a line is expressed in and checks that it can be
// brought into the ingredient's stock.
func lineUnit(line Line, ingredient inventory.StockItem) (units.Unit, error) {
	unit := line.Unit
	if unit == "" {
		unit = ingredient.RecipeUnit()
	}
	target := ingredient.Unit
	if ingredient.PackageTracked() {
		target = ingredient.Package.WeightUnit
	}
	if !units.AreCompatible(unit, target) {
		return "", &shared.IncompatibleUnitsError{From: string(unit), To: string(target)}
	}
	return unit, nil
}

// CheckLine validates a line against the ingredient it references.
func CheckLine(line Line, ingredient inventory.StockItem) error {
	if ingredient.Kind != inventory.KindRawMaterial {
		return shared.Validation("ingredient_id", "must reference a raw material")
	}
	_, err := lineUnit(line, ingredient)
	return err
}

// Expand multiplies the recipe by batch and converts each requirement into
// the ingredient's tracking unit. Lines naming the same ingredient are summed.
func Expand(lines []Line, ingredients map[uuid.UUID]inventory.StockItem, batch int) ([]Demand, error) {
	if len(lines) == 0 {
		return nil, &shared.NotFoundError{Entity: shared.EntityRecipe}
	}
	if batch <= 0 {
		return nil, shared.Validation("batch_size", "must be positive")
	}
	index := make(map[uuid.UUID]int, len(lines))
	demands := make([]Demand, 0, len(lines))
	for _, line := range lines {
		ingredient, ok := ingredients[line.IngredientID]
		if !ok {
			return nil, shared.NotFound(shared.EntityIngredient, line.IngredientID)
		}
		unit, err := lineUnit(line, ingredient)
		if err != nil {
			return nil, err
		}
		raw := line.QtyRequired * float64(batch)
		var required float64
		if ingredient.PackageTracked() {
			pkg := ingredient.Package
			weight, err := units.Convert(raw, unit, pkg.WeightUnit)
			if err != nil {
				return nil, err
			}
			required = weight / pkg.PackageWeight
		} else {
			required, err = units.Convert(raw, unit, ingredient.Unit)
			if err != nil {
				return nil, err
			}
		}
		if i, seen := index[line.IngredientID]; seen {
			demands[i].Required += required
			continue
		}
		index[line.IngredientID] = len(demands)
		demands = append(demands, Demand{
			IngredientID: ingredient.ID,
			Name:         ingredient.Name,
			Unit:         ingredient.Unit,
			Required:     required,
		})
	}
	return demands, nil
}

// IngredientIDs returns the distinct ingredient ids of lines.
func IngredientIDs(lines []Line) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(lines))
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.IngredientID]; ok {
			continue
		}
		seen[line.IngredientID] = struct{}{}
		ids = append(ids, line.IngredientID)
	}
	return ids
}
