package recipes

import (
	"math"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockworks/internal/inventory"
	"github.com/odyssey-erp/stockworks/internal/shared"
)

// DefaultLowStockBatches is how many more units an ingredient must cover
// before a warning is raised.
const DefaultLowStockBatches = 5

// LowStockWarning flags an ingredient that will cover fewer than the
// configured number of further units.
type LowStockWarning struct {
	IngredientID uuid.UUID `json:"ingredient_id"`
	Name         string    `json:"name"`
	Unit         string    `json:"unit"`
	Remaining    float64   `json:"remaining"`
	Threshold    float64   `json:"threshold"`
}

// Evaluation is the outcome of checking a batch against stock.
type Evaluation struct {
	RequestedBatch   int                `json:"requested_batch"`
	MaxProducible    int                `json:"max_producible"`
	Unbounded        bool               `json:"unbounded"`
	CanProduce       bool               `json:"can_produce"`
	Shortfalls       []shared.Shortfall `json:"shortfalls"`
	LowStockWarnings []LowStockWarning  `json:"low_stock_warnings"`
}

// Evaluator holds the availability thresholds.
type Evaluator struct {
	LowStockBatches float64
}

// Evaluate checks demand expanded for a single unit against stock using the
// default threshold.
func Evaluate(perUnit []Demand, stock map[uuid.UUID]float64, requestedBatch int) Evaluation {
	return Evaluator{LowStockBatches: DefaultLowStockBatches}.Evaluate(perUnit, stock, requestedBatch)
}

// Evaluate computes the maximum producible quantity, the shortfalls for
// requestedBatch and the ingredients left low after producing it.
// Requirements of zero never limit production; when every requirement is
// zero the result is Unbounded.
func (e Evaluator) Evaluate(perUnit []Demand, stock map[uuid.UUID]float64, requestedBatch int) Evaluation {
	threshold := e.LowStockBatches
	if threshold <= 0 {
		threshold = DefaultLowStockBatches
	}
	ev := Evaluation{
		RequestedBatch:   requestedBatch,
		Shortfalls:       []shared.Shortfall{},
		LowStockWarnings: []LowStockWarning{},
	}
	if len(perUnit) == 0 {
		return ev
	}

	maxProducible := -1
	for _, d := range perUnit {
		if d.Required <= 0 {
			continue
		}
		available := stock[d.IngredientID]
		if available < 0 {
			available = 0
		}
		n := producibleUnits(available, d.Required)
		if maxProducible < 0 || n < maxProducible {
			maxProducible = n
		}

		need := d.Required * float64(requestedBatch)
		if available+inventory.QuantityTolerance < need {
			ev.Shortfalls = append(ev.Shortfalls, shared.Shortfall{
				ItemID:    d.IngredientID,
				Name:      d.Name,
				Unit:      string(d.Unit),
				Required:  need,
				Available: available,
				Shortfall: need - available,
			})
			continue
		}
		remaining := math.Max(available-need, 0)
		limit := d.Required * threshold
		if remaining < limit {
			ev.LowStockWarnings = append(ev.LowStockWarnings, LowStockWarning{
				IngredientID: d.IngredientID,
				Name:         d.Name,
				Unit:         string(d.Unit),
				Remaining:    remaining,
				Threshold:    limit,
			})
		}
	}
	if maxProducible < 0 {
		ev.Unbounded = true
		maxProducible = 0
	}
	ev.MaxProducible = maxProducible
	ev.CanProduce = requestedBatch > 0 && len(ev.Shortfalls) == 0
	return ev
}

// producibleUnits is how many whole units available covers at required per
// unit. A unit is covered when available reaches its total within the stored
// tolerance, so 3 bags at 0.2 per unit gives 15. Counts past the int range
// clamp to math.MaxInt.
func producibleUnits(available, required float64) int {
	ratio := math.Floor(available / required)
	if ratio >= float64(math.MaxInt) {
		return math.MaxInt
	}
	n := int(ratio)
	if float64(n+1)*required <= available+inventory.QuantityTolerance {
		n++
	}
	return n
}
