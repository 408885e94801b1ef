package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockworks/internal/shared"
	"github.com/odyssey-erp/stockworks/internal/units"
)

const purchaseModule = "inventory.purchase"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, tenantID, itemID uuid.UUID) (StockItem, error)
	ListItems(ctx context.Context, tenantID uuid.UUID, filter ItemFilter) ([]StockItem, error)
	ListMovements(ctx context.Context, tenantID, itemID uuid.UUID, filter MovementFilter) ([]Movement, error)
}

// ExpenseWriter appends purchase expenses to the ledger.
type ExpenseWriter interface {
	AppendExpense(ctx context.Context, expense Expense) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards retried requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, tenantID uuid.UUID, key, module string) error
	Delete(ctx context.Context, tenantID uuid.UUID, key, module string) error
}

// Metrics records operation outcomes.
type Metrics interface {
	ObserveOperation(operation string, err error)
	IncCompensationFailure(operation string)
}

// Service coordinates inventory operations.
type Service struct {
	repo        RepositoryPort
	expenses    ExpenseWriter
	audit       AuditPort
	idempotency IdempotencyPort
	metrics     Metrics
	logger      *slog.Logger
}

// NewService builds Service. Audit, idempotency and metrics are optional.
func NewService(repo RepositoryPort, expenses ExpenseWriter, audit AuditPort, idem IdempotencyPort, metrics Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, expenses: expenses, audit: audit, idempotency: idem, metrics: metrics, logger: logger}
}

// RecordPurchase adds a purchase to the named item, creating it as a raw
// material on first sight, and appends the matching expense. When the expense
// cannot be written the stock change is reversed before returning.
func (s *Service) RecordPurchase(ctx context.Context, tenantID uuid.UUID, input PurchaseInput) (result PurchaseResult, err error) {
	defer func() { s.observe("purchase", err) }()

	if err := validatePurchase(tenantID, input); err != nil {
		return PurchaseResult{}, err
	}
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, tenantID, input.IdempotencyKey, purchaseModule); err != nil {
			return PurchaseResult{}, err
		}
		defer func() {
			var compErr *shared.CompensationError
			if err != nil && !errors.As(err, &compErr) {
				_ = s.idempotency.Delete(context.WithoutCancel(ctx), tenantID, input.IdempotencyKey, purchaseModule)
			}
		}()
	}

	name := CanonicalName(input.ItemName)
	var item StockItem
	now := time.Now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.FindItemByNameForUpdate(ctx, tenantID, name)
		switch {
		case errors.Is(err, ErrItemNotFound):
			current, err = NewStockItem(tenantID, name, KindRawMaterial, input.Unit, input.Package)
			if err != nil {
				return err
			}
			inserted, err := tx.InsertItem(ctx, current)
			if err != nil {
				return err
			}
			if !inserted {
				return fmt.Errorf("inventory: item %q created concurrently: %w", name, shared.ErrConflict)
			}
			result.CreatedItem = true
		case err != nil:
			return err
		}

		update, err := ApplyPurchase(current, input.Quantity, input.Unit, input.TotalPrice)
		if err != nil {
			return err
		}
		current.Quantity = update.NewQuantity
		current.AverageCost = update.NewAverageCost
		current.Active = true
		if current.Package == nil && input.Package != nil {
			pkg := PackageDescriptor{PackageWeight: input.Package.PackageWeight, WeightUnit: units.Normalize(string(input.Package.WeightUnit))}
			current.Package = &pkg
			if err := current.Validate(); err != nil {
				return err
			}
		}
		if err := tx.SaveItem(ctx, current); err != nil {
			return err
		}
		if err := tx.InsertMovement(ctx, Movement{
			ID:         uuid.New(),
			TenantID:   tenantID,
			ItemID:     current.ID,
			Type:       MovementPurchase,
			QtyChange:  update.ConvertedQty,
			BalanceQty: update.NewQuantity,
			UnitCost:   input.TotalPrice / update.ConvertedQty,
			ActorID:    input.ActorID,
			PostedAt:   now,
		}); err != nil {
			return err
		}
		item = current
		result.AddedQty = update.ConvertedQty
		result.Converted = update.UnitChanged
		return nil
	})
	if err != nil {
		return PurchaseResult{}, err
	}

	expense := Expense{
		ID:         uuid.New(),
		TenantID:   tenantID,
		ItemID:     item.ID,
		ItemName:   item.Name,
		Quantity:   input.Quantity,
		Unit:       units.Normalize(input.Unit),
		Amount:     decimal.NewFromFloat(input.TotalPrice).Round(4),
		ActorID:    input.ActorID,
		RecordedAt: now,
	}
	if appendErr := s.expenses.AppendExpense(ctx, expense); appendErr != nil {
		return PurchaseResult{}, s.reversePurchase(ctx, tenantID, item.ID, result.AddedQty, input.TotalPrice, input.ActorID, appendErr)
	}

	s.record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  input.ActorID,
		Action:   "inventory:purchase",
		Entity:   "stock_item",
		EntityID: item.ID.String(),
		Meta: map[string]any{
			"quantity":    input.Quantity,
			"unit":        input.Unit,
			"total_price": input.TotalPrice,
			"expense_id":  expense.ID.String(),
		},
	})

	result.ItemID = item.ID
	result.ExpenseID = expense.ID
	result.Quantity = item.Quantity
	result.UnitCost = item.AverageCost
	result.Unit = item.Unit
	return result, nil
}

// reversePurchase undoes a committed purchase after the expense append failed.
// It runs detached from ctx cancellation: the caller is already failing.
func (s *Service) reversePurchase(ctx context.Context, tenantID, itemID uuid.UUID, qty, totalPrice float64, actorID int64, cause error) error {
	ctx = context.WithoutCancel(ctx)
	rollback := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, tenantID, itemID)
		if err != nil {
			return err
		}
		update, err := ReversePurchase(item, qty, totalPrice)
		if err != nil {
			return err
		}
		item.Quantity = update.NewQuantity
		item.AverageCost = update.NewAverageCost
		if err := tx.SaveItem(ctx, item); err != nil {
			return err
		}
		return tx.InsertMovement(ctx, Movement{
			ID:         uuid.New(),
			TenantID:   tenantID,
			ItemID:     itemID,
			Type:       MovementPurchaseReversal,
			QtyChange:  -qty,
			BalanceQty: update.NewQuantity,
			UnitCost:   totalPrice / qty,
			Note:       "expense append failed",
			ActorID:    actorID,
			PostedAt:   time.Now().UTC(),
		})
	})
	if rollback != nil {
		compErr := &shared.CompensationError{
			Operation: "purchase",
			TenantID:  tenantID,
			ItemID:    itemID,
			Quantity:  qty,
			Cause:     cause,
			Rollback:  rollback,
		}
		s.logger.Error("purchase compensation failed",
			slog.String("tenant_id", tenantID.String()),
			slog.String("item_id", itemID.String()),
			slog.Float64("quantity", qty),
			slog.Any("error", compErr))
		if s.metrics != nil {
			s.metrics.IncCompensationFailure("purchase")
		}
		return compErr
	}
	s.logger.Warn("purchase reverted after expense append failure",
		slog.String("tenant_id", tenantID.String()),
		slog.String("item_id", itemID.String()),
		slog.Any("error", cause))
	return fmt.Errorf("inventory: append expense: %w", cause)
}

func validatePurchase(tenantID uuid.UUID, input PurchaseInput) error {
	if tenantID == uuid.Nil {
		return shared.Validation("tenant_id", "is required")
	}
	if strings.TrimSpace(input.ItemName) == "" {
		return shared.Validation("item_name", "is required")
	}
	if strings.TrimSpace(input.Unit) == "" {
		return shared.Validation("unit", "is required")
	}
	if input.Quantity <= 0 || math.IsNaN(input.Quantity) || math.IsInf(input.Quantity, 0) {
		return shared.Validation("quantity", "must be positive")
	}
	if input.TotalPrice < 0 || math.IsNaN(input.TotalPrice) || math.IsInf(input.TotalPrice, 0) {
		return shared.Validation("total_price", "must not be negative")
	}
	if input.Package != nil {
		pkg := PackageDescriptor{PackageWeight: input.Package.PackageWeight, WeightUnit: units.Normalize(string(input.Package.WeightUnit))}
		if err := pkg.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CreateProduct registers a finished product with zero stock.
func (s *Service) CreateProduct(ctx context.Context, tenantID uuid.UUID, input ProductInput) (StockItem, error) {
	unit := input.Unit
	if strings.TrimSpace(unit) == "" {
		unit = string(units.Piece)
	}
	item, err := NewStockItem(tenantID, input.Name, KindFinishedProduct, unit, nil)
	if err != nil {
		return StockItem{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := tx.InsertItem(ctx, item)
		if err != nil {
			return err
		}
		if !inserted {
			return fmt.Errorf("inventory: item %q already exists: %w", item.Name, shared.ErrConflict)
		}
		return nil
	})
	s.observe("create_product", err)
	if err != nil {
		return StockItem{}, err
	}
	s.record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  input.ActorID,
		Action:   "inventory:create_product",
		Entity:   "stock_item",
		EntityID: item.ID.String(),
		Meta:     map[string]any{"name": item.Name, "unit": string(item.Unit)},
	})
	return item, nil
}

// GetItem returns a single item.
func (s *Service) GetItem(ctx context.Context, tenantID, itemID uuid.UUID) (StockItem, error) {
	item, err := s.repo.GetItem(ctx, tenantID, itemID)
	if errors.Is(err, ErrItemNotFound) {
		return StockItem{}, shared.NotFound(shared.EntityItem, itemID)
	}
	return item, err
}

// ListItems lists the tenant's items.
func (s *Service) ListItems(ctx context.Context, tenantID uuid.UUID, filter ItemFilter) ([]StockItem, error) {
	if tenantID == uuid.Nil {
		return nil, shared.Validation("tenant_id", "is required")
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, shared.Validation("kind", "is not supported")
	}
	return s.repo.ListItems(ctx, tenantID, filter)
}

// DeleteItem hard deletes an item without usage history and deactivates it
// otherwise.
func (s *Service) DeleteItem(ctx context.Context, tenantID, itemID uuid.UUID) (DeleteResult, error) {
	var res DeleteResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetItemForUpdate(ctx, tenantID, itemID); err != nil {
			return err
		}
		used, err := tx.HasUsageHistory(ctx, tenantID, itemID)
		if err != nil {
			return err
		}
		if used {
			res.Deactivated = true
			return tx.DeactivateItem(ctx, tenantID, itemID)
		}
		res.Deleted = true
		return tx.DeleteItem(ctx, tenantID, itemID)
	})
	if errors.Is(err, ErrItemNotFound) {
		err = shared.NotFound(shared.EntityItem, itemID)
	}
	s.observe("delete_item", err)
	if err != nil {
		return DeleteResult{}, err
	}
	s.record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  shared.ActorFromContext(ctx),
		Action:   "inventory:delete_item",
		Entity:   "stock_item",
		EntityID: itemID.String(),
		Meta:     map[string]any{"deleted": res.Deleted, "deactivated": res.Deactivated},
	})
	return res, nil
}

// AdjustStock applies a signed manual correction. The average cost is kept.
func (s *Service) AdjustStock(ctx context.Context, tenantID uuid.UUID, input AdjustmentInput) (StockItem, error) {
	if math.Abs(input.Delta) < QuantityTolerance || math.IsNaN(input.Delta) || math.IsInf(input.Delta, 0) {
		return StockItem{}, shared.Validation("delta", "must be non-zero")
	}
	var item StockItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetItemForUpdate(ctx, tenantID, input.ItemID)
		if err != nil {
			return err
		}
		if !current.Active {
			return ErrItemInactive
		}
		if input.Delta < 0 {
			remaining, err := Decrement(current, -input.Delta)
			if err != nil {
				return err
			}
			current.Quantity = remaining
		} else {
			current.Quantity = RoundQuantity(current.Quantity + input.Delta)
		}
		if err := tx.SaveItem(ctx, current); err != nil {
			return err
		}
		item = current
		return tx.InsertMovement(ctx, Movement{
			ID:         uuid.New(),
			TenantID:   tenantID,
			ItemID:     current.ID,
			Type:       MovementAdjust,
			QtyChange:  input.Delta,
			BalanceQty: current.Quantity,
			UnitCost:   current.AverageCost,
			Note:       input.Note,
			ActorID:    input.ActorID,
			PostedAt:   time.Now().UTC(),
		})
	})
	if errors.Is(err, ErrItemNotFound) {
		err = shared.NotFound(shared.EntityItem, input.ItemID)
	}
	s.observe("adjust", err)
	if err != nil {
		return StockItem{}, err
	}
	s.record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  input.ActorID,
		Action:   "inventory:adjust",
		Entity:   "stock_item",
		EntityID: item.ID.String(),
		Meta:     map[string]any{"delta": input.Delta, "note": input.Note},
	})
	return item, nil
}

// ListMovements returns the stock card of an item.
func (s *Service) ListMovements(ctx context.Context, tenantID, itemID uuid.UUID, filter MovementFilter) ([]Movement, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, shared.Validation("to", "must not be before from")
	}
	return s.repo.ListMovements(ctx, tenantID, itemID, filter)
}

func (s *Service) observe(operation string, err error) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(operation, err)
	}
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", log.Action), slog.Any("error", err))
	}
}
