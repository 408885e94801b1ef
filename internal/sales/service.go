package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockworks/internal/inventory"
	"github.com/odyssey-erp/stockworks/internal/shared"
)

const saleModule = "sales.sale"

// StockStore runs locked stock mutations.
type StockStore interface {
	WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error
}

// Ledger appends and reads sale records.
type Ledger interface {
	AppendSale(ctx context.Context, sale Sale) error
	ListSales(ctx context.Context, tenantID, itemID uuid.UUID, limit int) ([]Sale, error)
}

// Service records sales.
type Service struct {
	stock       StockStore
	ledger      Ledger
	audit       inventory.AuditPort
	idempotency inventory.IdempotencyPort
	metrics     inventory.Metrics
	logger      *slog.Logger
}

// NewService builds Service. Audit, idempotency and metrics may be nil.
func NewService(stock StockStore, ledger Ledger, audit inventory.AuditPort, idem inventory.IdempotencyPort, metrics inventory.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{stock: stock, ledger: ledger, audit: audit, idempotency: idem, metrics: metrics, logger: logger}
}

// RecordSale decrements the item and appends the sale to the ledger. The
// decrement commits first; if the ledger append fails the quantity is put
// back before returning, and a failed put-back yields a CompensationError.
func (s *Service) RecordSale(ctx context.Context, tenantID uuid.UUID, input SaleInput) (result SaleResult, err error) {
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("sale", err)
		}
	}()
	if tenantID == uuid.Nil {
		return SaleResult{}, shared.Validation("tenant_id", "is required")
	}
	if err := input.Validate(); err != nil {
		return SaleResult{}, err
	}
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, tenantID, input.IdempotencyKey, saleModule); err != nil {
			return SaleResult{}, err
		}
		defer func() {
			// The key outlives a committed decrement that has no sale row.
			var compErr *shared.CompensationError
			if err != nil && !errors.As(err, &compErr) {
				_ = s.idempotency.Delete(context.WithoutCancel(ctx), tenantID, input.IdempotencyKey, saleModule)
			}
		}()
	}

	now := time.Now().UTC()
	total := decimal.NewFromFloat(input.TotalAmount).Round(4)
	sale := Sale{
		ID:          uuid.New(),
		TenantID:    tenantID,
		ItemID:      input.ItemID,
		Quantity:    input.Quantity,
		UnitPrice:   UnitPrice(total, input.Quantity),
		TotalAmount: total,
		CustomerRef: input.CustomerRef,
		ActorID:     input.ActorID,
		SoldAt:      now,
	}
	var item inventory.StockItem

	err = s.stock.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		current, err := tx.GetItemForUpdate(ctx, tenantID, input.ItemID)
		if errors.Is(err, inventory.ErrItemNotFound) {
			return shared.NotFound(shared.EntityItem, input.ItemID)
		}
		if err != nil {
			return err
		}
		if !current.Active {
			return inventory.ErrItemInactive
		}

		remaining, err := inventory.Decrement(current, input.Quantity)
		if errors.Is(err, inventory.ErrNegativeStock) {
			return fmt.Errorf("sales: %s: %w", StepCheckStock, &shared.InsufficientStockError{Shortfalls: []shared.Shortfall{{
				ItemID:    current.ID,
				Name:      current.Name,
				Unit:      string(current.Unit),
				Required:  input.Quantity,
				Available: current.Quantity,
				Shortfall: input.Quantity - current.Quantity,
			}}})
		}
		if err != nil {
			return fmt.Errorf("sales: %s: %w", StepCheckStock, err)
		}

		current.Quantity = remaining
		if err := tx.SaveItem(ctx, current); err != nil {
			return fmt.Errorf("sales: %s: %w", StepDecrementStock, err)
		}
		item = current
		err = tx.InsertMovement(ctx, inventory.Movement{
			ID:         uuid.New(),
			TenantID:   tenantID,
			ItemID:     current.ID,
			Type:       inventory.MovementSale,
			QtyChange:  -input.Quantity,
			BalanceQty: remaining,
			UnitCost:   current.AverageCost,
			RefID:      sale.ID,
			ActorID:    input.ActorID,
			PostedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("sales: %s: %w", StepDecrementStock, err)
		}
		return nil
	})
	if err != nil {
		return SaleResult{}, err
	}

	sale.ItemName = item.Name
	sale.Unit = item.Unit
	if appendErr := s.ledger.AppendSale(ctx, sale); appendErr != nil {
		return SaleResult{}, s.revertDecrement(ctx, sale, appendErr)
	}

	s.record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  input.ActorID,
		Action:   "sales:record_sale",
		Entity:   "sale",
		EntityID: sale.ID.String(),
		Meta: map[string]any{
			"item_id":      input.ItemID.String(),
			"quantity":     input.Quantity,
			"total_amount": total.String(),
		},
	})
	return SaleResult{
		SaleID:            sale.ID,
		ItemID:            item.ID,
		Quantity:          input.Quantity,
		RemainingQuantity: item.Quantity,
		UnitPrice:         sale.UnitPrice,
		TotalAmount:       sale.TotalAmount,
		CostOfGoods:       input.Quantity * item.AverageCost,
	}, nil
}

// revertDecrement puts the sold quantity back after the ledger append failed.
// It adds rather than restores the old level since other sales may have run
// in between.
func (s *Service) revertDecrement(ctx context.Context, sale Sale, cause error) error {
	ctx = context.WithoutCancel(ctx)
	rollback := s.stock.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, sale.TenantID, sale.ItemID)
		if err != nil {
			return err
		}
		item.Quantity += sale.Quantity
		if err := tx.SaveItem(ctx, item); err != nil {
			return err
		}
		return tx.InsertMovement(ctx, inventory.Movement{
			ID:         uuid.New(),
			TenantID:   sale.TenantID,
			ItemID:     item.ID,
			Type:       inventory.MovementSaleReversal,
			QtyChange:  sale.Quantity,
			BalanceQty: item.Quantity,
			UnitCost:   item.AverageCost,
			RefID:      sale.ID,
			Note:       "sale ledger append failed",
			ActorID:    sale.ActorID,
			PostedAt:   time.Now().UTC(),
		})
	})
	if rollback != nil {
		compErr := &shared.CompensationError{
			Operation: "sale",
			TenantID:  sale.TenantID,
			ItemID:    sale.ItemID,
			Quantity:  sale.Quantity,
			Cause:     cause,
			Rollback:  rollback,
		}
		s.logger.Error("sale compensation failed",
			slog.String("tenant_id", sale.TenantID.String()),
			slog.String("item_id", sale.ItemID.String()),
			slog.String("sale_id", sale.ID.String()),
			slog.Float64("quantity", sale.Quantity),
			slog.Any("error", compErr))
		if s.metrics != nil {
			s.metrics.IncCompensationFailure("sale")
		}
		return compErr
	}
	s.logger.Warn("sale reverted after ledger append failure",
		slog.String("tenant_id", sale.TenantID.String()),
		slog.String("sale_id", sale.ID.String()),
		slog.Any("error", cause))
	return fmt.Errorf("sales: %s: %w", StepRecordSale, cause)
}

// ListSales returns the sales of an item, newest first.
func (s *Service) ListSales(ctx context.Context, tenantID, itemID uuid.UUID, limit int) ([]Sale, error) {
	if tenantID == uuid.Nil || itemID == uuid.Nil {
		return nil, shared.Validation("item_id", "is required")
	}
	return s.ledger.ListSales(ctx, tenantID, itemID, limit)
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", log.Action), slog.Any("error", err))
	}
}
