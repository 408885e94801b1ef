package production

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockworks/internal/inventory"
	"github.com/odyssey-erp/stockworks/internal/recipes"
	"github.com/odyssey-erp/stockworks/internal/shared"
)

const productionModule = "production.batch"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, tenantID, productID uuid.UUID) (inventory.StockItem, error)
	GetItems(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]inventory.StockItem, error)
	GetRecipe(ctx context.Context, tenantID, productID uuid.UUID) ([]recipes.Line, error)
	ListBatches(ctx context.Context, tenantID, productID uuid.UUID, limit int) ([]Batch, error)
}

// FeatureGate reports whether a tenant may use production features.
type FeatureGate interface {
	IsProductionEnabled(ctx context.Context, tenantID uuid.UUID) (bool, error)
}

// Service records production batches and manages recipes.
type Service struct {
	repo        RepositoryPort
	features    FeatureGate
	evaluator   recipes.Evaluator
	events      inventory.EventPublisher
	audit       inventory.AuditPort
	idempotency inventory.IdempotencyPort
	metrics     inventory.Metrics
	logger      *slog.Logger
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	LowStockBatches float64
}

// NewService builds Service. Events, audit, idempotency and metrics may be nil.
func NewService(repo RepositoryPort, features FeatureGate, cfg ServiceConfig, events inventory.EventPublisher, audit inventory.AuditPort, idem inventory.IdempotencyPort, metrics inventory.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		repo:        repo,
		features:    features,
		evaluator:   recipes.Evaluator{LowStockBatches: cfg.LowStockBatches},
		events:      events,
		audit:       audit,
		idempotency: idem,
		metrics:     metrics,
		logger:      logger,
	}
}

// RecordProduction deducts the recipe ingredients for input.BatchSize units
// and records the batch. Deduction and batch insert share one transaction, so
// a failure at any step leaves every stock level untouched.
func (s *Service) RecordProduction(ctx context.Context, tenantID uuid.UUID, input ProductionInput) (result ProductionResult, err error) {
	step := StepStart
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("production", err)
		}
		if err != nil {
			level := slog.LevelError
			if shared.IsClientError(err) {
				level = slog.LevelWarn
			}
			s.logger.Log(ctx, level, "production failed",
				slog.String("tenant_id", tenantID.String()),
				slog.String("product_id", input.ProductID.String()),
				slog.String("step", string(step)),
				slog.Any("error", err))
			err = &StepError{Step: step, Err: err}
		}
	}()

	if tenantID == uuid.Nil {
		return ProductionResult{}, shared.Validation("tenant_id", "is required")
	}
	if err := input.Validate(); err != nil {
		return ProductionResult{}, err
	}

	step = StepValidateModule
	if err := s.requireProduction(ctx, tenantID); err != nil {
		return ProductionResult{}, err
	}
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, tenantID, input.IdempotencyKey, productionModule); err != nil {
			return ProductionResult{}, err
		}
		defer func() {
			if err != nil {
				_ = s.idempotency.Delete(context.WithoutCancel(ctx), tenantID, input.IdempotencyKey, productionModule)
			}
		}()
	}

	now := time.Now().UTC()
	batch := Batch{
		ID:         uuid.New(),
		TenantID:   tenantID,
		ProductID:  input.ProductID,
		Quantity:   input.BatchSize,
		ActorID:    input.ActorID,
		ProducedAt: now,
	}
	var warnings []recipes.LowStockWarning
	var productQty float64

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		step = StepResolveProduct
		product, err := resolveProduct(ctx, tx, tenantID, input.ProductID)
		if err != nil {
			return err
		}

		step = StepLoadRecipe
		lines, err := tx.LoadRecipe(ctx, tenantID, product.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return shared.NotFound(shared.EntityRecipe, product.ID)
		}

		step = StepExpandDemand
		ingredients, err := tx.LockItems(ctx, tenantID, recipes.IngredientIDs(lines))
		if err != nil {
			return err
		}
		perUnit, err := recipes.Expand(lines, ingredients, 1)
		if err != nil {
			return err
		}
		demand, err := recipes.Expand(lines, ingredients, input.BatchSize)
		if err != nil {
			return err
		}

		step = StepCheckAvailability
		ev := s.evaluator.Evaluate(perUnit, stockLevels(ingredients), input.BatchSize)
		if len(ev.Shortfalls) > 0 {
			return &shared.InsufficientStockError{Shortfalls: ev.Shortfalls}
		}
		warnings = ev.LowStockWarnings

		step = StepDeductIngredients
		for _, d := range demand {
			item := ingredients[d.IngredientID]
			remaining, err := inventory.Decrement(item, d.Required)
			if err != nil {
				return err
			}
			item.Quantity = remaining
			if err := tx.SaveItem(ctx, item); err != nil {
				return err
			}
			cost := d.Required * item.AverageCost
			batch.Consumption = append(batch.Consumption, Consumption{
				IngredientID: item.ID,
				Name:         item.Name,
				Unit:         string(item.Unit),
				Quantity:     d.Required,
				UnitCost:     item.AverageCost,
				Cost:         cost,
			})
			batch.TotalCost += cost
			if err := tx.InsertMovement(ctx, inventory.Movement{
				ID:         uuid.New(),
				TenantID:   tenantID,
				ItemID:     item.ID,
				Type:       inventory.MovementProductionConsume,
				QtyChange:  -d.Required,
				BalanceQty: remaining,
				UnitCost:   item.AverageCost,
				RefID:      batch.ID,
				ActorID:    input.ActorID,
				PostedAt:   now,
			}); err != nil {
				return err
			}
		}

		step = StepRecordBatch
		batch.UnitCost = batch.TotalCost / float64(batch.Quantity)
		product.Quantity += float64(input.BatchSize)
		if err := tx.SaveItem(ctx, product); err != nil {
			return err
		}
		if err := tx.InsertMovement(ctx, inventory.Movement{
			ID:         uuid.New(),
			TenantID:   tenantID,
			ItemID:     product.ID,
			Type:       inventory.MovementProductionOutput,
			QtyChange:  float64(input.BatchSize),
			BalanceQty: product.Quantity,
			UnitCost:   batch.UnitCost,
			RefID:      batch.ID,
			ActorID:    input.ActorID,
			PostedAt:   now,
		}); err != nil {
			return err
		}
		productQty = product.Quantity
		return tx.InsertBatch(ctx, batch)
	})
	if err != nil {
		return ProductionResult{}, err
	}
	step = StepDone

	s.publishWarnings(ctx, batch, warnings)
	s.record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  input.ActorID,
		Action:   "production:record_batch",
		Entity:   "production_batch",
		EntityID: batch.ID.String(),
		Meta: map[string]any{
			"product_id": input.ProductID.String(),
			"quantity":   input.BatchSize,
			"total_cost": batch.TotalCost,
		},
	})

	return ProductionResult{
		BatchID:          batch.ID,
		ProductID:        batch.ProductID,
		QuantityProduced: batch.Quantity,
		ProductQuantity:  productQty,
		TotalCost:        batch.TotalCost,
		UnitCost:         batch.UnitCost,
		Consumption:      batch.Consumption,
		Warnings:         warnings,
	}, nil
}

func resolveProduct(ctx context.Context, tx TxRepository, tenantID, productID uuid.UUID) (inventory.StockItem, error) {
	product, err := tx.GetItemForUpdate(ctx, tenantID, productID)
	if errors.Is(err, inventory.ErrItemNotFound) {
		return inventory.StockItem{}, shared.NotFound(shared.EntityProduct, productID)
	}
	if err != nil {
		return inventory.StockItem{}, err
	}
	if product.Kind != inventory.KindFinishedProduct {
		return inventory.StockItem{}, shared.Validation("product_id", "must reference a finished product")
	}
	if !product.Active {
		return inventory.StockItem{}, inventory.ErrItemInactive
	}
	return product, nil
}

func stockLevels(items map[uuid.UUID]inventory.StockItem) map[uuid.UUID]float64 {
	out := make(map[uuid.UUID]float64, len(items))
	for id, item := range items {
		out[id] = item.Quantity
	}
	return out
}

func (s *Service) requireProduction(ctx context.Context, tenantID uuid.UUID) error {
	enabled, err := s.features.IsProductionEnabled(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("production: feature lookup: %w", err)
	}
	if !enabled {
		return &shared.FeatureDisabledError{TenantID: tenantID, Feature: FeatureProduction}
	}
	return nil
}

func (s *Service) publishWarnings(ctx context.Context, batch Batch, warnings []recipes.LowStockWarning) {
	if s.events == nil || len(warnings) == 0 {
		return
	}
	events := make([]inventory.LowStockEvent, 0, len(warnings))
	for _, w := range warnings {
		events = append(events, inventory.LowStockEvent{
			TenantID:     batch.TenantID,
			ProductID:    batch.ProductID,
			IngredientID: w.IngredientID,
			BatchID:      batch.ID,
			Name:         w.Name,
			Unit:         w.Unit,
			Remaining:    w.Remaining,
			Threshold:    w.Threshold,
			RaisedAt:     batch.ProducedAt,
		})
	}
	if err := s.events.PublishLowStock(ctx, events); err != nil {
		s.logger.Warn("low stock alert publish failed",
			slog.String("batch_id", batch.ID.String()),
			slog.Any("error", err))
	}
}

// CheckProducibility reports how many units of the product current stock
// allows and what is missing for batch. It reads without locking.
func (s *Service) CheckProducibility(ctx context.Context, tenantID, productID uuid.UUID, batch int) (Producibility, error) {
	if tenantID == uuid.Nil {
		return Producibility{}, shared.Validation("tenant_id", "is required")
	}
	if batch <= 0 {
		return Producibility{}, shared.Validation("batch_size", "must be positive")
	}

	var (
		product inventory.StockItem
		lines   []recipes.Line
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		product, err = s.repo.GetProduct(gctx, tenantID, productID)
		if errors.Is(err, inventory.ErrItemNotFound) {
			return shared.NotFound(shared.EntityProduct, productID)
		}
		return err
	})
	g.Go(func() error {
		var err error
		lines, err = s.repo.GetRecipe(gctx, tenantID, productID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Producibility{}, err
	}
	if product.Kind != inventory.KindFinishedProduct {
		return Producibility{}, shared.Validation("product_id", "must reference a finished product")
	}
	if len(lines) == 0 {
		return Producibility{}, shared.NotFound(shared.EntityRecipe, productID)
	}

	ingredients, err := s.repo.GetItems(ctx, tenantID, recipes.IngredientIDs(lines))
	if err != nil {
		return Producibility{}, err
	}
	perUnit, err := recipes.Expand(lines, ingredients, 1)
	if err != nil {
		return Producibility{}, err
	}
	ev := s.evaluator.Evaluate(perUnit, stockLevels(ingredients), batch)
	demand := make([]recipes.Demand, len(perUnit))
	for i, d := range perUnit {
		d.Required *= float64(batch)
		demand[i] = d
	}
	return Producibility{
		ProductID:        productID,
		RequestedBatch:   batch,
		CanProduce:       ev.CanProduce,
		MaxProducible:    ev.MaxProducible,
		Unbounded:        ev.Unbounded,
		Demand:           demand,
		Shortfalls:       ev.Shortfalls,
		LowStockWarnings: ev.LowStockWarnings,
	}, nil
}

// SetRecipe replaces the recipe of a product. An empty input clears it.
func (s *Service) SetRecipe(ctx context.Context, tenantID, productID uuid.UUID, input []RecipeLineInput) (update RecipeUpdate, err error) {
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("set_recipe", err)
		}
	}()
	if tenantID == uuid.Nil {
		return RecipeUpdate{}, shared.Validation("tenant_id", "is required")
	}
	if err := s.requireProduction(ctx, tenantID); err != nil {
		return RecipeUpdate{}, err
	}

	lines := make([]recipes.Line, 0, len(input))
	seen := make(map[uuid.UUID]struct{}, len(input))
	for i, in := range input {
		line, err := recipes.NewLine(tenantID, productID, in.IngredientID, in.QtyRequired, in.Unit)
		if err != nil {
			return RecipeUpdate{}, err
		}
		if _, dup := seen[in.IngredientID]; dup {
			return RecipeUpdate{}, shared.Validation("ingredient_id", "appears more than once")
		}
		seen[in.IngredientID] = struct{}{}
		line.Position = i
		lines = append(lines, line)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := resolveProduct(ctx, tx, tenantID, productID); err != nil {
			return err
		}
		ingredients, err := tx.LockItems(ctx, tenantID, recipes.IngredientIDs(lines))
		if err != nil {
			return err
		}
		for _, line := range lines {
			ingredient, ok := ingredients[line.IngredientID]
			if !ok {
				return shared.NotFound(shared.EntityIngredient, line.IngredientID)
			}
			if err := recipes.CheckLine(line, ingredient); err != nil {
				return err
			}
		}
		return tx.ReplaceRecipe(ctx, tenantID, productID, lines)
	})
	if err != nil {
		return RecipeUpdate{}, err
	}
	s.record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  shared.ActorFromContext(ctx),
		Action:   "production:set_recipe",
		Entity:   "recipe",
		EntityID: productID.String(),
		Meta:     map[string]any{"lines": len(lines)},
	})
	return RecipeUpdate{Updated: true, LineCount: len(lines)}, nil
}

// GetRecipe returns the recipe lines of a product.
func (s *Service) GetRecipe(ctx context.Context, tenantID, productID uuid.UUID) ([]recipes.Line, error) {
	if _, err := s.repo.GetProduct(ctx, tenantID, productID); err != nil {
		if errors.Is(err, inventory.ErrItemNotFound) {
			return nil, shared.NotFound(shared.EntityProduct, productID)
		}
		return nil, err
	}
	return s.repo.GetRecipe(ctx, tenantID, productID)
}

// ListBatches returns the batch history of a product.
func (s *Service) ListBatches(ctx context.Context, tenantID, productID uuid.UUID, limit int) ([]Batch, error) {
	return s.repo.ListBatches(ctx, tenantID, productID, limit)
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", log.Action), slog.Any("error", err))
	}
}
