package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockworks/internal/inventory"
	"github.com/odyssey-erp/stockworks/internal/inventory/inventorytest"
	"github.com/odyssey-erp/stockworks/internal/shared"
	"github.com/odyssey-erp/stockworks/internal/units"
)

type expenseLedger struct {
	mu       sync.Mutex
	err      error
	expenses []inventory.Expense
}

func (l *expenseLedger) AppendExpense(_ context.Context, e inventory.Expense) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.expenses = append(l.expenses, e)
	return nil
}

type countingMetrics struct {
	outcomes      map[string][]error
	compensations map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{outcomes: map[string][]error{}, compensations: map[string]int{}}
}

func (m *countingMetrics) ObserveOperation(op string, err error) {
	m.outcomes[op] = append(m.outcomes[op], err)
}

func (m *countingMetrics) IncCompensationFailure(op string) { m.compensations[op]++ }

type memoryKeys struct {
	keys map[string]bool
}

func (k *memoryKeys) CheckAndInsert(_ context.Context, tenantID uuid.UUID, key, module string) error {
	id := tenantID.String() + module + key
	if k.keys[id] {
		return shared.ErrIdempotencyConflict
	}
	k.keys[id] = true
	return nil
}

func (k *memoryKeys) Delete(_ context.Context, tenantID uuid.UUID, key, module string) error {
	delete(k.keys, tenantID.String()+module+key)
	return nil
}

func newService(store *inventorytest.Store, ledger *expenseLedger) *inventory.Service {
	return inventory.NewService(store, ledger, nil, nil, nil, nil)
}

func TestRecordPurchaseConvertsIntoTrackingUnit(t *testing.T) {
	store := inventorytest.NewStore()
	ledger := &expenseLedger{}
	tenant := uuid.New()
	flour := store.Put(inventory.StockItem{TenantID: tenant, Name: "flour", Kind: inventory.KindRawMaterial, Unit: units.Gram, Active: true})
	svc := newService(store, ledger)

	res, err := svc.RecordPurchase(context.Background(), tenant, inventory.PurchaseInput{ItemName: "FLOUR", Quantity: 10, Unit: "kg", TotalPrice: 50})
	require.NoError(t, err)
	require.Equal(t, flour.ID, res.ItemID)
	require.True(t, res.Converted)
	require.False(t, res.CreatedItem)
	require.InDelta(t, 10000, res.Quantity, 1e-9)
	require.InDelta(t, 0.005, res.UnitCost, 1e-12)

	stored, _ := store.Item(flour.ID)
	require.InDelta(t, 10000, stored.Quantity, 1e-9)
	require.InDelta(t, 0.005, stored.AverageCost, 1e-12)

	require.Len(t, ledger.expenses, 1)
	require.Equal(t, "50", ledger.expenses[0].Amount.String())
	require.Equal(t, units.Kilogram, ledger.expenses[0].Unit)

	moves := store.Movements(flour.ID)
	require.Len(t, moves, 1)
	require.Equal(t, inventory.MovementPurchase, moves[0].Type)
	require.InDelta(t, 10000, moves[0].QtyChange, 1e-9)
}

func TestRecordPurchaseCreatesItemOnceByCanonicalName(t *testing.T) {
	store := inventorytest.NewStore()
	tenant := uuid.New()
	pkg := &inventory.PackageDescriptor{PackageWeight: 1000, WeightUnit: "gramos"}
	svc := newService(store, &expenseLedger{})
	ctx := context.Background()

	first, err := svc.RecordPurchase(ctx, tenant, inventory.PurchaseInput{ItemName: "  Azúcar  Morena", Quantity: 3, Unit: "bolsas", TotalPrice: 9, Package: pkg})
	require.NoError(t, err)
	require.True(t, first.CreatedItem)
	require.Equal(t, units.Bag, first.Unit)

	second, err := svc.RecordPurchase(ctx, tenant, inventory.PurchaseInput{ItemName: "azúcar morena", Quantity: 1, Unit: "bag", TotalPrice: 5})
	require.NoError(t, err)
	require.False(t, second.CreatedItem)
	require.Equal(t, first.ItemID, second.ItemID)
	require.InDelta(t, 4, second.Quantity, 1e-9)
	require.InDelta(t, 3.5, second.UnitCost, 1e-9)

	item, _ := store.Item(first.ItemID)
	require.Equal(t, "azúcar morena", item.Name)
	require.NotNil(t, item.Package)
	require.Equal(t, units.Gram, item.Package.WeightUnit)
}

func TestRecordPurchaseIncompatibleUnitLeavesStockUntouched(t *testing.T) {
	store := inventorytest.NewStore()
	ledger := &expenseLedger{}
	tenant := uuid.New()
	item := store.Put(inventory.StockItem{TenantID: tenant, Name: "wire", Kind: inventory.KindRawMaterial, Unit: units.Kilogram, Quantity: 4, AverageCost: 2, Active: true})
	svc := newService(store, ledger)

	_, err := svc.RecordPurchase(context.Background(), tenant, inventory.PurchaseInput{ItemName: "wire", Quantity: 5, Unit: "m", TotalPrice: 10})
	require.ErrorIs(t, err, shared.ErrIncompatibleUnits)

	stored, _ := store.Item(item.ID)
	require.Equal(t, 4.0, stored.Quantity)
	require.Equal(t, 2.0, stored.AverageCost)
	require.Empty(t, ledger.expenses)
	require.Empty(t, store.Movements(item.ID))
}

func TestRecordPurchaseRejectsInvalidInput(t *testing.T) {
	svc := newService(inventorytest.NewStore(), &expenseLedger{})
	tenant := uuid.New()
	ctx := context.Background()

	_, err := svc.RecordPurchase(ctx, tenant, inventory.PurchaseInput{ItemName: "salt", Quantity: 0, Unit: "kg", TotalPrice: 1})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.RecordPurchase(ctx, tenant, inventory.PurchaseInput{ItemName: "salt", Quantity: 1, Unit: "kg", TotalPrice: -1})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.RecordPurchase(ctx, tenant, inventory.PurchaseInput{ItemName: " ", Quantity: 1, Unit: "kg", TotalPrice: 1})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.RecordPurchase(ctx, tenant, inventory.PurchaseInput{ItemName: "salt", Quantity: 1, Unit: "box", TotalPrice: 1,
		Package: &inventory.PackageDescriptor{PackageWeight: 2, WeightUnit: "pcs"}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRecordPurchaseReversesStockWhenExpenseFails(t *testing.T) {
	store := inventorytest.NewStore()
	ledger := &expenseLedger{err: errors.New("ledger down")}
	tenant := uuid.New()
	item := store.Put(inventory.StockItem{TenantID: tenant, Name: "milk", Kind: inventory.KindRawMaterial, Unit: units.Milliliter, Quantity: 2000, AverageCost: 0.004, Active: true})
	svc := newService(store, ledger)

	_, err := svc.RecordPurchase(context.Background(), tenant, inventory.PurchaseInput{ItemName: "milk", Quantity: 1, Unit: "lt", TotalPrice: 6})
	require.Error(t, err)
	require.NotErrorIs(t, err, shared.ErrCompensationFailed)

	stored, _ := store.Item(item.ID)
	require.InDelta(t, 2000, stored.Quantity, 1e-9)
	require.InDelta(t, 0.004, stored.AverageCost, 1e-12)

	moves := store.Movements(item.ID)
	require.Len(t, moves, 2)
	require.Equal(t, inventory.MovementPurchase, moves[0].Type)
	require.Equal(t, inventory.MovementPurchaseReversal, moves[1].Type)
}

func TestRecordPurchaseReportsFailedCompensation(t *testing.T) {
	store := inventorytest.NewStore()
	ledger := &expenseLedger{err: errors.New("ledger down")}
	metrics := newCountingMetrics()
	tenant := uuid.New()
	item := store.Put(inventory.StockItem{TenantID: tenant, Name: "oil", Kind: inventory.KindRawMaterial, Unit: units.Liter, Quantity: 1, AverageCost: 3, Active: true})
	saves := 0
	store.BeforeSave = func(inventory.StockItem) error {
		saves++
		if saves > 1 {
			return errors.New("connection reset")
		}
		return nil
	}
	svc := inventory.NewService(store, ledger, nil, nil, metrics, nil)

	_, err := svc.RecordPurchase(context.Background(), tenant, inventory.PurchaseInput{ItemName: "oil", Quantity: 2, Unit: "lt", TotalPrice: 8})
	require.ErrorIs(t, err, shared.ErrCompensationFailed)

	var compErr *shared.CompensationError
	require.ErrorAs(t, err, &compErr)
	require.Equal(t, item.ID, compErr.ItemID)
	require.InDelta(t, 2, compErr.Quantity, 1e-9)
	require.EqualError(t, compErr.Cause, "ledger down")
	require.Equal(t, 1, metrics.compensations["purchase"])

	stored, _ := store.Item(item.ID)
	require.InDelta(t, 3, stored.Quantity, 1e-9)
}

func TestRecordPurchaseIdempotencyKey(t *testing.T) {
	store := inventorytest.NewStore()
	ledger := &expenseLedger{}
	keys := &memoryKeys{keys: map[string]bool{}}
	tenant := uuid.New()
	svc := inventory.NewService(store, ledger, nil, keys, nil, nil)
	ctx := context.Background()
	input := inventory.PurchaseInput{ItemName: "yeast", Quantity: 500, Unit: "g", TotalPrice: 4, IdempotencyKey: "req-1"}

	_, err := svc.RecordPurchase(ctx, tenant, input)
	require.NoError(t, err)
	_, err = svc.RecordPurchase(ctx, tenant, input)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Len(t, ledger.expenses, 1)

	ledger.err = errors.New("ledger down")
	input.IdempotencyKey = "req-2"
	_, err = svc.RecordPurchase(ctx, tenant, input)
	require.Error(t, err)
	require.False(t, keys.keys[tenant.String()+"inventory.purchase"+"req-2"])
}

func TestRecordPurchaseKeepsKeyAfterFailedCompensation(t *testing.T) {
	store := inventorytest.NewStore()
	ledger := &expenseLedger{err: errors.New("ledger down")}
	keys := &memoryKeys{keys: map[string]bool{}}
	tenant := uuid.New()
	item := store.Put(inventory.StockItem{TenantID: tenant, Name: "oil", Kind: inventory.KindRawMaterial, Unit: units.Liter, Quantity: 1, AverageCost: 3, Active: true})
	saves := 0
	store.BeforeSave = func(inventory.StockItem) error {
		saves++
		if saves == 2 {
			return errors.New("connection reset")
		}
		return nil
	}
	svc := inventory.NewService(store, ledger, nil, keys, nil, nil)
	ctx := context.Background()
	input := inventory.PurchaseInput{ItemName: "oil", Quantity: 2, Unit: "lt", TotalPrice: 8, IdempotencyKey: "po-9"}

	_, err := svc.RecordPurchase(ctx, tenant, input)
	require.ErrorIs(t, err, shared.ErrCompensationFailed)
	require.True(t, keys.keys[tenant.String()+"inventory.purchase"+"po-9"])

	ledger.err = nil
	_, err = svc.RecordPurchase(ctx, tenant, input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	stored, _ := store.Item(item.ID)
	require.InDelta(t, 3, stored.Quantity, 1e-9)
	require.Empty(t, ledger.expenses)
}

func TestRecordPurchaseRejectsPackageOnMeasuredItem(t *testing.T) {
	store := inventorytest.NewStore()
	ledger := &expenseLedger{}
	tenant := uuid.New()
	svc := newService(store, ledger)
	ctx := context.Background()
	sack := &inventory.PackageDescriptor{PackageWeight: 25, WeightUnit: "kg"}

	_, err := svc.RecordPurchase(ctx, tenant, inventory.PurchaseInput{ItemName: "flour", Quantity: 100, Unit: "kg", TotalPrice: 80, Package: sack})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, ledger.expenses)

	first, err := svc.RecordPurchase(ctx, tenant, inventory.PurchaseInput{ItemName: "flour", Quantity: 100, Unit: "kg", TotalPrice: 80})
	require.NoError(t, err)
	require.True(t, first.CreatedItem)

	_, err = svc.RecordPurchase(ctx, tenant, inventory.PurchaseInput{ItemName: "flour", Quantity: 50, Unit: "kg", TotalPrice: 40, Package: sack})
	require.ErrorIs(t, err, shared.ErrValidation)

	stored, _ := store.Item(first.ItemID)
	require.Nil(t, stored.Package)
	require.InDelta(t, 100, stored.Quantity, 1e-9)
	require.Len(t, ledger.expenses, 1)
	require.Len(t, store.Movements(first.ItemID), 1)
}

func TestNewStockItemPackageNeedsDiscreteUnit(t *testing.T) {
	tenant := uuid.New()
	pkg := &inventory.PackageDescriptor{PackageWeight: 500, WeightUnit: "ml"}

	_, err := inventory.NewStockItem(tenant, "cream", inventory.KindRawMaterial, "l", pkg)
	require.ErrorIs(t, err, shared.ErrValidation)

	item, err := inventory.NewStockItem(tenant, "cream", inventory.KindRawMaterial, "bottle", pkg)
	require.NoError(t, err)
	require.True(t, item.PackageTracked())
	require.Equal(t, units.Milliliter, item.RecipeUnit())
}

func TestCreateProductRejectsDuplicateName(t *testing.T) {
	svc := newService(inventorytest.NewStore(), &expenseLedger{})
	tenant := uuid.New()
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, tenant, inventory.ProductInput{Name: "Sourdough Loaf"})
	require.NoError(t, err)
	require.Equal(t, inventory.KindFinishedProduct, product.Kind)
	require.Equal(t, units.Piece, product.Unit)
	require.Equal(t, "sourdough loaf", product.Name)

	_, err = svc.CreateProduct(ctx, tenant, inventory.ProductInput{Name: "SOURDOUGH  loaf"})
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.CreateProduct(ctx, uuid.New(), inventory.ProductInput{Name: "Sourdough Loaf"})
	require.NoError(t, err)
}

func TestDeleteItemIsSmart(t *testing.T) {
	store := inventorytest.NewStore()
	tenant := uuid.New()
	svc := newService(store, &expenseLedger{})
	ctx := context.Background()
	fresh := store.Put(inventory.StockItem{TenantID: tenant, Name: "unused", Kind: inventory.KindRawMaterial, Unit: units.Gram, Active: true})
	used := store.Put(inventory.StockItem{TenantID: tenant, Name: "used", Kind: inventory.KindRawMaterial, Unit: units.Gram, Active: true})
	store.MarkUsed(used.ID)

	res, err := svc.DeleteItem(ctx, tenant, fresh.ID)
	require.NoError(t, err)
	require.True(t, res.Deleted)
	_, ok := store.Item(fresh.ID)
	require.False(t, ok)

	res, err = svc.DeleteItem(ctx, tenant, used.ID)
	require.NoError(t, err)
	require.True(t, res.Deactivated)
	item, ok := store.Item(used.ID)
	require.True(t, ok)
	require.False(t, item.Active)

	_, err = svc.DeleteItem(ctx, uuid.New(), used.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAdjustStock(t *testing.T) {
	store := inventorytest.NewStore()
	tenant := uuid.New()
	svc := newService(store, &expenseLedger{})
	ctx := context.Background()
	item := store.Put(inventory.StockItem{TenantID: tenant, Name: "eggs", Kind: inventory.KindRawMaterial, Unit: units.Piece, Quantity: 12, AverageCost: 0.3, Active: true})

	adjusted, err := svc.AdjustStock(ctx, tenant, inventory.AdjustmentInput{ItemID: item.ID, Delta: -2, Note: "broken"})
	require.NoError(t, err)
	require.InDelta(t, 10, adjusted.Quantity, 1e-9)
	require.InDelta(t, 0.3, adjusted.AverageCost, 1e-12)

	_, err = svc.AdjustStock(ctx, tenant, inventory.AdjustmentInput{ItemID: item.ID, Delta: -11})
	require.ErrorIs(t, err, inventory.ErrNegativeStock)

	_, err = svc.AdjustStock(ctx, tenant, inventory.AdjustmentInput{ItemID: item.ID, Delta: 0})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.AdjustStock(ctx, tenant, inventory.AdjustmentInput{ItemID: uuid.New(), Delta: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)

	moves, err := svc.ListMovements(ctx, tenant, item.ID, inventory.MovementFilter{})
	require.NoError(t, err)
	require.Len(t, moves, 1)
	require.Equal(t, inventory.MovementAdjust, moves[0].Type)
	require.Equal(t, "broken", moves[0].Note)
}

func TestGetItemMapsNotFound(t *testing.T) {
	svc := newService(inventorytest.NewStore(), &expenseLedger{})
	id := uuid.New()

	_, err := svc.GetItem(context.Background(), uuid.New(), id)
	var nf *shared.NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, shared.EntityItem, nf.Entity)
	require.Equal(t, id.String(), nf.ID)
}
