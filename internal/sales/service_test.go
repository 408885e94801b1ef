package sales_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockworks/internal/inventory"
	"github.com/odyssey-erp/stockworks/internal/inventory/inventorytest"
	"github.com/odyssey-erp/stockworks/internal/sales"
	"github.com/odyssey-erp/stockworks/internal/shared"
	"github.com/odyssey-erp/stockworks/internal/units"
)

type memoryLedger struct {
	mu    sync.Mutex
	err   error
	sales []sales.Sale
}

func (l *memoryLedger) AppendSale(_ context.Context, sale sales.Sale) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.sales = append(l.sales, sale)
	return nil
}

func (l *memoryLedger) ListSales(_ context.Context, tenantID, itemID uuid.UUID, limit int) ([]sales.Sale, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []sales.Sale
	for _, s := range l.sales {
		if s.TenantID == tenantID && s.ItemID == itemID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SoldAt.After(out[j].SoldAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type compensationCounter struct {
	mu     sync.Mutex
	failed map[string]int
}

func (c *compensationCounter) ObserveOperation(string, error) {}

func (c *compensationCounter) IncCompensationFailure(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed == nil {
		c.failed = map[string]int{}
	}
	c.failed[op]++
}

type memoryKeys struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (k *memoryKeys) CheckAndInsert(_ context.Context, tenantID uuid.UUID, key, module string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	id := tenantID.String() + module + key
	if k.keys[id] {
		return shared.ErrIdempotencyConflict
	}
	k.keys[id] = true
	return nil
}

func (k *memoryKeys) Delete(_ context.Context, tenantID uuid.UUID, key, module string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, tenantID.String()+module+key)
	return nil
}

func seedBread(store *inventorytest.Store, tenant uuid.UUID, qty float64) inventory.StockItem {
	return store.Put(inventory.StockItem{
		TenantID:    tenant,
		Name:        "bread",
		Kind:        inventory.KindFinishedProduct,
		Unit:        units.Piece,
		Quantity:    qty,
		AverageCost: 1.5,
		Active:      true,
	})
}

func TestRecordSaleDecrementsAndAppends(t *testing.T) {
	store := inventorytest.NewStore()
	ledger := &memoryLedger{}
	tenant := uuid.New()
	bread := seedBread(store, tenant, 10)
	svc := sales.NewService(store, ledger, nil, nil, nil, nil)

	res, err := svc.RecordSale(context.Background(), tenant, sales.SaleInput{ItemID: bread.ID, Quantity: 4, TotalAmount: 10, CustomerRef: "walk-in"})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, res.SaleID)
	require.InDelta(t, 6, res.RemainingQuantity, 1e-9)
	require.Equal(t, "2.5", res.UnitPrice.String())
	require.InDelta(t, 6, res.CostOfGoods, 1e-9)

	stored, _ := store.Item(bread.ID)
	require.InDelta(t, 6, stored.Quantity, 1e-9)
	require.Equal(t, 1.5, stored.AverageCost)

	require.Len(t, ledger.sales, 1)
	require.Equal(t, res.SaleID, ledger.sales[0].ID)
	require.Equal(t, "bread", ledger.sales[0].ItemName)
	require.Equal(t, units.Piece, ledger.sales[0].Unit)

	moves := store.Movements(bread.ID)
	require.Len(t, moves, 1)
	require.Equal(t, inventory.MovementSale, moves[0].Type)
	require.Equal(t, res.SaleID, moves[0].RefID)
	require.InDelta(t, -4, moves[0].QtyChange, 1e-9)
}

func TestRecordSaleInsufficientStock(t *testing.T) {
	store := inventorytest.NewStore()
	ledger := &memoryLedger{}
	tenant := uuid.New()
	bread := seedBread(store, tenant, 3)
	svc := sales.NewService(store, ledger, nil, nil, nil, nil)

	_, err := svc.RecordSale(context.Background(), tenant, sales.SaleInput{ItemID: bread.ID, Quantity: 5, TotalAmount: 20})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var insufficient *shared.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Len(t, insufficient.Shortfalls, 1)
	require.Equal(t, bread.ID, insufficient.Shortfalls[0].ItemID)
	require.InDelta(t, 2, insufficient.Shortfalls[0].Shortfall, 1e-9)
	require.ErrorContains(t, err, string(sales.StepCheckStock))

	stored, _ := store.Item(bread.ID)
	require.Equal(t, 3.0, stored.Quantity)
	require.Empty(t, ledger.sales)
	require.Empty(t, store.Movements(bread.ID))
}

func TestRecordSaleRejectsUnknownAndInactiveItems(t *testing.T) {
	store := inventorytest.NewStore()
	tenant := uuid.New()
	svc := sales.NewService(store, &memoryLedger{}, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordSale(ctx, tenant, sales.SaleInput{ItemID: uuid.New(), Quantity: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)

	other := seedBread(store, uuid.New(), 5)
	_, err = svc.RecordSale(ctx, tenant, sales.SaleInput{ItemID: other.ID, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)

	retired := store.Put(inventory.StockItem{TenantID: tenant, Name: "old cake", Kind: inventory.KindFinishedProduct, Unit: units.Piece, Quantity: 5})
	_, err = svc.RecordSale(ctx, tenant, sales.SaleInput{ItemID: retired.ID, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordSale(ctx, tenant, sales.SaleInput{ItemID: retired.ID, Quantity: 0})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRecordSaleRevertsWhenLedgerFails(t *testing.T) {
	store := inventorytest.NewStore()
	ledger := &memoryLedger{err: errors.New("ledger offline")}
	tenant := uuid.New()
	bread := seedBread(store, tenant, 10)
	svc := sales.NewService(store, ledger, nil, nil, nil, nil)

	_, err := svc.RecordSale(context.Background(), tenant, sales.SaleInput{ItemID: bread.ID, Quantity: 4, TotalAmount: 10})
	require.Error(t, err)
	require.NotErrorIs(t, err, shared.ErrCompensationFailed)
	require.Contains(t, err.Error(), "ledger offline")

	stored, _ := store.Item(bread.ID)
	require.InDelta(t, 10, stored.Quantity, 1e-9)

	moves := store.Movements(bread.ID)
	require.Len(t, moves, 2)
	require.Equal(t, inventory.MovementSale, moves[0].Type)
	require.Equal(t, inventory.MovementSaleReversal, moves[1].Type)
	require.Equal(t, moves[0].RefID, moves[1].RefID)
}

func TestRecordSaleReportsFailedCompensation(t *testing.T) {
	store := inventorytest.NewStore()
	ledger := &memoryLedger{err: errors.New("ledger offline")}
	metrics := &compensationCounter{}
	tenant := uuid.New()
	bread := seedBread(store, tenant, 10)
	saves := 0
	store.BeforeSave = func(inventory.StockItem) error {
		saves++
		if saves > 1 {
			return errors.New("connection reset")
		}
		return nil
	}
	svc := sales.NewService(store, ledger, nil, nil, metrics, nil)

	_, err := svc.RecordSale(context.Background(), tenant, sales.SaleInput{ItemID: bread.ID, Quantity: 4, TotalAmount: 10})
	require.ErrorIs(t, err, shared.ErrCompensationFailed)
	var compErr *shared.CompensationError
	require.ErrorAs(t, err, &compErr)
	require.Equal(t, bread.ID, compErr.ItemID)
	require.InDelta(t, 4, compErr.Quantity, 1e-9)
	require.False(t, shared.IsClientError(err))
	require.Equal(t, 1, metrics.failed["sale"])

	stored, _ := store.Item(bread.ID)
	require.InDelta(t, 6, stored.Quantity, 1e-9)
}

func TestRecordSaleKeepsKeyAfterFailedCompensation(t *testing.T) {
	store := inventorytest.NewStore()
	ledger := &memoryLedger{err: errors.New("ledger offline")}
	keys := &memoryKeys{keys: map[string]bool{}}
	tenant := uuid.New()
	bread := seedBread(store, tenant, 10)
	saves := 0
	store.BeforeSave = func(inventory.StockItem) error {
		saves++
		if saves == 2 {
			return errors.New("connection reset")
		}
		return nil
	}
	svc := sales.NewService(store, ledger, nil, keys, nil, nil)
	ctx := context.Background()
	input := sales.SaleInput{ItemID: bread.ID, Quantity: 4, TotalAmount: 10, IdempotencyKey: "order-7"}

	_, err := svc.RecordSale(ctx, tenant, input)
	require.ErrorIs(t, err, shared.ErrCompensationFailed)

	ledger.err = nil
	_, err = svc.RecordSale(ctx, tenant, input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	stored, _ := store.Item(bread.ID)
	require.InDelta(t, 6, stored.Quantity, 1e-9)
	require.Empty(t, ledger.sales)
}

func TestRecordSaleReleasesKeyAfterRevert(t *testing.T) {
	store := inventorytest.NewStore()
	ledger := &memoryLedger{err: errors.New("ledger offline")}
	keys := &memoryKeys{keys: map[string]bool{}}
	tenant := uuid.New()
	bread := seedBread(store, tenant, 10)
	svc := sales.NewService(store, ledger, nil, keys, nil, nil)
	ctx := context.Background()
	input := sales.SaleInput{ItemID: bread.ID, Quantity: 4, TotalAmount: 10, IdempotencyKey: "order-8"}

	_, err := svc.RecordSale(ctx, tenant, input)
	require.Error(t, err)

	ledger.err = nil
	res, err := svc.RecordSale(ctx, tenant, input)
	require.NoError(t, err)
	require.InDelta(t, 6, res.RemainingQuantity, 1e-9)
}

func TestRecordSaleNamesFailingStep(t *testing.T) {
	store := inventorytest.NewStore()
	tenant := uuid.New()
	bread := seedBread(store, tenant, 10)
	store.BeforeSave = func(inventory.StockItem) error { return errors.New("disk full") }
	svc := sales.NewService(store, &memoryLedger{}, nil, nil, nil, nil)

	_, err := svc.RecordSale(context.Background(), tenant, sales.SaleInput{ItemID: bread.ID, Quantity: 1, TotalAmount: 2})
	require.ErrorContains(t, err, string(sales.StepDecrementStock))
	require.ErrorContains(t, err, "disk full")

	stored, _ := store.Item(bread.ID)
	require.InDelta(t, 10, stored.Quantity, 1e-9)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	store := inventorytest.NewStore()
	ledger := &memoryLedger{}
	tenant := uuid.New()
	bread := seedBread(store, tenant, 10)
	svc := sales.NewService(store, ledger, nil, nil, nil, nil)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		short     int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordSale(context.Background(), tenant, sales.SaleInput{ItemID: bread.ID, Quantity: 1, TotalAmount: 2})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, shared.ErrInsufficientStock):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 10, succeeded)
	require.Equal(t, 15, short)
	stored, _ := store.Item(bread.ID)
	require.Equal(t, 0.0, stored.Quantity)
	require.Len(t, ledger.sales, 10)
}

func TestListSalesNewestFirst(t *testing.T) {
	store := inventorytest.NewStore()
	ledger := &memoryLedger{}
	tenant := uuid.New()
	bread := seedBread(store, tenant, 10)
	svc := sales.NewService(store, ledger, nil, nil, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.RecordSale(ctx, tenant, sales.SaleInput{ItemID: bread.ID, Quantity: 1, TotalAmount: 2})
		require.NoError(t, err)
	}
	list, err := svc.ListSales(ctx, tenant, bread.ID, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.False(t, list[0].SoldAt.Before(list[1].SoldAt))

	_, err = svc.ListSales(ctx, tenant, uuid.Nil, 2)
	require.ErrorIs(t, err, shared.ErrValidation)
}
