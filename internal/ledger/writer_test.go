package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockworks/internal/inventory"
	"github.com/odyssey-erp/stockworks/internal/sales"
)

func TestWriterWithoutPool(t *testing.T) {
	ctx := context.Background()
	var nilWriter *Writer
	require.ErrorIs(t, nilWriter.AppendExpense(ctx, inventory.Expense{}), ErrNotInitialised)

	w := NewWriter(nil)
	require.ErrorIs(t, w.AppendSale(ctx, sales.Sale{}), ErrNotInitialised)
	_, err := w.ListSales(ctx, uuid.New(), uuid.New(), 10)
	require.ErrorIs(t, err, ErrNotInitialised)
}

func TestValidateAmount(t *testing.T) {
	require.NoError(t, validateAmount("amount", decimal.Zero))
	require.NoError(t, validateAmount("amount", decimal.RequireFromString("12.5")))
	require.Error(t, validateAmount("amount", decimal.RequireFromString("-0.01")))
}

func TestNullableColumns(t *testing.T) {
	require.False(t, nullUUID(uuid.Nil).Valid)
	require.True(t, nullUUID(uuid.New()).Valid)
	require.False(t, nullActor(0).Valid)
	require.Equal(t, int64(7), nullActor(7).Int64)

	fixed := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	require.Equal(t, fixed, timestamp(fixed))
	require.False(t, timestamp(time.Time{}).IsZero())
}
