// Package ledger appends purchase expenses and sales to their append-only
// tables. Rows are never updated; a failed append is reverted by the caller
// on the stock side.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockworks/internal/inventory"
	"github.com/odyssey-erp/stockworks/internal/sales"
	"github.com/odyssey-erp/stockworks/internal/units"
)

// ErrNotInitialised is returned by a Writer without a pool.
var ErrNotInitialised = errors.New("ledger: writer not initialised")

const defaultSalesLimit = 100

// Writer stores ledger rows in PostgreSQL.
type Writer struct {
	pool *pgxpool.Pool
}

// NewWriter constructs Writer.
func NewWriter(pool *pgxpool.Pool) *Writer {
	return &Writer{pool: pool}
}

// AppendExpense records a purchase expense.
func (w *Writer) AppendExpense(ctx context.Context, e inventory.Expense) error {
	if err := w.ready(); err != nil {
		return err
	}
	if err := validateAmount("amount", e.Amount); err != nil {
		return err
	}
	_, err := w.pool.Exec(ctx, `INSERT INTO expenses (id, tenant_id, item_id, item_name, quantity, unit, amount, actor_id, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9)`,
		e.ID, e.TenantID, nullUUID(e.ItemID), e.ItemName, e.Quantity, string(e.Unit), e.Amount.StringFixed(4), nullActor(e.ActorID), timestamp(e.RecordedAt))
	if err != nil {
		return fmt.Errorf("ledger: append expense: %w", err)
	}
	return nil
}

// AppendSale records a sale.
func (w *Writer) AppendSale(ctx context.Context, s sales.Sale) error {
	if err := w.ready(); err != nil {
		return err
	}
	if err := validateAmount("total_amount", s.TotalAmount); err != nil {
		return err
	}
	_, err := w.pool.Exec(ctx, `INSERT INTO sales (id, tenant_id, item_id, quantity, unit_price, total_amount, customer_ref, actor_id, sold_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9)`,
		s.ID, s.TenantID, s.ItemID, s.Quantity, s.UnitPrice.StringFixed(4), s.TotalAmount.StringFixed(4), s.CustomerRef, nullActor(s.ActorID), timestamp(s.SoldAt))
	if err != nil {
		return fmt.Errorf("ledger: append sale: %w", err)
	}
	return nil
}

// ListSales returns the sales of an item, newest first.
func (w *Writer) ListSales(ctx context.Context, tenantID, itemID uuid.UUID, limit int) ([]sales.Sale, error) {
	if err := w.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultSalesLimit
	}
	rows, err := w.pool.Query(ctx, `SELECT s.id, s.tenant_id, s.item_id, i.name, i.unit, s.quantity::float8,
       s.unit_price::text, s.total_amount::text, s.customer_ref, s.actor_id, s.sold_at
FROM sales s
JOIN stock_items i ON i.id = s.item_id
WHERE s.tenant_id = $1 AND s.item_id = $2
ORDER BY s.sold_at DESC
LIMIT $3`, tenantID, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list sales: %w", err)
	}
	defer rows.Close()
	var out []sales.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sale)
	}
	return out, rows.Err()
}

func scanSale(row pgx.Row) (sales.Sale, error) {
	var (
		s                 sales.Sale
		unit              string
		unitPrice, amount string
		actor             pgtype.Int8
	)
	if err := row.Scan(&s.ID, &s.TenantID, &s.ItemID, &s.ItemName, &unit, &s.Quantity,
		&unitPrice, &amount, &s.CustomerRef, &actor, &s.SoldAt); err != nil {
		return sales.Sale{}, fmt.Errorf("ledger: scan sale: %w", err)
	}
	var err error
	if s.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
		return sales.Sale{}, fmt.Errorf("ledger: unit price: %w", err)
	}
	if s.TotalAmount, err = decimal.NewFromString(amount); err != nil {
		return sales.Sale{}, fmt.Errorf("ledger: total amount: %w", err)
	}
	s.Unit = units.Unit(unit)
	if actor.Valid {
		s.ActorID = actor.Int64
	}
	return s, nil
}

func (w *Writer) ready() error {
	if w == nil || w.pool == nil {
		return ErrNotInitialised
	}
	return nil
}

func validateAmount(field string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("ledger: %s must not be negative", field)
	}
	return nil
}

func nullUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: id != uuid.Nil}
}

func nullActor(id int64) pgtype.Int8 {
	return pgtype.Int8{Int64: id, Valid: id > 0}
}

func timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
