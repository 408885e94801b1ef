package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockworks/internal/platform/db"
	"github.com/odyssey-erp/stockworks/internal/shared"
	"github.com/odyssey-erp/stockworks/internal/units"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the locked read-modify-write operations used inside a
// transaction. Every method is tenant scoped.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, tenantID, itemID uuid.UUID) (StockItem, error)
	FindItemByNameForUpdate(ctx context.Context, tenantID uuid.UUID, name string) (StockItem, error)
	LockItems(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]StockItem, error)
	InsertItem(ctx context.Context, item StockItem) (bool, error)
	SaveItem(ctx context.Context, item StockItem) error
	InsertMovement(ctx context.Context, m Movement) error
	HasUsageHistory(ctx context.Context, tenantID, itemID uuid.UUID) (bool, error)
	DeleteItem(ctx context.Context, tenantID, itemID uuid.UUID) error
	DeactivateItem(ctx context.Context, tenantID, itemID uuid.UUID) error
}

type txRepository struct {
	q db.Querier
}

// NewTxRepository binds the inventory statements to q, which is normally a
// pgx.Tx owned by another module's repository.
func NewTxRepository(q db.Querier) TxRepository {
	return &txRepository{q: q}
}

// WithTx executes the callback inside a repeatable-read transaction. Lost
// update races surface as shared.ErrConflict.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
	if db.IsSerializationFailure(err) {
		return fmt.Errorf("inventory: %w: %v", shared.ErrConflict, err)
	}
	return err
}

const itemColumns = `id, tenant_id, name, kind, unit, quantity, average_cost, package_weight, package_unit, is_active, created_at, updated_at`

func scanItem(row pgx.Row) (StockItem, error) {
	var (
		item       StockItem
		kind, unit string
		pkgWeight  *float64
		pkgUnit    *string
	)
	err := row.Scan(&item.ID, &item.TenantID, &item.Name, &kind, &unit, &item.Quantity, &item.AverageCost,
		&pkgWeight, &pkgUnit, &item.Active, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockItem{}, ErrItemNotFound
		}
		return StockItem{}, err
	}
	item.Kind = ItemKind(kind)
	item.Unit = units.Unit(unit)
	if pkgWeight != nil && pkgUnit != nil {
		item.Package = &PackageDescriptor{PackageWeight: *pkgWeight, WeightUnit: units.Unit(*pkgUnit)}
	}
	return item, nil
}

func collectItems(rows pgx.Rows) ([]StockItem, error) {
	defer rows.Close()
	var items []StockItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func packageColumns(pkg *PackageDescriptor) (any, any) {
	if pkg == nil {
		return nil, nil
	}
	return pkg.PackageWeight, string(pkg.WeightUnit)
}

func nullUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: id != uuid.Nil}
}

func nullActor(id int64) pgtype.Int8 {
	return pgtype.Int8{Int64: id, Valid: id != 0}
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, tenantID, itemID uuid.UUID) (StockItem, error) {
	row := r.q.QueryRow(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, itemID)
	return scanItem(row)
}

func (r *txRepository) FindItemByNameForUpdate(ctx context.Context, tenantID uuid.UUID, name string) (StockItem, error) {
	row := r.q.QueryRow(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE tenant_id = $1 AND name = $2 FOR UPDATE`, tenantID, name)
	return scanItem(row)
}

// LockItems locks the rows in id order so concurrent batches touching the same
// ingredients cannot deadlock.
func (r *txRepository) LockItems(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]StockItem, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]StockItem{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	rows, err := r.q.Query(ctx, `SELECT `+itemColumns+` FROM stock_items
		WHERE tenant_id = $1 AND id = ANY($2::uuid[])
		ORDER BY id
		FOR UPDATE`, tenantID, keys)
	if err != nil {
		return nil, err
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]StockItem, len(items))
	for _, item := range items {
		out[item.ID] = item
	}
	return out, nil
}

// InsertItem returns false when another transaction already created an item
// with the same canonical name.
func (r *txRepository) InsertItem(ctx context.Context, item StockItem) (bool, error) {
	weight, unit := packageColumns(item.Package)
	tag, err := r.q.Exec(ctx, `INSERT INTO stock_items
		(id, tenant_id, name, kind, unit, quantity, average_cost, package_weight, package_unit, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		ON CONFLICT (tenant_id, name) DO NOTHING`,
		item.ID, item.TenantID, item.Name, string(item.Kind), string(item.Unit), item.Quantity, item.AverageCost,
		weight, unit, item.Active)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepository) SaveItem(ctx context.Context, item StockItem) error {
	weight, unit := packageColumns(item.Package)
	tag, err := r.q.Exec(ctx, `UPDATE stock_items
		SET quantity = $3, average_cost = $4, package_weight = $5, package_unit = $6, is_active = $7, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`,
		item.TenantID, item.ID, item.Quantity, item.AverageCost, weight, unit, item.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) error {
	_, err := r.q.Exec(ctx, `INSERT INTO stock_movements
		(id, tenant_id, item_id, movement_type, qty_change, balance_qty, unit_cost, ref_id, note, actor_id, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.TenantID, m.ItemID, string(m.Type), m.QtyChange, m.BalanceQty, m.UnitCost,
		nullUUID(m.RefID), m.Note, nullActor(m.ActorID), m.PostedAt)
	return err
}

func (r *txRepository) HasUsageHistory(ctx context.Context, tenantID, itemID uuid.UUID) (bool, error) {
	var used bool
	err := r.q.QueryRow(ctx, `SELECT
		EXISTS (SELECT 1 FROM production_batches WHERE tenant_id = $1 AND product_id = $2)
		OR EXISTS (SELECT 1 FROM production_batch_lines WHERE tenant_id = $1 AND ingredient_id = $2)
		OR EXISTS (SELECT 1 FROM sales WHERE tenant_id = $1 AND item_id = $2)
		OR EXISTS (SELECT 1 FROM recipe_lines WHERE tenant_id = $1 AND ingredient_id = $2)`,
		tenantID, itemID).Scan(&used)
	return used, err
}

func (r *txRepository) DeleteItem(ctx context.Context, tenantID, itemID uuid.UUID) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM recipe_lines WHERE tenant_id = $1 AND product_id = $2`, tenantID, itemID); err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, `DELETE FROM stock_items WHERE tenant_id = $1 AND id = $2`, tenantID, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *txRepository) DeactivateItem(ctx context.Context, tenantID, itemID uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `UPDATE stock_items SET is_active = FALSE, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`, tenantID, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// GetItem loads an item without locking it.
func (r *Repository) GetItem(ctx context.Context, tenantID, itemID uuid.UUID) (StockItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE tenant_id = $1 AND id = $2`, tenantID, itemID)
	return scanItem(row)
}

// GetItems loads several items without locking them.
func (r *Repository) GetItems(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]StockItem, error) {
	out := make(map[uuid.UUID]StockItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE tenant_id = $1 AND id = ANY($2::uuid[])`, tenantID, keys)
	if err != nil {
		return nil, err
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		out[item.ID] = item
	}
	return out, nil
}

// ListItems returns items ordered by name.
func (r *Repository) ListItems(ctx context.Context, tenantID uuid.UUID, filter ItemFilter) ([]StockItem, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM stock_items
		WHERE tenant_id = $1
		  AND ($2 = '' OR kind = $2)
		  AND (NOT $3 OR is_active)
		ORDER BY name
		LIMIT $4`, tenantID, string(filter.Kind), filter.ActiveOnly, limit)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

// ListMovements returns the stock card of an item, oldest first.
func (r *Repository) ListMovements(ctx context.Context, tenantID, itemID uuid.UUID, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, item_id, movement_type, qty_change, balance_qty, unit_cost, ref_id, note, actor_id, posted_at
		FROM stock_movements
		WHERE tenant_id = $1 AND item_id = $2
		  AND ($3::timestamptz IS NULL OR posted_at >= $3)
		  AND ($4::timestamptz IS NULL OR posted_at <= $4)
		ORDER BY posted_at, id
		LIMIT $5`,
		tenantID, itemID,
		pgtype.Timestamptz{Time: filter.From, Valid: !filter.From.IsZero()},
		pgtype.Timestamptz{Time: filter.To, Valid: !filter.To.IsZero()},
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var (
			m     Movement
			typ   string
			ref   pgtype.UUID
			actor pgtype.Int8
		)
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ItemID, &typ, &m.QtyChange, &m.BalanceQty, &m.UnitCost, &ref, &m.Note, &actor, &m.PostedAt); err != nil {
			return nil, err
		}
		m.Type = MovementType(typ)
		if ref.Valid {
			m.RefID = ref.Bytes
		}
		m.ActorID = actor.Int64
		out = append(out, m)
	}
	return out, rows.Err()
}
