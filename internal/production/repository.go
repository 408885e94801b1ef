package production

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockworks/internal/inventory"
	"github.com/odyssey-erp/stockworks/internal/platform/db"
	"github.com/odyssey-erp/stockworks/internal/recipes"
	"github.com/odyssey-erp/stockworks/internal/shared"
	"github.com/odyssey-erp/stockworks/internal/units"
)

// Repository persists recipes and batches in PostgreSQL.
type Repository struct {
	pool  *pgxpool.Pool
	items *inventory.Repository
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, items: inventory.NewRepository(pool)}
}

// TxRepository extends the inventory statements with recipe and batch writes
// sharing the same transaction.
type TxRepository interface {
	inventory.TxRepository
	LoadRecipe(ctx context.Context, tenantID, productID uuid.UUID) ([]recipes.Line, error)
	ReplaceRecipe(ctx context.Context, tenantID, productID uuid.UUID, lines []recipes.Line) error
	InsertBatch(ctx context.Context, batch Batch) error
}

type txRepository struct {
	inventory.TxRepository
	q db.Querier
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("production repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxRepository: inventory.NewTxRepository(tx), q: tx})
	})
	if db.IsSerializationFailure(err) {
		return fmt.Errorf("production: %w: %v", shared.ErrConflict, err)
	}
	return err
}

const recipeColumns = `id, tenant_id, product_id, ingredient_id, qty_required, unit, position`

func loadRecipe(ctx context.Context, q db.Querier, tenantID, productID uuid.UUID) ([]recipes.Line, error) {
	rows, err := q.Query(ctx, `SELECT `+recipeColumns+` FROM recipe_lines
		WHERE tenant_id = $1 AND product_id = $2
		ORDER BY position, id`, tenantID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []recipes.Line
	for rows.Next() {
		var (
			line recipes.Line
			unit string
		)
		if err := rows.Scan(&line.ID, &line.TenantID, &line.ProductID, &line.IngredientID, &line.QtyRequired, &unit, &line.Position); err != nil {
			return nil, err
		}
		line.Unit = units.Unit(unit)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *txRepository) LoadRecipe(ctx context.Context, tenantID, productID uuid.UUID) ([]recipes.Line, error) {
	return loadRecipe(ctx, r.q, tenantID, productID)
}

// ReplaceRecipe deletes every line of the product and inserts lines.
func (r *txRepository) ReplaceRecipe(ctx context.Context, tenantID, productID uuid.UUID, lines []recipes.Line) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM recipe_lines WHERE tenant_id = $1 AND product_id = $2`, tenantID, productID); err != nil {
		return err
	}
	for _, line := range lines {
		_, err := r.q.Exec(ctx, `INSERT INTO recipe_lines (id, tenant_id, product_id, ingredient_id, qty_required, unit, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			line.ID, tenantID, productID, line.IngredientID, line.QtyRequired, string(line.Unit), line.Position)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) InsertBatch(ctx context.Context, batch Batch) error {
	_, err := r.q.Exec(ctx, `INSERT INTO production_batches (id, tenant_id, product_id, quantity, total_cost, unit_cost, actor_id, produced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		batch.ID, batch.TenantID, batch.ProductID, batch.Quantity, batch.TotalCost, batch.UnitCost,
		pgtype.Int8{Int64: batch.ActorID, Valid: batch.ActorID != 0}, batch.ProducedAt)
	if err != nil {
		return err
	}
	for _, c := range batch.Consumption {
		_, err := r.q.Exec(ctx, `INSERT INTO production_batch_lines (batch_id, tenant_id, ingredient_id, ingredient_name, unit, quantity, unit_cost, cost)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			batch.ID, batch.TenantID, c.IngredientID, c.Name, c.Unit, c.Quantity, c.UnitCost, c.Cost)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetProduct loads the product without locking it.
func (r *Repository) GetProduct(ctx context.Context, tenantID, productID uuid.UUID) (inventory.StockItem, error) {
	return r.items.GetItem(ctx, tenantID, productID)
}

// GetItems loads ingredients without locking them.
func (r *Repository) GetItems(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]inventory.StockItem, error) {
	return r.items.GetItems(ctx, tenantID, ids)
}

// GetRecipe returns the recipe lines of a product in position order.
func (r *Repository) GetRecipe(ctx context.Context, tenantID, productID uuid.UUID) ([]recipes.Line, error) {
	return loadRecipe(ctx, r.pool, tenantID, productID)
}

// ListBatches returns the newest batches of a product with their consumption.
func (r *Repository) ListBatches(ctx context.Context, tenantID, productID uuid.UUID, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, product_id, quantity, total_cost, unit_cost, actor_id, produced_at
		FROM production_batches
		WHERE tenant_id = $1 AND product_id = $2
		ORDER BY produced_at DESC, id
		LIMIT $3`, tenantID, productID, limit)
	if err != nil {
		return nil, err
	}
	var (
		batches []Batch
		ids     []string
	)
	index := map[uuid.UUID]int{}
	for rows.Next() {
		var (
			b     Batch
			actor pgtype.Int8
		)
		if err := rows.Scan(&b.ID, &b.TenantID, &b.ProductID, &b.Quantity, &b.TotalCost, &b.UnitCost, &actor, &b.ProducedAt); err != nil {
			rows.Close()
			return nil, err
		}
		b.ActorID = actor.Int64
		b.Consumption = []Consumption{}
		index[b.ID] = len(batches)
		batches = append(batches, b)
		ids = append(ids, b.ID.String())
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return batches, nil
	}

	lineRows, err := r.pool.Query(ctx, `SELECT batch_id, ingredient_id, ingredient_name, unit, quantity, unit_cost, cost
		FROM production_batch_lines
		WHERE tenant_id = $1 AND batch_id = ANY($2::uuid[])
		ORDER BY ingredient_name`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()
	for lineRows.Next() {
		var (
			batchID uuid.UUID
			c       Consumption
		)
		if err := lineRows.Scan(&batchID, &c.IngredientID, &c.Name, &c.Unit, &c.Quantity, &c.UnitCost, &c.Cost); err != nil {
			return nil, err
		}
		if i, ok := index[batchID]; ok {
			batches[i].Consumption = append(batches[i].Consumption, c)
		}
	}
	return batches, lineRows.Err()
}
