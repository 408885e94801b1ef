package tenants

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockworks/internal/shared"
)

// Repository reads and writes tenants in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads a tenant by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Tenant, error) {
	var (
		t    Tenant
		mode string
	)
	err := r.pool.QueryRow(ctx, `SELECT id, name, business_mode, created_at FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &mode, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, shared.NotFound(shared.EntityTenant, id)
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("tenants: get: %w", err)
	}
	t.Mode = BusinessMode(mode)
	return t, nil
}

// Upsert creates the tenant or updates its name and mode.
func (r *Repository) Upsert(ctx context.Context, t Tenant) (Tenant, error) {
	var mode string
	err := r.pool.QueryRow(ctx, `INSERT INTO tenants (id, name, business_mode)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, business_mode = EXCLUDED.business_mode
RETURNING id, name, business_mode, created_at`, t.ID, t.Name, string(t.Mode)).
		Scan(&t.ID, &t.Name, &mode, &t.CreatedAt)
	if err != nil {
		return Tenant{}, fmt.Errorf("tenants: upsert: %w", err)
	}
	t.Mode = BusinessMode(mode)
	return t, nil
}
