package tenants

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/stockworks/internal/shared"
)

// Store is the persistence port of the tenant service.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (Tenant, error)
	Upsert(ctx context.Context, t Tenant) (Tenant, error)
}

// ModeCache is the cache port of the tenant service.
type ModeCache interface {
	Get(ctx context.Context, tenantID uuid.UUID) (BusinessMode, bool, error)
	Set(ctx context.Context, tenantID uuid.UUID, mode BusinessMode) error
	Invalidate(ctx context.Context, tenantID uuid.UUID) error
}

// Service answers feature questions for tenants. Concurrent misses for the
// same tenant share one database read.
type Service struct {
	store  Store
	cache  ModeCache
	group  singleflight.Group
	logger *slog.Logger
}

// NewService wires the tenant service. cache may be nil.
func NewService(store Store, cache ModeCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{store: store, cache: cache, logger: logger}
}

// Mode returns the business mode of a tenant.
func (s *Service) Mode(ctx context.Context, tenantID uuid.UUID) (BusinessMode, error) {
	if s.cache != nil {
		mode, ok, err := s.cache.Get(ctx, tenantID)
		if err != nil {
			s.logger.Warn("tenant mode cache read failed", slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
		} else if ok {
			return mode, nil
		}
	}
	v, err, _ := s.group.Do(tenantID.String(), func() (any, error) {
		t, err := s.store.Get(ctx, tenantID)
		if err != nil {
			return BusinessMode(""), err
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, tenantID, t.Mode); err != nil {
				s.logger.Warn("tenant mode cache write failed", slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
			}
		}
		return t.Mode, nil
	})
	if err != nil {
		return "", err
	}
	return v.(BusinessMode), nil
}

// IsProductionEnabled reports whether the tenant runs in manufacturing mode.
func (s *Service) IsProductionEnabled(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	mode, err := s.Mode(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return mode.ProductionEnabled(), nil
}

// Get loads a tenant.
func (s *Service) Get(ctx context.Context, tenantID uuid.UUID) (Tenant, error) {
	return s.store.Get(ctx, tenantID)
}

// Save creates or updates a tenant and drops its cached mode.
func (s *Service) Save(ctx context.Context, tenantID uuid.UUID, name, mode string) (Tenant, error) {
	if tenantID == uuid.Nil {
		return Tenant{}, shared.Validation("tenant_id", "is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Tenant{}, shared.Validation("name", "is required")
	}
	parsed, err := ParseMode(mode)
	if err != nil {
		return Tenant{}, err
	}
	t, err := s.store.Upsert(ctx, Tenant{ID: tenantID, Name: name, Mode: parsed})
	if err != nil {
		return Tenant{}, err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, tenantID); err != nil {
			return Tenant{}, fmt.Errorf("tenants: invalidate cache: %w", err)
		}
	}
	return t, nil
}
