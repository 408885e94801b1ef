// Package tenants resolves per-tenant configuration, chiefly whether the
// production module is enabled.
package tenants

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockworks/internal/shared"
)

// BusinessMode selects the feature set of a tenant.
type BusinessMode string

const (
	// ModeSimpleStock tracks purchases and sales only.
	ModeSimpleStock BusinessMode = "simple_stock"
	// ModeManufacturing additionally enables recipes and production.
	ModeManufacturing BusinessMode = "manufacturing"
)

// ParseMode validates a mode string.
func ParseMode(raw string) (BusinessMode, error) {
	switch mode := BusinessMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case ModeSimpleStock, ModeManufacturing:
		return mode, nil
	default:
		return "", shared.Validation("business_mode", "must be simple_stock or manufacturing")
	}
}

// ProductionEnabled reports whether the mode unlocks production.
func (m BusinessMode) ProductionEnabled() bool {
	return m == ModeManufacturing
}

// Tenant is an isolated business using the engine.
type Tenant struct {
	ID        uuid.UUID    `json:"id"`
	Name      string       `json:"name"`
	Mode      BusinessMode `json:"business_mode"`
	CreatedAt time.Time    `json:"created_at"`
}
