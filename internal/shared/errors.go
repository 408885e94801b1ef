package shared

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks malformed input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrIncompatibleUnits marks a unit pair that cannot be reconciled.
	ErrIncompatibleUnits = errors.New("incompatible units")
	// ErrInsufficientStock marks a request exceeding available stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrFeatureDisabled marks a tenant configuration gate.
	ErrFeatureDisabled = errors.New("feature disabled")
	// ErrCompensationFailed marks a rollback step that itself failed.
	ErrCompensationFailed = errors.New("compensation failed")
	// ErrConflict indicates a concurrent or duplicate request.
	ErrConflict = errors.New("conflict")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

// Validation builds a ValidationError.
func Validation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Entity names used in NotFoundError.
const (
	EntityItem       = "item"
	EntityProduct    = "product"
	EntityIngredient = "ingredient"
	EntityRecipe     = "recipe"
	EntityTenant     = "tenant"
)

// NotFoundError reports an unknown entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// NotFound builds a NotFoundError for the given id.
func NotFound(entity string, id uuid.UUID) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id.String()}
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// IsRecipeNotFound reports whether err is the "no recipe defined" condition.
func IsRecipeNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) && nf.Entity == EntityRecipe
}

// IncompatibleUnitsError reports two units from different families.
type IncompatibleUnitsError struct {
	From string
	To   string
}

func (e *IncompatibleUnitsError) Error() string {
	return fmt.Sprintf("units %q and %q are not compatible", e.From, e.To)
}

func (e *IncompatibleUnitsError) Unwrap() error { return ErrIncompatibleUnits }

// Shortfall is the per-item gap between required and available stock.
type Shortfall struct {
	ItemID    uuid.UUID `json:"item_id"`
	Name      string    `json:"name,omitempty"`
	Unit      string    `json:"unit,omitempty"`
	Required  float64   `json:"required"`
	Available float64   `json:"available"`
	Shortfall float64   `json:"shortfall"`
}

// InsufficientStockError carries every shortfall found by the availability gate.
type InsufficientStockError struct {
	Shortfalls []Shortfall
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		label := s.Name
		if label == "" {
			label = s.ItemID.String()
		}
		parts = append(parts, fmt.Sprintf("%s short by %g %s", label, s.Shortfall, s.Unit))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// FeatureDisabledError reports a tenant lacking a capability.
type FeatureDisabledError struct {
	TenantID uuid.UUID
	Feature  string
}

func (e *FeatureDisabledError) Error() string {
	return fmt.Sprintf("feature %s disabled for tenant %s", e.Feature, e.TenantID)
}

func (e *FeatureDisabledError) Unwrap() error { return ErrFeatureDisabled }

// CompensationError means a mutation was applied, a later step failed and the
// reversal failed as well. Stock needs manual reconciliation.
type CompensationError struct {
	Operation string
	TenantID  uuid.UUID
	ItemID    uuid.UUID
	Quantity  float64
	Cause     error
	Rollback  error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("%s: compensation failed for item %s (qty %g): cause: %v; rollback: %v",
		e.Operation, e.ItemID, e.Quantity, e.Cause, e.Rollback)
}

func (e *CompensationError) Unwrap() []error {
	errs := []error{ErrCompensationFailed}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	if e.Rollback != nil {
		errs = append(errs, e.Rollback)
	}
	return errs
}

// IsClientError reports whether err was caused by the request rather than by
// the server. A failed compensation is never a client error.
func IsClientError(err error) bool {
	if err == nil || errors.Is(err, ErrCompensationFailed) {
		return false
	}
	for _, kind := range []error{ErrNotFound, ErrValidation, ErrIncompatibleUnits, ErrInsufficientStock, ErrFeatureDisabled, ErrConflict} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
