// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/stockworks/internal/shared"
)

// ShortfallProblem extends the problem document with stock shortfalls.
type ShortfallProblem struct {
	ProblemDetail
	Shortfalls []shared.Shortfall `json:"shortfalls"`
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var insufficient *shared.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		writeProblem(w, http.StatusConflict, ShortfallProblem{
			ProblemDetail: ProblemDetail{Type: problemType("insufficient-stock"), Title: "Insufficient Stock", Status: http.StatusConflict, Detail: err.Error()},
			Shortfalls:    insufficient.Shortfalls,
		})
	case errors.Is(err, shared.ErrCompensationFailed):
		Problem(w, http.StatusInternalServerError, "Compensation Failed", "stock change could not be reverted; manual reconciliation required")
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrIncompatibleUnits):
		Problem(w, http.StatusUnprocessableEntity, "Incompatible Units", err.Error())
	case errors.Is(err, shared.ErrFeatureDisabled):
		Problem(w, http.StatusForbidden, "Feature Disabled", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func problemType(slug string) string {
	return "https://stockworks.dev/problems/" + slug
}
