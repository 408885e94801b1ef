package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockworks/internal/shared"
)

func TestRespondErrorStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", shared.Validation("quantity", "must be positive"), http.StatusBadRequest},
		{"not found", shared.NotFound(shared.EntityItem, uuid.New()), http.StatusNotFound},
		{"units", &shared.IncompatibleUnitsError{From: "m", To: "kg"}, http.StatusUnprocessableEntity},
		{"feature", &shared.FeatureDisabledError{TenantID: uuid.New(), Feature: "production"}, http.StatusForbidden},
		{"conflict", fmt.Errorf("save: %w", shared.ErrConflict), http.StatusConflict},
		{"compensation", &shared.CompensationError{Operation: "sale", Cause: shared.ErrConflict}, http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondError(rec, tc.err)
			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestRespondErrorCarriesShortfalls(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, &shared.InsufficientStockError{Shortfalls: []shared.Shortfall{{Name: "sugar", Unit: "g", Required: 4, Available: 3, Shortfall: 1}}})

	require.Equal(t, http.StatusConflict, rec.Code)
	var body ShortfallProblem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Shortfalls, 1)
	require.Equal(t, "sugar", body.Shortfalls[0].Name)
	require.Contains(t, body.Type, "insufficient-stock")
}

func TestDecodeAndValidateReportsJSONField(t *testing.T) {
	type payload struct {
		Name     string  `json:"item_name" validate:"required"`
		Quantity float64 `json:"quantity" validate:"gt=0"`
	}
	v := NewValidator()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"item_name":"flour","quantity":0}`))
	var p payload
	err := DecodeAndValidate(req, v, &p)
	var ve *shared.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "quantity", ve.Field)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"item_name":"flour","quantity":1,"extra":true}`))
	err = DecodeAndValidate(req, v, &p)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestIntQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=25&bad=-1", nil)
	n, err := IntQuery(req, "limit", 10)
	require.NoError(t, err)
	require.Equal(t, 25, n)

	n, err = IntQuery(req, "missing", 10)
	require.NoError(t, err)
	require.Equal(t, 10, n)

	_, err = IntQuery(req, "bad", 10)
	require.ErrorIs(t, err, shared.ErrValidation)
}
