package sales_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockworks/internal/inventory/inventorytest"
	"github.com/odyssey-erp/stockworks/internal/sales"
)

func newTestRouter(t *testing.T) (http.Handler, *inventorytest.Store, uuid.UUID) {
	t.Helper()
	store := inventorytest.NewStore()
	svc := sales.NewService(store, &memoryLedger{}, nil, nil, nil, nil)
	handler := sales.NewHandler(slog.New(slog.DiscardHandler), svc)
	r := chi.NewRouter()
	r.Route("/api/v1/tenants/{tenantID}", handler.MountRoutes)
	return r, store, uuid.New()
}

func TestHandlerRecordSale(t *testing.T) {
	router, store, tenant := newTestRouter(t)
	bread := seedBread(store, tenant, 3)

	body := `{"item_id":"` + bread.ID.String() + `","quantity":2,"total_amount":5}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/"+tenant.String()+"/sales", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var res sales.SaleResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.InDelta(t, 1, res.RemainingQuantity, 1e-9)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tenants/"+tenant.String()+"/items/"+bread.ID.String()+"/sales", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Sales []sales.Sale `json:"sales"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Sales, 1)
	require.Equal(t, res.SaleID, list.Sales[0].ID)
}

func TestHandlerRecordSaleShortfall(t *testing.T) {
	router, store, tenant := newTestRouter(t)
	bread := seedBread(store, tenant, 3)

	body := `{"item_id":"` + bread.ID.String() + `","quantity":5,"total_amount":5}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/"+tenant.String()+"/sales", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var problem struct {
		Status     int `json:"status"`
		Shortfalls []struct {
			Shortfall float64 `json:"shortfall"`
		} `json:"shortfalls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Len(t, problem.Shortfalls, 1)
	require.InDelta(t, 2, problem.Shortfalls[0].Shortfall, 1e-9)
}

func TestHandlerRecordSaleRejectsBadInput(t *testing.T) {
	router, _, tenant := newTestRouter(t)

	for name, body := range map[string]string{
		"missing item":  `{"quantity":1,"total_amount":1}`,
		"zero quantity": `{"item_id":"` + uuid.NewString() + `","quantity":0}`,
		"unknown field": `{"item_id":"` + uuid.NewString() + `","quantity":1,"price":3}`,
		"not json":      `quantity=1`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/"+tenant.String()+"/sales", strings.NewReader(body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
