package production

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockworks/internal/platform/httpx"
)

func newTestRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1/tenants/{tenantID}", NewHandler(slog.New(slog.DiscardHandler), svc).MountRoutes)
	return r
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerBatchLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	b := seedBakery(t, repo, 1000, 3)
	router := newTestRouter(newTestService(repo, staticGate{enabled: true}, nil))
	base := "/api/v1/tenants/" + b.tenant.String() + "/products/" + b.bread.ID.String()

	rec := do(router, http.MethodGet, base+"/producibility?batch=4", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report Producibility
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.True(t, report.CanProduce)
	require.Equal(t, 10, report.MaxProducible)

	rec = do(router, http.MethodPost, base+"/batches", `{"batch_size":4}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res ProductionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, 4, res.QuantityProduced)

	rec = do(router, http.MethodPost, base+"/batches", `{"batch_size":7}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var problem httpx.ShortfallProblem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Len(t, problem.Shortfalls, 1)
	require.Equal(t, b.flour.ID, problem.Shortfalls[0].ItemID)

	rec = do(router, http.MethodGet, base+"/batches", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Batches []Batch `json:"batches"`
		Count   int     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
}

func TestHandlerRecipeRoutes(t *testing.T) {
	repo := newMemoryRepo()
	b := seedBakery(t, repo, 1000, 3)
	router := newTestRouter(newTestService(repo, staticGate{enabled: true}, nil))
	base := "/api/v1/tenants/" + b.tenant.String() + "/products/" + b.bread.ID.String()

	rec := do(router, http.MethodGet, base+"/recipe", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Lines []json.RawMessage `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Lines, 2)

	rec = do(router, http.MethodPut, base+"/recipe", `{"lines":[{"ingredient_id":"`+b.flour.ID.String()+`","qty_required":0.25,"unit":"kg"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var update RecipeUpdate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &update))
	require.True(t, update.Updated)
	require.Equal(t, 1, update.LineCount)

	rec = do(router, http.MethodPut, base+"/recipe", `{"lines":[{"ingredient_id":"`+b.flour.ID.String()+`","qty_required":-1}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerFeatureDisabledAndBadPaths(t *testing.T) {
	repo := newMemoryRepo()
	b := seedBakery(t, repo, 1000, 3)
	router := newTestRouter(newTestService(repo, staticGate{enabled: false}, nil))
	base := "/api/v1/tenants/" + b.tenant.String() + "/products/"

	rec := do(router, http.MethodPost, base+b.bread.ID.String()+"/batches", `{"batch_size":1}`)
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	rec = do(router, http.MethodPost, base+"not-a-uuid/batches", `{"batch_size":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, base+b.bread.ID.String()+"/batches", `{"batch_size":0}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodGet, base+b.bread.ID.String()+"/producibility?batch=zero", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
