package production

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/stockworks/internal/platform/httpx"
	"github.com/odyssey-erp/stockworks/internal/recipes"
	"github.com/odyssey-erp/stockworks/internal/shared"
)

// Handler wires HTTP endpoints for recipes and production batches.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs production handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers production routes below the tenant prefix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/products/{productID}", func(r chi.Router) {
		r.Put("/recipe", h.handleSetRecipe)
		r.Get("/recipe", h.handleGetRecipe)
		r.Get("/producibility", h.handleProducibility)
		r.Post("/batches", h.handleRecordBatch)
		r.Get("/batches", h.handleListBatches)
	})
}

type recipeLineRequest struct {
	IngredientID uuid.UUID `json:"ingredient_id" validate:"required"`
	QtyRequired  float64   `json:"qty_required" validate:"gt=0"`
	Unit         string    `json:"unit" validate:"max=40"`
}

type recipeRequest struct {
	Lines []recipeLineRequest `json:"lines" validate:"max=200,dive"`
}

type batchRequest struct {
	BatchSize int `json:"batch_size" validate:"gt=0,lte=1000000"`
}

func (h *Handler) handleSetRecipe(w http.ResponseWriter, r *http.Request) {
	tenantID, productID, ok := h.productPath(w, r)
	if !ok {
		return
	}
	var req recipeRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := make([]RecipeLineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		input = append(input, RecipeLineInput{IngredientID: l.IngredientID, QtyRequired: l.QtyRequired, Unit: l.Unit})
	}
	res, err := h.service.SetRecipe(r.Context(), tenantID, productID, input)
	if err != nil {
		h.fail(w, r, "set recipe", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleGetRecipe(w http.ResponseWriter, r *http.Request) {
	tenantID, productID, ok := h.productPath(w, r)
	if !ok {
		return
	}
	lines, err := h.service.GetRecipe(r.Context(), tenantID, productID)
	if err != nil {
		h.fail(w, r, "get recipe", err)
		return
	}
	if lines == nil {
		lines = []recipes.Line{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_id": productID, "lines": lines})
}

func (h *Handler) handleProducibility(w http.ResponseWriter, r *http.Request) {
	tenantID, productID, ok := h.productPath(w, r)
	if !ok {
		return
	}
	batch, err := httpx.IntQuery(r, "batch", 1)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.CheckProducibility(r.Context(), tenantID, productID, batch)
	if err != nil {
		h.fail(w, r, "check producibility", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleRecordBatch(w http.ResponseWriter, r *http.Request) {
	tenantID, productID, ok := h.productPath(w, r)
	if !ok {
		return
	}
	var req batchRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.RecordProduction(r.Context(), tenantID, ProductionInput{
		ProductID:      productID,
		BatchSize:      req.BatchSize,
		ActorID:        shared.ActorFromContext(r.Context()),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.fail(w, r, "record production", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	tenantID, productID, ok := h.productPath(w, r)
	if !ok {
		return
	}
	limit, err := httpx.IntQuery(r, "limit", 50)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	batches, err := h.service.ListBatches(r.Context(), tenantID, productID, limit)
	if err != nil {
		h.fail(w, r, "list batches", err)
		return
	}
	if batches == nil {
		batches = []Batch{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": batches, "count": len(batches)})
}

func (h *Handler) productPath(w http.ResponseWriter, r *http.Request) (tenantID, productID uuid.UUID, ok bool) {
	tenantID, err := httpx.UUIDParam(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return uuid.Nil, uuid.Nil, false
	}
	productID, err = httpx.UUIDParam(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, productID, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	level := slog.LevelWarn
	if !shared.IsClientError(err) {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "production: "+action+" failed",
		slog.String("tenant_id", chi.URLParam(r, "tenantID")),
		slog.String("product_id", chi.URLParam(r, "productID")),
		slog.Any("error", err))
	httpx.RespondError(w, err)
}
