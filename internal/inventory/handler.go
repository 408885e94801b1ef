package inventory

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/stockworks/internal/platform/httpx"
	"github.com/odyssey-erp/stockworks/internal/shared"
	"github.com/odyssey-erp/stockworks/internal/units"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers inventory routes below the tenant prefix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/purchases", h.handlePurchase)
	r.Post("/products", h.handleCreateProduct)
	r.Get("/items", h.handleListItems)
	r.Get("/items/{itemID}", h.handleGetItem)
	r.Delete("/items/{itemID}", h.handleDeleteItem)
	r.Post("/items/{itemID}/adjustments", h.handleAdjustment)
	r.Get("/items/{itemID}/movements", h.handleMovements)
}

type packageRequest struct {
	PackageWeight float64 `json:"package_weight" validate:"gt=0"`
	WeightUnit    string  `json:"weight_unit" validate:"required,max=40"`
}

type purchaseRequest struct {
	ItemName   string          `json:"item_name" validate:"required,max=200"`
	Quantity   float64         `json:"quantity" validate:"gt=0"`
	Unit       string          `json:"unit" validate:"required,max=40"`
	TotalPrice float64         `json:"total_price" validate:"gte=0"`
	Package    *packageRequest `json:"package" validate:"omitempty"`
}

type productRequest struct {
	Name string `json:"name" validate:"required,max=200"`
	Unit string `json:"unit" validate:"omitempty,max=40"`
}

type adjustmentRequest struct {
	Delta float64 `json:"delta" validate:"ne=0"`
	Note  string  `json:"note" validate:"max=500"`
}

func (h *Handler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.UUIDParam(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req purchaseRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := PurchaseInput{
		ItemName:       req.ItemName,
		Quantity:       req.Quantity,
		Unit:           req.Unit,
		TotalPrice:     req.TotalPrice,
		ActorID:        shared.ActorFromContext(r.Context()),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	if req.Package != nil {
		input.Package = &PackageDescriptor{PackageWeight: req.Package.PackageWeight, WeightUnit: units.Unit(req.Package.WeightUnit)}
	}
	res, err := h.service.RecordPurchase(r.Context(), tenantID, input)
	if err != nil {
		h.fail(w, r, "record purchase", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.UUIDParam(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req productRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.CreateProduct(r.Context(), tenantID, ProductInput{Name: req.Name, Unit: req.Unit, ActorID: shared.ActorFromContext(r.Context())})
	if err != nil {
		h.fail(w, r, "create product", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.UUIDParam(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, err := httpx.IntQuery(r, "limit", 200)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	filter := ItemFilter{
		Kind:       ItemKind(q.Get("kind")),
		ActiveOnly: q.Get("include_inactive") != "true",
		Limit:      limit,
	}
	items, err := h.service.ListItems(r.Context(), tenantID, filter)
	if err != nil {
		h.fail(w, r, "list items", err)
		return
	}
	if items == nil {
		items = []StockItem{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	tenantID, itemID, ok := h.itemPath(w, r)
	if !ok {
		return
	}
	item, err := h.service.GetItem(r.Context(), tenantID, itemID)
	if err != nil {
		h.fail(w, r, "get item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	tenantID, itemID, ok := h.itemPath(w, r)
	if !ok {
		return
	}
	res, err := h.service.DeleteItem(r.Context(), tenantID, itemID)
	if err != nil {
		h.fail(w, r, "delete item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	tenantID, itemID, ok := h.itemPath(w, r)
	if !ok {
		return
	}
	var req adjustmentRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.AdjustStock(r.Context(), tenantID, AdjustmentInput{
		ItemID:  itemID,
		Delta:   req.Delta,
		Note:    req.Note,
		ActorID: shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, "adjust stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	tenantID, itemID, ok := h.itemPath(w, r)
	if !ok {
		return
	}
	var filter MovementFilter
	q := r.URL.Query()
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.RespondError(w, shared.Validation("from", "must be YYYY-MM-DD"))
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.RespondError(w, shared.Validation("to", "must be YYYY-MM-DD"))
			return
		}
		// Set to end of day
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	limit, err := httpx.IntQuery(r, "limit", 500)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Limit = limit
	moves, err := h.service.ListMovements(r.Context(), tenantID, itemID, filter)
	if err != nil {
		h.fail(w, r, "list movements", err)
		return
	}
	if moves == nil {
		moves = []Movement{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": moves})
}

func (h *Handler) itemPath(w http.ResponseWriter, r *http.Request) (tenantID, itemID uuid.UUID, ok bool) {
	tenantID, err := httpx.UUIDParam(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return uuid.Nil, uuid.Nil, false
	}
	itemID, err = httpx.UUIDParam(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, itemID, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	level := slog.LevelWarn
	if !shared.IsClientError(err) {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "inventory: "+action+" failed",
		slog.String("tenant_id", chi.URLParam(r, "tenantID")),
		slog.Any("error", err))
	httpx.RespondError(w, err)
}
