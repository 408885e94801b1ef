package sales

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/stockworks/internal/platform/httpx"
	"github.com/odyssey-erp/stockworks/internal/shared"
)

// Handler manages sales endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sales", h.handleRecordSale)
	r.Get("/items/{itemID}/sales", h.handleListSales)
}

type saleRequest struct {
	ItemID      uuid.UUID `json:"item_id" validate:"required"`
	Quantity    float64   `json:"quantity" validate:"gt=0"`
	TotalAmount float64   `json:"total_amount" validate:"gte=0"`
	CustomerRef string    `json:"customer_ref" validate:"max=200"`
}

func (h *Handler) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.UUIDParam(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req saleRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.RecordSale(r.Context(), tenantID, SaleInput{
		ItemID:         req.ItemID,
		Quantity:       req.Quantity,
		TotalAmount:    req.TotalAmount,
		CustomerRef:    req.CustomerRef,
		ActorID:        shared.ActorFromContext(r.Context()),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.fail(w, r, "record sale", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) handleListSales(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.UUIDParam(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	itemID, err := httpx.UUIDParam(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, err := httpx.IntQuery(r, "limit", 100)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sales, err := h.service.ListSales(r.Context(), tenantID, itemID, limit)
	if err != nil {
		h.fail(w, r, "list sales", err)
		return
	}
	if sales == nil {
		sales = []Sale{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	level := slog.LevelWarn
	if !shared.IsClientError(err) {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "sales: "+action+" failed",
		slog.String("tenant_id", chi.URLParam(r, "tenantID")),
		slog.Any("error", err))
	httpx.RespondError(w, err)
}
