package tenants

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stockworks/internal/platform/httpx"
	"github.com/odyssey-erp/stockworks/internal/shared"
)

// Handler exposes tenant settings.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the tenant handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers tenant routes below the tenant prefix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleGet)
	r.Put("/", h.handlePut)
}

type tenantRequest struct {
	Name string `json:"name" validate:"required,max=200"`
	Mode string `json:"business_mode" validate:"required,oneof=simple_stock manufacturing"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.UUIDParam(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Get(r.Context(), tenantID)
	if err != nil {
		h.fail(w, r, "get tenant", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.UUIDParam(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req tenantRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Save(r.Context(), tenantID, req.Name, req.Mode)
	if err != nil {
		h.fail(w, r, "save tenant", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	level := slog.LevelWarn
	if !shared.IsClientError(err) {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "tenants: "+action+" failed",
		slog.String("tenant_id", chi.URLParam(r, "tenantID")),
		slog.Any("error", err))
	httpx.RespondError(w, err)
}
