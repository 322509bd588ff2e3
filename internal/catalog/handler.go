package catalog

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/distriflow/distriflow/internal/bc"
	"github.com/distriflow/distriflow/internal/platform/httpx"
)

// Handler exposes the mirror sync and listing endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	repo     *Repository
	validate *validator.Validate
}

// NewHandler constructs the catalog handler.
func NewHandler(logger *slog.Logger, service *Service, repo *Repository) *Handler {
	return &Handler{logger: logger, service: service, repo: repo, validate: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/bc-customers/sync", h.syncCustomers)
	r.Post("/bc-items/sync", h.syncItems)
	r.Post("/bc-locations/sync", h.syncLocations)
	r.Post("/bc-item-prices/sync", h.syncItemPrices)

	r.Get("/bc-customers", h.listCustomers)
	r.Get("/bc-items", h.listItems)
	r.Get("/bc-locations", h.listLocations)
}

type syncResponse struct {
	Success bool      `json:"success"`
	Count   int       `json:"count"`
	Logs    []SyncLog `json:"logs"`
}

func respondSync(w http.ResponseWriter, result SyncResult) {
	logs := result.Logs
	if logs == nil {
		logs = []SyncLog{}
	}
	// Partial failure is still a successful sync call: the caller inspects logs.
	httpx.JSON(w, http.StatusOK, syncResponse{Success: true, Count: result.Count, Logs: logs})
}

type syncCustomersRequest struct {
	Customers []bc.Customer `json:"customers" validate:"required,dive"`
}

func (h *Handler) syncCustomers(w http.ResponseWriter, r *http.Request) {
	var req syncCustomersRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	result, err := h.service.SyncCustomers(r.Context(), req.Customers)
	if err != nil {
		h.logger.Error("sync customers", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	respondSync(w, result)
}

type syncItemsRequest struct {
	Items []bc.Item `json:"items" validate:"required,dive"`
}

func (h *Handler) syncItems(w http.ResponseWriter, r *http.Request) {
	var req syncItemsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	result, err := h.service.SyncItems(r.Context(), req.Items)
	if err != nil {
		h.logger.Error("sync items", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	respondSync(w, result)
}

type syncLocationsRequest struct {
	Locations []bc.Location `json:"locations" validate:"required,dive"`
}

func (h *Handler) syncLocations(w http.ResponseWriter, r *http.Request) {
	var req syncLocationsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	result, err := h.service.SyncLocations(r.Context(), req.Locations)
	if err != nil {
		h.logger.Error("sync locations", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	respondSync(w, result)
}

type syncItemPricesRequest struct {
	ItemPrices []bc.SalesPrice `json:"itemPrices" validate:"required,dive"`
}

// syncItemPrices upserts posted tier rows; the per-item pull against BC stays
// on the worker path.
func (h *Handler) syncItemPrices(w http.ResponseWriter, r *http.Request) {
	var req syncItemPricesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	result, err := h.service.SyncItemPrices(r.Context(), req.ItemPrices)
	if err != nil {
		h.logger.Error("sync item prices", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	respondSync(w, result)
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	limit, offset := listParams(r)
	customers, err := h.repo.ListCustomers(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list bc customers", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	limit, offset := listParams(r)
	items, err := h.repo.ListItems(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list bc items", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	limit, offset := listParams(r)
	locations, err := h.repo.ListLocations(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list bc locations", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"locations": locations})
}

func listParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
