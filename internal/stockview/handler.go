package stockview

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/distriflow/distriflow/internal/platform/httpx"
)

// Handler exposes the read-only stock views.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the stock view handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the view routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock/consultation", h.consultation)
	r.Get("/stock/by-location", h.byLocation)
}

func (h *Handler) consultation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID, err := strconv.ParseInt(q.Get("product_id"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	salespersonID, err := strconv.ParseInt(q.Get("salesperson_id"), 10, 64)
	if err != nil || salespersonID <= 0 {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	qty, _ := strconv.ParseFloat(q.Get("qty"), 64)

	view, err := h.service.Consultation(r.Context(), ConsultationQuery{
		ProductID:      productID,
		SalespersonID:  salespersonID,
		CustomerNumber: q.Get("customer"),
		PriceGroup:     q.Get("price_group"),
		Campaigns:      splitCodes(q.Get("campaigns")),
		Quantity:       qty,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("stock consultation failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

// splitCodes parses a comma-separated list, dropping empty entries.
func splitCodes(raw string) []string {
	var codes []string
	for _, code := range strings.Split(raw, ",") {
		if code = strings.TrimSpace(code); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

func (h *Handler) byLocation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	rows, err := h.service.ByLocation(r.Context(), LocationFilter{
		LocationCode: q.Get("location"),
		Search:       q.Get("search"),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		h.logger.Error("stock by location failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}
