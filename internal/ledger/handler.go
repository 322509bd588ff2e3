package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/distriflow/distriflow/internal/platform/httpx"
)

// Handler exposes the read-only ledger listing.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock/transactions", h.listTransactions)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID, _ := strconv.ParseInt(q.Get("product_id"), 10, 64)
	salespersonID, _ := strconv.ParseInt(q.Get("salesperson_id"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	movType := MovementType(q.Get("type"))
	if movType != "" && movType != MovementEntree && movType != MovementSortie {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}

	txs, err := h.service.List(r.Context(), TransactionFilter{
		ProductID:     productID,
		SalespersonID: salespersonID,
		Type:          movType,
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		h.logger.Error("list stock transactions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if txs == nil {
		txs = []StockTransaction{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": txs})
}
