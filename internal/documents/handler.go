package documents

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/distriflow/distriflow/internal/bc"
	"github.com/distriflow/distriflow/internal/ledger"
	"github.com/distriflow/distriflow/internal/platform/httpx"
)

// Handler exposes the document lifecycle endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the documents handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/purchase-orders", func(r chi.Router) {
		r.Post("/", h.create(TypePurchaseOrder))
		r.Get("/", h.list(TypePurchaseOrder))
		r.Get("/{id}", h.get(TypePurchaseOrder))
		r.Post("/{id}/validate", h.settle(TypePurchaseOrder, StatusValide))
		r.Post("/{id}/submit-bc", h.submitBC)
		r.Post("/{id}/receive", h.receive)
		r.Post("/{id}/mark-as-expedie", h.settle(TypePurchaseOrder, StatusExpedie))
		r.Post("/{id}/cancel", h.settle(TypePurchaseOrder, StatusAnnule))
	})
	r.Route("/delivery-notes", func(r chi.Router) {
		r.Post("/", h.create(TypeDeliveryNote))
		r.Get("/", h.list(TypeDeliveryNote))
		r.Get("/{id}", h.get(TypeDeliveryNote))
		r.Post("/{id}/validate", h.settle(TypeDeliveryNote, StatusValide))
		r.Post("/{id}/cancel", h.settle(TypeDeliveryNote, StatusAnnule))
	})
	r.Route("/sales", func(r chi.Router) {
		r.Post("/", h.create(TypeSale))
		r.Get("/", h.list(TypeSale))
		r.Get("/{id}", h.get(TypeSale))
		r.Post("/{id}/validate", h.settle(TypeSale, StatusValide))
		r.Post("/{id}/cancel", h.settle(TypeSale, StatusAnnule))
	})
	r.Route("/return-invoices", func(r chi.Router) {
		r.Post("/", h.create(TypeReturnInvoice))
		r.Get("/", h.list(TypeReturnInvoice))
		r.Get("/{id}", h.get(TypeReturnInvoice))
		r.Post("/{id}/validate", h.settle(TypeReturnInvoice, StatusValide))
	})
}

type settleResponse struct {
	Success        bool                      `json:"success"`
	AlreadyApplied bool                      `json:"already_applied"`
	Document       Document                  `json:"document"`
	Transactions   []ledger.StockTransaction `json:"transactions"`
}

func (h *Handler) create(docType DocumentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input CreateInput
		if err := httpx.DecodeJSON(r, &input); err != nil {
			httpx.RespondError(w, httpx.ErrValidation)
			return
		}
		if err := h.validate.Struct(input); err != nil {
			httpx.RespondError(w, httpx.ErrValidation)
			return
		}
		doc, err := h.service.Create(r.Context(), docType, input)
		if err != nil {
			h.respondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, doc)
	}
}

func (h *Handler) get(docType DocumentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			httpx.RespondError(w, httpx.ErrValidation)
			return
		}
		doc, err := h.service.Get(r.Context(), docType, id)
		if err != nil {
			h.respondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, doc)
	}
}

func (h *Handler) list(docType DocumentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))
		docs, err := h.service.List(r.Context(), docType, Status(q.Get("status")), limit, offset)
		if err != nil {
			h.respondError(w, err)
			return
		}
		if docs == nil {
			docs = []Document{}
		}
		httpx.JSON(w, http.StatusOK, docs)
	}
}

func (h *Handler) settle(docType DocumentType, target Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			httpx.RespondError(w, httpx.ErrValidation)
			return
		}
		result, err := h.service.Settle(r.Context(), docType, id, target)
		if err != nil {
			h.respondError(w, err)
			return
		}
		h.respondSettle(w, result)
	}
}

func (h *Handler) submitBC(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	result, err := h.service.SubmitToBC(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondSettle(w, result)
}

type receiveRequest struct {
	Lines []ReceiveLineInput `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	doc, err := h.service.Receive(r.Context(), id, req.Lines)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) respondSettle(w http.ResponseWriter, result SettleResult) {
	if result.Transactions == nil {
		result.Transactions = []ledger.StockTransaction{}
	}
	httpx.JSON(w, http.StatusOK, settleResponse{
		Success:        true,
		AlreadyApplied: result.AlreadyApplied,
		Document:       result.Document,
		Transactions:   result.Transactions,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrValidation), errors.Is(err, ledger.ErrInvalidQuantity):
		httpx.RespondError(w, httpx.ErrValidation)
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ledger.ErrStockInsufficient):
		httpx.RespondError(w, httpx.ErrConflict)
	case errors.Is(err, bc.ErrExternalService):
		httpx.RespondError(w, httpx.ErrUnavailable)
	default:
		h.logger.Error("document request failed", "error", err)
		httpx.RespondError(w, err)
	}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
