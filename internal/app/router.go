package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/distriflow/distriflow/internal/catalog"
	"github.com/distriflow/distriflow/internal/documents"
	"github.com/distriflow/distriflow/internal/ledger"
	"github.com/distriflow/distriflow/internal/observability"
	"github.com/distriflow/distriflow/internal/stockview"
	"github.com/distriflow/distriflow/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	CatalogHandler   *catalog.Handler
	DocumentsHandler *documents.Handler
	LedgerHandler    *ledger.Handler
	StockViewHandler *stockview.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with distriflow defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		if params.CatalogHandler != nil {
			params.CatalogHandler.MountRoutes(api)
		}
		if params.DocumentsHandler != nil {
			params.DocumentsHandler.MountRoutes(api)
		}
		if params.LedgerHandler != nil {
			params.LedgerHandler.MountRoutes(api)
		}
		if params.StockViewHandler != nil {
			params.StockViewHandler.MountRoutes(api)
		}
		if params.JobHandler != nil {
			api.Route("/jobs", func(jr chi.Router) {
				params.JobHandler.MountRoutes(jr)
			})
		}
	})

	return r
}
