package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lendwatch/reconciler/internal/ingestion"
	"github.com/lendwatch/reconciler/internal/notify"
)

// NewRouter creates the Chi router with all API routes mounted. ingestionSvc and hub are
// optional; their routes are left out when nil.
func NewRouter(engine Engine, ingestionSvc *ingestion.Service, hub *notify.Hub, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handlers{
		engine:       engine,
		ingestionSvc: ingestionSvc,
		logger:       logger.With(zap.String("component", "api")),
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	if hub != nil {
		r.Get("/ws", hub.HandleWebSocket)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))

		r.Get("/overview", h.GetOverview)

		// Transfers and ledger.
		r.Get("/transfers", h.ListTransfers)
		r.Get("/adjustments", h.GetAdjustments)
		r.Get("/synthetics", h.ListSynthetics)
		r.Post("/investments", h.RecordInvestment)

		// Delinquency.
		r.Get("/delinquents", h.ListDelinquents)
		r.Get("/delinquents/at-risk", h.GetAmountsAtRisk)
		r.Get("/delinquents/{investmentID}", h.GetDelinquent)

		// Reports.
		r.Get("/reports/delinquency", h.ExportDelinquency)

		// Ingestion.
		if ingestionSvc != nil {
			r.Post("/dumps/ingest", h.IngestDump)
		}
	})

	return r
}
