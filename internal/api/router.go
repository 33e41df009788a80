package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/proxtag/proxtag/internal/api/handler"
	"github.com/proxtag/proxtag/internal/api/middleware"
	"github.com/proxtag/proxtag/internal/service"
)

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(rules *service.RuleService, authToken string) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging)

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheus metrics (no auth required)
	r.Handle("/metrics", promhttp.Handler())

	// API routes (auth when configured, JSON Content-Type)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ContentType)
		r.Use(middleware.Auth(authToken))

		// Rules
		ruleHandler := handler.NewRuleHandler(rules)
		r.Post("/rules", ruleHandler.Create)
		r.Get("/rules", ruleHandler.List)
		r.Get("/rules/{id}", ruleHandler.Get)
		r.Put("/rules/{id}", ruleHandler.Update)
		r.Delete("/rules/{id}", ruleHandler.Delete)

		// Execution
		r.Post("/rules/{id}/run", ruleHandler.Run)
		r.Post("/rules/{id}/dry-run", ruleHandler.DryRun)
		r.Get("/rules/{id}/history", ruleHandler.History)
		r.Get("/history", ruleHandler.GlobalHistory)

		// Property catalog
		catalogHandler := handler.NewCatalogHandler()
		r.Get("/properties", catalogHandler.Properties)

		// Export / import
		transferHandler := handler.NewTransferHandler(rules)
		r.Get("/rules/export", transferHandler.Export)
		r.Post("/rules/import", transferHandler.Import)
	})

	return r
}
