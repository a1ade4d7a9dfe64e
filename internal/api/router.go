package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ad-selection-engine/internal/observability"
)

// Router wires the handlers. timeout bounds every request and should exceed the
// overall auction timeout.
func Router(h *AdSelectionHandler, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure(routePattern))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Route("/v1/ad-selection", func(r chi.Router) {
		r.Post("/", h.SelectAds)
		r.Post("/from-outcomes", h.SelectFromOutcomes)
		r.Post("/{id}/report", h.ReportImpression)
	})
	r.Route("/v1/custom-audiences", func(r chi.Router) {
		r.Put("/", h.UpsertCustomAudience)
		r.Put("/overrides", h.PutOverride)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.MetricsHandler())
	return r
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return "unmatched"
}
