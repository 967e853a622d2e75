package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"icstore/internal/constellation/adapters/codec"
	"icstore/internal/constellation/handler"
	platformmetrics "icstore/internal/platform/metrics"
	"icstore/internal/platform/middleware"
	"icstore/pkg/platform/httputil"
)

// Router builds the HTTP surface: unauthenticated health and metrics
// endpoints plus the authenticated constellation API.
func (a *App) Router(validator middleware.JWTValidator, gatherer prometheus.Gatherer, httpMetrics *platformmetrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Recovery(a.Logger))
	r.Use(middleware.Logger(a.Logger, httpMetrics))

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	h := handler.New(a.Constellations, a.Merges, codec.JSON{Indent: "  "}, a.Logger)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(a.Config.Server.RequestTimeout))
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAuth(validator, a.Logger))
		h.Register(r)
	})
	return r
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if a.Redis != nil {
		if err := a.Redis.Health(r.Context()); err != nil {
			status["redis"] = "unavailable"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	httputil.WriteJSON(w, code, status)
}
