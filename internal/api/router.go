package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apimiddleware "github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/api/middleware"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/service"
)

// NewRouter assembles the HTTP surface: job endpoints behind the gateway
// identity check, plus unauthenticated health and metrics endpoints.
func NewRouter(readings *service.ReadingService, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(apimiddleware.NewTraceMiddleware(logger))

	jobHandler := NewJobHandler(readings, logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(apimiddleware.GatewayIdentity)

		r.Post("/jobs", jobHandler.CreateJob)
		r.Get("/jobs/{id}", jobHandler.GetJob)
		r.Post("/jobs/{id}/cancel", jobHandler.CancelJob)
		r.Post("/tasks/{id}/retry", jobHandler.RetryTask)
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
