package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	// CORS for the signup form. The cron and webhook endpoints are
	// server-to-server and never need credentials.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://personifeed.com", "http://localhost:5173"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check (no auth required)
	r.Get("/health", h.HealthCheck)

	// Scheduler trigger, guarded by bearer token
	r.Post("/cron/run", h.RunBatch)

	// Inbound email events from the mail provider
	r.Post("/webhooks/inbound", h.InboundWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Post("/signup", h.Signup)
		r.Post("/users/{id}/deactivate", h.DeactivateUser)
	})

	return r
}
