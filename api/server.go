/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/keys/*     Published key mappings, per-account lookups, history
  /api/runs/*     Run trigger, latest report, publish log
  /api/health     Liveness probe

SECURITY NOTE:
  No authentication middleware currently. The service is meant to sit
  on an internal network next to the warehouse.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Key mapping routes
		r.Route("/keys", func(r chi.Router) {
			r.Get("/{type}", h.GetMapping)
			r.Get("/{type}/accounts/{id}", h.GetAccountKey)
			r.Get("/{type}/accounts/{id}/history", h.GetAccountHistory)
		})

		// Run routes
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", h.CreateRun)
			r.Get("/latest", h.GetLatestRun)
			r.Get("/publishes", h.GetPublishes)
		})

		r.Get("/health", h.GetHealth)
	})

	return r
}
