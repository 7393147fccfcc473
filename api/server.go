/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the browser front-end

ROUTE GROUPS:
  /api/stores/*      Store management
  /api/daily/*       Reconciled daily data and windows
  /api/deliveries/*  Delivery writes
  /api/sync/*        Reachability, refresh, reconnect, resync
  /api/cleanup/*     Retention status and manual purge
  /api/export/*      JSON backup and CSV export

SECURITY NOTE:
  No authentication middleware. Deploy behind a trusted proxy.

SEE ALSO:
  - handlers.go: Handler implementations
  - cli/serve.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. An empty
// allowedOrigins list allows any origin.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/stores", func(r chi.Router) {
			r.Get("/", h.ListStores)
			r.Post("/", h.AddStore)
			r.Put("/{id}", h.UpdateStore)
			r.Delete("/{id}", h.DeleteStore)
		})

		r.Route("/daily", func(r chi.Router) {
			r.Get("/", h.GetDaily)
			r.Get("/{date}", h.GetDay)
		})

		r.Route("/deliveries", func(r chi.Router) {
			r.Post("/", h.AddDelivery)
			r.Post("/batch", h.AddDeliveries)
			r.Put("/{id}", h.UpdateDelivery)
			r.Delete("/{id}", h.DeleteDelivery)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", h.SyncStatus)
			r.Post("/refresh", h.Refresh)
			r.Post("/focus", h.Focus)
			r.Post("/test", h.TestConnection)
			r.Post("/reconnect", h.Reconnect)
			r.Post("/resync", h.Resync)
		})

		r.Route("/cleanup", func(r chi.Router) {
			r.Get("/status", h.CleanupStatus)
			r.Post("/run", h.RunCleanup)
		})

		r.Route("/export", func(r chi.Router) {
			r.Get("/json", h.ExportJSON)
			r.Get("/csv", h.ExportCSV)
		})
	})

	return r
}
