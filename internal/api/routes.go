package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/health", h.Health)

		// Protected routes (tenant token required)
		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(h.secret))
			r.Post("/collections/{collection}", h.Insert)
			r.Get("/collections/{collection}", h.Select)
			r.Patch("/collections/{collection}/{id}", h.Patch)
			r.Delete("/collections/{collection}/{id}", h.Delete)
			r.Post("/rpc/submit_daily_summary", h.SubmitDailySummary)
		})
	})

	return r
}
