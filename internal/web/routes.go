package web

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-gate/internal/web/handlers"
)

func (s *Server) setupRoutes(logger *slog.Logger) {
	identityHandler := handlers.NewIdentityHandler(s.pipeline, logger)
	statsHandler := handlers.NewStatsHandler(s.store, s.mirrors, logger)
	configHandler := handlers.NewConfigHandler(s.config)

	// Set before Route so the subrouter inherits them.
	s.router.NotFound(handlers.NotFound)
	s.router.MethodNotAllowed(handlers.MethodNotAllowed)

	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/", handlers.Greeting)

		// Enrollment and identification
		r.Post("/users/{user_id}/assess_image_quality", identityHandler.AssessImageQuality)
		r.Post("/users/identify", identityHandler.Identify)

		// Index
		r.Get("/index/stats", statsHandler.Get)
		r.Get("/config", configHandler.Get)
	})
}
