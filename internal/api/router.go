package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// WebSocket authenticates via single-use ticket (browser WebSocket
		// clients cannot send an Authorization header).
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// WS ticket requires authentication - caller must be logged in
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// Pod endpoints
			r.Route("/pod", func(r chi.Router) {
				r.Get("/", s.handleGetPod)
				r.Get("/health", s.handleGetPodHealth)
				r.Post("/refresh", s.handleRefreshPod)
				r.Get("/commands", s.handleListPendingCommands)
				r.Post("/commands", s.handleSubmitCommand)
				r.Post("/execute", s.handleExecute)
				r.Post("/schedule", s.handleSetSchedule)
			})

			// Entity endpoints
			r.Get("/devices", s.handleListDevices)
			r.Route("/entities", func(r chi.Router) {
				r.Get("/", s.handleListEntities)
				r.Route("/{device}/{key}", func(r chi.Router) {
					r.Get("/", s.handleGetEntity)
					r.Post("/set", s.handleSetEntity)
				})
			})

			// History endpoints
			r.Route("/history", func(r chi.Router) {
				r.Get("/snapshots", s.handleListSnapshots)
				r.Get("/commands", s.handleListCommandHistory)
			})
		})
	})

	return r
}

// handleHealth returns the server health status plus a pod reachability summary.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := s.reconciler.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       s.version,
		"pod_reachable": health.Reachable(),
	})
}
