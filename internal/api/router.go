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

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/slots", func(r chi.Router) {
			r.Get("/", s.handleListSlots)
			r.Get("/{id}", s.handleGetSlot)
		})

		r.Route("/commands", func(r chi.Router) {
			r.Get("/", s.handleListCommands)
			r.Post("/{command}", s.handleExecuteCommand)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns bridge liveness for load balancers and supervisors.
// The endpoint answers 200 while the process is up; bridge_status carries
// the printer connectivity.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       s.version,
		"bridge_status": s.bridge.Status(),
		"slots":         s.channels.Count(),
	})
}
