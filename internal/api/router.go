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
		r.Get("/health", s.handleHealth)

		// Room endpoints
		r.Route("/rooms", func(r chi.Router) {
			r.Get("/", s.handleListRooms)
			r.Post("/", s.handleCreateRoom)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRoom)
				r.Patch("/", s.handleRenameRoom)
				r.Delete("/", s.handleDeleteRoom)
				r.Get("/devices", s.handleListRoomDevices)
			})
		})

		// Device endpoints
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleCreateDevice)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Patch("/", s.handleUpdateDevice)
				r.Delete("/", s.handleDeleteDevice)
				r.Post("/retire", s.handleRetireDevice)
				r.Get("/state", s.handleGetDeviceState)
				r.Get("/state/history", s.handleDeviceStateHistory)
			})
		})

		// Automation rule endpoints
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRule)
				r.Patch("/", s.handleUpdateRule)
				r.Delete("/", s.handleDeleteRule)
				r.Post("/enable", s.handleSetRuleEnabled(true))
				r.Post("/disable", s.handleSetRuleEnabled(false))
				r.Get("/executions", s.handleListRuleExecutions)
			})
		})

		// Scene endpoints
		r.Route("/scenes", func(r chi.Router) {
			r.Get("/", s.handleListScenes)
			r.Post("/", s.handleCreateScene)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetScene)
				r.Patch("/", s.handleUpdateScene)
				r.Delete("/", s.handleDeleteScene)
				r.Post("/activate", s.handleActivateScene)
			})
		})

		// Device command trail and manual dispatch
		r.Route("/commands", func(r chi.Router) {
			r.Get("/", s.handleListCommands)
			r.Post("/", s.handleIssueCommand)
			r.Get("/{id}", s.handleGetCommand)
		})

		// Execution audit trail
		r.Route("/executions", func(r chi.Router) {
			r.Get("/", s.handleListExecutions)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetExecution)
				r.Get("/commands", s.handleListExecutionCommands)
			})
		})

		// Admin audit log
		r.Get("/audit", s.handleListAudit)

		// WebSocket event feed
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
