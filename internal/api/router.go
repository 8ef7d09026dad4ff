package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/directout-bridge/internal/auth"
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

	// Prometheus scrape endpoint (no auth required for monitoring)
	if s.metricsCfg.Enabled && s.metricsHandler != nil {
		r.Handle(s.metricsCfg.Path, s.metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// Reads
			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermStateRead))

				r.Get("/device", s.handleDevice)
				r.Get("/state", s.handleGetState)
				r.Get("/subscriptions", s.handleListSubscriptions)
				r.Get("/actions", s.handleListActions)
				r.Post("/actions/{id}/learn", s.handleLearnAction)
				r.Get("/feedbacks", s.handleListFeedbacks)
				r.Post("/feedbacks/{id}/check", s.handleCheckFeedback)
				r.Post("/feedbacks/{id}/learn", s.handleLearnFeedback)
				r.Get("/variables", s.handleListVariables)
				r.Get("/variables/{name}", s.handleGetVariable)
				r.Get("/choices", s.handleChoices)
				r.Get("/translate", s.handleTranslate)
				r.Get("/recording", s.handleRecordingStatus)
				r.Get("/recording/actions", s.handleRecordedActions)
				r.Get("/recording/sessions", s.handleRecordingSessions)
			})

			// Writes to the device
			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermDeviceOperate))

				r.Post("/set", s.handleSet)
				r.Post("/actions/{id}", s.handleExecuteAction)
			})

			r.With(s.requirePermission(auth.PermDeviceRaw)).Post("/cmd", s.handleCmd)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermRecordingManage))

				r.Post("/recording/start", s.handleRecordingStart)
				r.Post("/recording/stop", s.handleRecordingStop)
			})

			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleAuditLog)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if !s.device.Ready() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"device": map[string]any{
			"ready": s.device.Ready(),
			"type":  s.device.DeviceType(),
		},
	})
}
