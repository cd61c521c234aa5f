package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/fireplace", func(r chi.Router) {
			r.Get("/", s.handleGetFireplace)
			r.Get("/state", s.handleGetState)
			r.Get("/state/{attribute}", s.handleGetAttribute)
			r.Put("/state/{attribute}", s.handleSetAttribute)
			r.Post("/commands", s.handleCommand)
			r.Get("/commands", s.handleListCommands)
			r.Get("/history", s.handleHistory)
		})

		r.Post("/probe", s.handleProbe)

		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

// wsPath returns the WebSocket route relative to /api/v1.
func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the process health and the fireplace connection state.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	connected := s.client.IsConnected()
	if !connected {
		status = "degraded"
	}

	body := map[string]any{
		"status":              status,
		"version":             s.version,
		"device_id":           s.deviceID,
		"fireplace_connected": connected,
	}
	if s.mqtt != nil {
		body["mqtt_connected"] = s.mqtt.IsConnected()
	}
	if s.telemetry != nil {
		body["influxdb_connected"] = s.telemetry.IsConnected()
	}
	if s.bridge != nil {
		body["bridge_status"] = s.bridge.Health().Status
	}
	writeJSON(w, http.StatusOK, body)
}
