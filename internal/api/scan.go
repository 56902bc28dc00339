package api

import (
	"net/http"
	"time"
)

// handleScanStart transitions the scanner to running. Idempotent: a
// second start reports the unchanged state with 200.
func (s *Server) handleScanStart(w http.ResponseWriter, _ *http.Request) {
	transitioned := s.controller.Start()
	writeJSON(w, http.StatusOK, map[string]any{
		"scanning":     true,
		"transitioned": transitioned,
	})
}

// handleScanStop transitions the scanner to stopped. Idempotent.
func (s *Server) handleScanStop(w http.ResponseWriter, _ *http.Request) {
	transitioned := s.controller.Stop()
	writeJSON(w, http.StatusOK, map[string]any{
		"scanning":     false,
		"transitioned": transitioned,
	})
}

// handleStatus reports the scanner's operational state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.controller.Status()

	mqttConnected := false
	if s.mqtt != nil {
		mqttConnected = s.mqtt.HealthCheck(r.Context()) == nil
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scan":           status,
		"devices":        s.registry.Count(),
		"proxies":        s.registry.ProxyCount(),
		"mqtt_connected": mqttConnected,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"version":        s.version,
	})
}
