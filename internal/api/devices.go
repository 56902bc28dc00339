package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fernvale/ble-scanner-core/internal/ble"
	"github.com/fernvale/ble-scanner-core/internal/device"
)

// addDeviceRequest is the body for POST /api/v1/devices.
type addDeviceRequest struct {
	MAC         string `json:"mac"`
	DisplayName string `json:"display_name"`
}

// updateDeviceRequest is the body for POST /api/v1/devices/{mac}.
type updateDeviceRequest struct {
	DisplayName string `json:"display_name"`
}

// handleListDevices returns all registry records ordered by MAC.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns a single record. The MAC path segment accepts
// any textual spelling.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")

	record, err := s.registry.Get(mac)
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleAddDevice registers a device manually.
func (s *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	var req addDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.MAC == "" {
		writeBadRequest(w, "mac is required")
		return
	}

	record, err := s.registry.AddManual(r.Context(), req.MAC, req.DisplayName)
	switch {
	case errors.Is(err, ble.ErrInvalidMAC):
		writeBadRequest(w, "invalid MAC address")
		return
	case errors.Is(err, device.ErrDeviceExists):
		writeConflict(w, "device already registered")
		return
	case err != nil:
		s.logger.Error("manual device add failed", "mac", req.MAC, "error", err)
		writeInternalError(w, "failed to add device")
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

// handleUpdateDevice applies a user edit to the display name.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")

	var req updateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	record, err := s.registry.SetDisplayName(r.Context(), mac, req.DisplayName)
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
		return
	case err != nil:
		s.logger.Error("device update failed", "mac", mac, "error", err)
		writeInternalError(w, "failed to update device")
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// handleDeleteDevice removes a record and clears its retained broker topics.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")

	record, err := s.registry.Get(mac)
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}

	if err := s.registry.Remove(r.Context(), mac); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("device removal failed", "mac", mac, "error", err)
		writeInternalError(w, "failed to remove device")
		return
	}

	if s.publisher != nil {
		if err := s.publisher.ClearDevice(record.MAC); err != nil {
			s.logger.Warn("clearing retained topics failed", "mac", record.MAC, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"removed": record.MAC})
}
