package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/soundsentinel/sentinel/internal/hub"
	"github.com/soundsentinel/sentinel/pkg/store"
)

// deviceRequest is the registration/update payload for an edge device.
type deviceRequest struct {
	Name           string `json:"name"`
	IPAddress      string `json:"ip_address"`
	MACAddress     string `json:"mac_address"`
	Model          string `json:"model"`
	ModelImageURL  string `json:"model_image_url,omitempty"`
	MicrophoneInfo string `json:"microphone_info,omitempty"`
	WiFiSignal     int    `json:"wifi_signal"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.Devices(r.Context())
	if err != nil {
		s.log.Error("list devices", "error", err)
		writeError(w, http.StatusInternalServerError, "list devices failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// handleRegisterDevice registers a device or, when the MAC address is already
// known, refreshes the existing row. 201 on insert, 200 on update.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MACAddress == "" {
		writeError(w, http.StatusBadRequest, "mac_address is required")
		return
	}

	dev := store.Device{
		Name:           req.Name,
		IPAddress:      req.IPAddress,
		MACAddress:     req.MACAddress,
		Model:          req.Model,
		ModelImageURL:  req.ModelImageURL,
		MicrophoneInfo: req.MicrophoneInfo,
		WiFiSignal:     req.WiFiSignal,
	}
	created, err := s.store.RegisterDevice(r.Context(), &dev)
	if err != nil {
		s.log.Error("register device", "mac_address", req.MACAddress, "error", err)
		writeError(w, http.StatusInternalServerError, "register device failed")
		return
	}

	eventType := hub.TypeDeviceUpdated
	status := http.StatusOK
	if created {
		eventType = hub.TypeDeviceRegistered
		status = http.StatusCreated
	}
	s.hub.Publish(hub.Event{Type: eventType, Data: dev})
	s.log.Info("device registered", "device_id", dev.ID, "mac_address", dev.MACAddress, "created", created)
	writeJSON(w, status, dev)
}

// deviceUpdateRequest carries the telemetry fields a device refreshes on its
// heartbeat.
type deviceUpdateRequest struct {
	WiFiSignal     int    `json:"wifi_signal"`
	MicrophoneInfo string `json:"microphone_info,omitempty"`
}

func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req deviceUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	dev := store.Device{
		ID:             id,
		WiFiSignal:     req.WiFiSignal,
		MicrophoneInfo: req.MicrophoneInfo,
		LastSeen:       time.Now().UTC(),
	}
	err := s.store.UpdateDevice(r.Context(), &dev)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "device not found")
		return
	case err != nil:
		s.log.Error("update device", "device_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "update device failed")
		return
	}

	s.hub.Publish(hub.Event{Type: hub.TypeDeviceUpdated, Data: map[string]any{
		"device_id":       id,
		"wifi_signal":     req.WiFiSignal,
		"microphone_info": req.MicrophoneInfo,
	}})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.DeleteDevice(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "device not found")
		return
	case err != nil:
		s.log.Error("delete device", "device_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "delete device failed")
		return
	}

	s.hub.Publish(hub.Event{Type: hub.TypeDeviceDeleted, Data: map[string]string{"device_id": id}})
	s.log.Info("device deleted", "device_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
