package server

import (
	"net/http"
	"strconv"

	"github.com/soundsentinel/sentinel/internal/hub"
)

// defaultDetectionLimit caps history responses when the client does not ask
// for a specific page size.
const defaultDetectionLimit = 50

// handleListDetections returns a device's detection history, newest first.
// The optional limit query parameter caps the page size.
func (s *Server) handleListDetections(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device")

	limit := defaultDetectionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, total, err := s.store.Detections(r.Context(), deviceID, limit)
	if err != nil {
		s.log.Error("list detections", "device_id", deviceID, "error", err)
		writeError(w, http.StatusInternalServerError, "list detections failed")
		return
	}
	// Embeddings stay server-side; clients only need the classification.
	for i := range records {
		records[i].Embedding = nil
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"detections": records,
		"total":      total,
	})
}

// handleClearDetections purges a device's history and notifies subscribers.
func (s *Server) handleClearDetections(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device")

	removed, err := s.store.PurgeDetections(r.Context(), deviceID)
	if err != nil {
		s.log.Error("purge detections", "device_id", deviceID, "error", err)
		writeError(w, http.StatusInternalServerError, "purge detections failed")
		return
	}

	s.hub.Publish(hub.Event{Type: hub.TypeDetectionsCleared, Data: map[string]any{
		"device_id": deviceID,
		"removed":   removed,
	}})
	s.log.Info("detection history purged", "device_id", deviceID, "removed", removed)
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "removed": removed})
}
