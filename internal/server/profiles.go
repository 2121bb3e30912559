package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/soundsentinel/sentinel/pkg/classify"
	"github.com/soundsentinel/sentinel/pkg/store"
)

// profileRequest creates a custom sound profile from pre-computed sample
// embeddings.
type profileRequest struct {
	DeviceID  string      `json:"device_id"`
	Name      string      `json:"name"`
	Polarity  string      `json:"polarity"`
	Samples   [][]float32 `json:"samples"`
	Threshold float64     `json:"threshold,omitempty"`
}

// trainRequest creates a profile from raw audio recordings; each recording is
// embedded through the classifier before storage.
type trainRequest struct {
	DeviceID   string      `json:"device_id"`
	Name       string      `json:"name"`
	Polarity   string      `json:"polarity"`
	Recordings [][]float32 `json:"recordings"`
	SampleRate int         `json:"sample_rate,omitempty"`
	Threshold  float64     `json:"threshold,omitempty"`
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id query parameter is required")
		return
	}

	profiles, err := s.store.Profiles(r.Context(), deviceID)
	if err != nil {
		s.log.Error("list profiles", "device_id", deviceID, "error", err)
		writeError(w, http.StatusInternalServerError, "list profiles failed")
		return
	}
	// Raw sample embeddings are large and of no use to API clients.
	for i := range profiles {
		profiles[i].Samples = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": profiles})
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	profile, ok := s.buildProfile(w, req.DeviceID, req.Name, req.Polarity, req.Threshold, req.Samples)
	if !ok {
		return
	}
	s.storeProfile(w, r, profile)
}

// handleTrainProfile embeds each raw recording through the classifier and
// stores the resulting embeddings as one profile.
func (s *Server) handleTrainProfile(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Recordings) == 0 {
		writeError(w, http.StatusBadRequest, "at least one recording is required")
		return
	}
	if req.SampleRate == 0 {
		req.SampleRate = classify.SampleRate
	}

	samples := make([][]float32, 0, len(req.Recordings))
	for i, rec := range req.Recordings {
		if len(rec) == 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("recording %d is empty", i))
			return
		}
		result, err := s.classifier.Classify(r.Context(), rec, req.SampleRate)
		if err != nil {
			s.log.Error("embed training recording", "device_id", req.DeviceID, "recording", i, "error", err)
			writeError(w, http.StatusBadGateway, "classifier unavailable")
			return
		}
		samples = append(samples, result.Embedding)
	}

	profile, ok := s.buildProfile(w, req.DeviceID, req.Name, req.Polarity, req.Threshold, samples)
	if !ok {
		return
	}
	s.storeProfile(w, r, profile)
}

// buildProfile validates the common profile fields. On failure it writes a
// 400 response and returns ok=false.
func (s *Server) buildProfile(w http.ResponseWriter, deviceID, name, polarity string, threshold float64, samples [][]float32) (*store.SoundProfile, bool) {
	switch {
	case deviceID == "":
		writeError(w, http.StatusBadRequest, "device_id is required")
		return nil, false
	case name == "":
		writeError(w, http.StatusBadRequest, "name is required")
		return nil, false
	case len(samples) == 0:
		writeError(w, http.StatusBadRequest, "at least one sample embedding is required")
		return nil, false
	}

	p := store.Polarity(polarity)
	if !p.IsValid() {
		writeError(w, http.StatusBadRequest, "polarity must be \"specific\" or \"excluded\"")
		return nil, false
	}
	if threshold == 0 {
		threshold = s.DefaultThreshold()
	}
	if threshold < 0 || threshold > 1 {
		writeError(w, http.StatusBadRequest, "threshold must be in (0, 1]")
		return nil, false
	}

	return &store.SoundProfile{
		DeviceID:  deviceID,
		Name:      name,
		Polarity:  p,
		Samples:   samples,
		Threshold: threshold,
	}, true
}

func (s *Server) storeProfile(w http.ResponseWriter, r *http.Request, profile *store.SoundProfile) {
	if err := s.store.UpsertProfile(r.Context(), profile); err != nil {
		s.log.Error("upsert profile", "device_id", profile.DeviceID, "name", profile.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "store profile failed")
		return
	}

	s.log.Info("profile stored",
		"device_id", profile.DeviceID,
		"name", profile.Name,
		"polarity", profile.Polarity,
		"samples", len(profile.Samples),
		"threshold", profile.Threshold,
	)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":            profile.ID,
		"name":          profile.Name,
		"polarity":      profile.Polarity,
		"samples_count": len(profile.Samples),
		"threshold":     profile.Threshold,
	})
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.DeleteProfile(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "profile not found")
		return
	case err != nil:
		s.log.Error("delete profile", "profile_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "delete profile failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleListLabels returns the classifier's label catalog.
func (s *Server) handleListLabels(w http.ResponseWriter, r *http.Request) {
	labels, err := s.classifier.Labels(r.Context())
	if err != nil {
		s.log.Error("fetch label catalog", "model", s.classifier.ModelID(), "error", err)
		writeError(w, http.StatusBadGateway, "classifier unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"labels": labels})
}
