package server

import (
	"net/http"

	"github.com/soundsentinel/sentinel/pkg/store"
)

// policyEntryRequest adds a label to one of a device's policy lists.
type policyEntryRequest struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
}

// customSoundView is the policy-page summary of a trained profile.
type customSoundView struct {
	Name      string         `json:"name"`
	Polarity  store.Polarity `json:"polarity"`
	Threshold float64        `json:"threshold"`
}

// handlePolicySettings returns the full notification policy view for a
// device: both label lists plus its trained custom sounds.
func (s *Server) handlePolicySettings(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device")

	sets, err := s.store.PolicySets(r.Context(), deviceID)
	if err != nil {
		s.log.Error("load policy sets", "device_id", deviceID, "error", err)
		writeError(w, http.StatusInternalServerError, "load policy failed")
		return
	}
	profiles, err := s.store.Profiles(r.Context(), deviceID)
	if err != nil {
		s.log.Error("load profiles for policy view", "device_id", deviceID, "error", err)
		writeError(w, http.StatusInternalServerError, "load policy failed")
		return
	}

	custom := make([]customSoundView, 0, len(profiles))
	for _, p := range profiles {
		custom = append(custom, customSoundView{Name: p.Name, Polarity: p.Polarity, Threshold: p.Threshold})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"priority":      sets.Priority,
		"excluded":      sets.Excluded,
		"custom_sounds": custom,
	})
}

func (s *Server) handleAddPriority(w http.ResponseWriter, r *http.Request) {
	s.addPolicy(w, r, store.KindPriority)
}

func (s *Server) handleAddExcluded(w http.ResponseWriter, r *http.Request) {
	s.addPolicy(w, r, store.KindExcluded)
}

func (s *Server) addPolicy(w http.ResponseWriter, r *http.Request, kind store.PolicyKind) {
	var req policyEntryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DeviceID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "device_id and name are required")
		return
	}

	if err := s.store.AddPolicy(r.Context(), req.DeviceID, req.Name, kind); err != nil {
		s.log.Error("add policy entry", "device_id", req.DeviceID, "name", req.Name, "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "add policy entry failed")
		return
	}

	s.log.Info("policy entry added", "device_id", req.DeviceID, "name", req.Name, "kind", kind)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "name": req.Name, "kind": kind})
}

// handleRemovePolicy removes a label from the list named by the kind query
// parameter.
func (s *Server) handleRemovePolicy(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device")
	name := r.PathValue("name")

	kind := store.PolicyKind(r.URL.Query().Get("kind"))
	if !kind.IsValid() {
		writeError(w, http.StatusBadRequest, "kind must be \"priority\" or \"excluded\"")
		return
	}

	if err := s.store.RemovePolicy(r.Context(), deviceID, name, kind); err != nil {
		s.log.Error("remove policy entry", "device_id", deviceID, "name", name, "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "remove policy entry failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
