package server

import (
	"net/http"
	"testing"
)

type policyView struct {
	Priority     []string `json:"priority"`
	Excluded     []string `json:"excluded"`
	CustomSounds []struct {
		Name     string `json:"name"`
		Polarity string `json:"polarity"`
	} `json:"custom_sounds"`
}

func getPolicy(t *testing.T, ts *testServer, device string) policyView {
	t.Helper()
	rec := ts.do(t, http.MethodGet, "/api/policy/"+device, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET policy = %d; body: %s", rec.Code, rec.Body.String())
	}
	var view policyView
	decodeBody(t, rec, &view)
	return view
}

func TestAddPriorityLabel(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/policy/priority", map[string]any{
		"device_id": "dev-1",
		"name":      "Glass",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	view := getPolicy(t, ts, "dev-1")
	if len(view.Priority) != 1 || view.Priority[0] != "Glass" {
		t.Errorf("priority = %v, want [Glass]", view.Priority)
	}
	if len(view.Excluded) != 0 {
		t.Errorf("excluded = %v, want empty", view.Excluded)
	}
}

func TestAddPolicyEvictsOppositeKind(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	ts.do(t, http.MethodPost, "/api/policy/priority", map[string]any{"device_id": "dev-1", "name": "Dog"})
	ts.do(t, http.MethodPost, "/api/policy/excluded", map[string]any{"device_id": "dev-1", "name": "dog"})

	view := getPolicy(t, ts, "dev-1")
	if len(view.Priority) != 0 {
		t.Errorf("priority = %v, want empty after excluded insert", view.Priority)
	}
	if len(view.Excluded) != 1 {
		t.Errorf("excluded = %v, want one entry", view.Excluded)
	}
}

func TestAddPolicyValidation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/policy/priority", map[string]any{"device_id": "dev-1"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing name status = %d, want 400", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/api/policy/excluded", map[string]any{"name": "Dog"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing device status = %d, want 400", rec.Code)
	}
}

func TestPolicyViewIncludesCustomSounds(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	ts.do(t, http.MethodPost, "/api/profiles", map[string]any{
		"device_id": "dev-1", "name": "fridge hum", "polarity": "excluded",
		"samples": [][]float32{{1, 0, 0}},
	})

	view := getPolicy(t, ts, "dev-1")
	if len(view.CustomSounds) != 1 {
		t.Fatalf("custom sounds = %d, want 1", len(view.CustomSounds))
	}
	if view.CustomSounds[0].Name != "fridge hum" || view.CustomSounds[0].Polarity != "excluded" {
		t.Errorf("custom sound = %+v, want fridge hum/excluded", view.CustomSounds[0])
	}
}

func TestRemovePolicyEntry(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	ts.do(t, http.MethodPost, "/api/policy/priority", map[string]any{"device_id": "dev-1", "name": "Glass"})

	rec := ts.do(t, http.MethodDelete, "/api/policy/dev-1/Glass?kind=priority", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	view := getPolicy(t, ts, "dev-1")
	if len(view.Priority) != 0 {
		t.Errorf("priority = %v, want empty after removal", view.Priority)
	}
}

func TestRemovePolicyRequiresValidKind(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodDelete, "/api/policy/dev-1/Glass?kind=loud", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	rec = ts.do(t, http.MethodDelete, "/api/policy/dev-1/Glass", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing kind status = %d, want 400", rec.Code)
	}
}
