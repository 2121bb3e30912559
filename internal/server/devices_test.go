package server

import (
	"net/http"
	"testing"

	"github.com/soundsentinel/sentinel/pkg/store"
)

func registerDevice(t *testing.T, ts *testServer, mac string) store.Device {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/devices", map[string]any{
		"name":        "kitchen",
		"ip_address":  "192.168.1.20",
		"mac_address": mac,
		"model":       "esp32-s3",
		"wifi_signal": -55,
	})
	if rec.Code != http.StatusCreated && rec.Code != http.StatusOK {
		t.Fatalf("register device = %d; body: %s", rec.Code, rec.Body.String())
	}
	var dev store.Device
	decodeBody(t, rec, &dev)
	return dev
}

func TestRegisterDevice(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	sub := ts.hub.Subscribe()
	defer ts.hub.Unsubscribe(sub)

	rec := ts.do(t, http.MethodPost, "/api/devices", map[string]any{
		"name":        "kitchen",
		"ip_address":  "192.168.1.20",
		"mac_address": "aa:bb:cc:dd:ee:ff",
		"model":       "esp32-s3",
		"wifi_signal": -55,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", rec.Code, rec.Body.String())
	}

	var dev store.Device
	decodeBody(t, rec, &dev)
	if dev.ID == "" {
		t.Error("device ID not assigned")
	}
	if dev.Status != "online" {
		t.Errorf("status = %q, want online", dev.Status)
	}

	select {
	case <-sub.Receive():
	default:
		t.Error("no device_registered event published")
	}
}

func TestRegisterDeviceDeduplicatesByMAC(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	first := registerDevice(t, ts, "aa:bb:cc:dd:ee:01")

	rec := ts.do(t, http.MethodPost, "/api/devices", map[string]any{
		"name":        "kitchen-renamed",
		"ip_address":  "192.168.1.21",
		"mac_address": "aa:bb:cc:dd:ee:01",
		"model":       "esp32-s3",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("re-register status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var second store.Device
	decodeBody(t, rec, &second)
	if second.ID != first.ID {
		t.Errorf("re-registration changed device ID: %q != %q", second.ID, first.ID)
	}

	var list struct {
		Devices []store.Device `json:"devices"`
	}
	rec = ts.do(t, http.MethodGet, "/api/devices", nil)
	decodeBody(t, rec, &list)
	if len(list.Devices) != 1 {
		t.Errorf("device count = %d, want 1", len(list.Devices))
	}
}

func TestRegisterDeviceRequiresMAC(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/devices", map[string]any{"name": "kitchen"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUpdateDevice(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	dev := registerDevice(t, ts, "aa:bb:cc:dd:ee:02")

	rec := ts.do(t, http.MethodPut, "/api/devices/"+dev.ID, map[string]any{
		"wifi_signal":     -70,
		"microphone_info": "INMP441",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var list struct {
		Devices []store.Device `json:"devices"`
	}
	decodeBody(t, ts.do(t, http.MethodGet, "/api/devices", nil), &list)
	if list.Devices[0].WiFiSignal != -70 {
		t.Errorf("wifi_signal = %d, want -70", list.Devices[0].WiFiSignal)
	}
	if list.Devices[0].MicrophoneInfo != "INMP441" {
		t.Errorf("microphone_info = %q, want INMP441", list.Devices[0].MicrophoneInfo)
	}
}

func TestUpdateDeviceNotFound(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPut, "/api/devices/ghost", map[string]any{"wifi_signal": -70})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteDevice(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	dev := registerDevice(t, ts, "aa:bb:cc:dd:ee:03")

	rec := ts.do(t, http.MethodDelete, "/api/devices/"+dev.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var list struct {
		Devices []store.Device `json:"devices"`
	}
	decodeBody(t, ts.do(t, http.MethodGet, "/api/devices", nil), &list)
	if len(list.Devices) != 0 {
		t.Errorf("device count after delete = %d, want 0", len(list.Devices))
	}
}

func TestDeleteDeviceNotFound(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodDelete, "/api/devices/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
