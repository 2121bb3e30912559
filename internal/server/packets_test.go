package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/soundsentinel/sentinel/pkg/audio"
	"github.com/soundsentinel/sentinel/pkg/classify"
)

func packetBody(device, segment string, index, total int) map[string]any {
	return map[string]any{
		"device_id":     device,
		"segment_id":    segment,
		"packet_index":  index,
		"total_packets": total,
		"sample_rate":   classify.SampleRate,
		"samples":       []float32{0.1, 0.2, 0.3, 0.4},
	}
}

func TestIngestPacketBuffering(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/packets", packetBody("dev-1", "seg-1", 0, 3))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Status   string `json:"status"`
		Received int    `json:"received"`
	}
	decodeBody(t, rec, &resp)
	if resp.Status != "buffering" {
		t.Errorf("status = %q, want buffering", resp.Status)
	}
	if resp.Received != 1 {
		t.Errorf("received = %d, want 1", resp.Received)
	}
}

func TestIngestPacketCompletesSegment(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	ts.do(t, http.MethodPost, "/api/packets", packetBody("dev-1", "seg-1", 0, 2))
	rec := ts.do(t, http.MethodPost, "/api/packets", packetBody("dev-1", "seg-1", 1, 2))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Status    string `json:"status"`
		Detection struct {
			Record struct {
				DeviceID     string  `json:"device_id"`
				Label        string  `json:"label"`
				Confidence   float64 `json:"confidence"`
				ShouldNotify bool    `json:"should_notify"`
			} `json:"record"`
		} `json:"detection"`
	}
	decodeBody(t, rec, &resp)
	if resp.Status != "detection" {
		t.Errorf("status = %q, want detection", resp.Status)
	}
	if resp.Detection.Record.Label != "Dog" {
		t.Errorf("label = %q, want Dog", resp.Detection.Record.Label)
	}
	if resp.Detection.Record.DeviceID != "dev-1" {
		t.Errorf("device_id = %q, want dev-1", resp.Detection.Record.DeviceID)
	}
	// No policy entries exist, so the default decision is not to notify.
	if resp.Detection.Record.ShouldNotify {
		t.Error("should_notify = true, want false without policy entries")
	}

	records, total, err := ts.store.Detections(context.Background(), "dev-1", 10)
	if err != nil {
		t.Fatalf("Detections: %v", err)
	}
	if total != 1 || len(records) != 1 {
		t.Fatalf("persisted %d records (total %d), want exactly 1", len(records), total)
	}
}

func TestIngestPacketValidation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{
			name: "zero total packets",
			body: packetBody("dev-1", "seg-1", 0, 0),
			want: http.StatusBadRequest,
		},
		{
			name: "index out of range",
			body: packetBody("dev-1", "seg-1", 5, 3),
			want: http.StatusBadRequest,
		},
		{
			name: "missing device id",
			body: packetBody("", "seg-1", 0, 3),
			want: http.StatusBadRequest,
		},
		{
			name: "empty samples",
			body: map[string]any{
				"device_id": "dev-1", "segment_id": "seg-1",
				"packet_index": 0, "total_packets": 3,
				"sample_rate": classify.SampleRate, "samples": []float32{},
			},
			want: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/packets", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestIngestPacketMalformedBody(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/packets", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestIngestPacketProtocolMismatch(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	ts.do(t, http.MethodPost, "/api/packets", packetBody("dev-1", "seg-1", 0, 3))
	rec := ts.do(t, http.MethodPost, "/api/packets", packetBody("dev-1", "seg-1", 1, 5))
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409; body: %s", rec.Code, rec.Body.String())
	}

	// The buffered segment survives the rejected packet.
	rec = ts.do(t, http.MethodPost, "/api/packets", packetBody("dev-1", "seg-1", 1, 3))
	if rec.Code != http.StatusOK {
		t.Errorf("status after mismatch = %d, want 200", rec.Code)
	}
}

func TestIngestPacketClassificationFailure(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ts.classifier.Result = &classify.Result{} // no ranked labels

	rec := ts.do(t, http.MethodPost, "/api/packets", packetBody("dev-1", "seg-1", 0, 1))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422; body: %s", rec.Code, rec.Body.String())
	}

	_, total, err := ts.store.Detections(context.Background(), "dev-1", 10)
	if err != nil {
		t.Fatalf("Detections: %v", err)
	}
	if total != 0 {
		t.Errorf("persisted %d records after classification failure, want 0", total)
	}
}

func TestAudioLevelPublishesEvent(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	sub := ts.hub.Subscribe()
	defer ts.hub.Unsubscribe(sub)

	rec := ts.do(t, http.MethodPost, "/api/levels", map[string]any{
		"device_id": "dev-1",
		"db_level":  -42.5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	select {
	case payload := <-sub.Receive():
		if !strings.Contains(string(payload), `"audio_level"`) {
			t.Errorf("event payload = %s, want audio_level type", payload)
		}
	default:
		t.Fatal("no event published")
	}
}

func TestAudioLevelRequiresDeviceID(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/levels", map[string]any{"db_level": -10.0})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestIngestPacketPCM16Payload(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	body := packetBody("dev-1", "seg-pcm", 0, 1)
	delete(body, "samples")
	body["samples_pcm16"] = audio.EncodePCM16([]float32{0.5, -0.25, 0.125})

	rec := ts.do(t, http.MethodPost, "/api/packets", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Status string `json:"status"`
	}
	decodeBody(t, rec, &resp)
	if resp.Status != "detection" {
		t.Errorf("status = %q, want detection", resp.Status)
	}
	_, total, err := ts.store.Detections(context.Background(), "dev-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Errorf("persisted %d detections, want 1", total)
	}
}

func TestIngestPacketPCM16OddLength(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	body := packetBody("dev-1", "seg-odd", 0, 1)
	delete(body, "samples")
	body["samples_pcm16"] = []byte{0x01, 0x02, 0x03}

	rec := ts.do(t, http.MethodPost, "/api/packets", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body: %s", rec.Code, rec.Body.String())
	}
}

func TestIngestPacketRejectsBothSampleForms(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	body := packetBody("dev-1", "seg-both", 0, 1)
	body["samples_pcm16"] = audio.EncodePCM16([]float32{0.5})

	rec := ts.do(t, http.MethodPost, "/api/packets", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body: %s", rec.Code, rec.Body.String())
	}
}
