package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/soundsentinel/sentinel/internal/assembler"
	"github.com/soundsentinel/sentinel/internal/hub"
	"github.com/soundsentinel/sentinel/internal/pipeline"
	"github.com/soundsentinel/sentinel/pkg/audio"
)

// packetRequest is one fragment of a streamed audio segment. Audio arrives
// either as a float array or, from bandwidth-constrained edge devices, as
// base64 16-bit little-endian PCM in samples_pcm16.
type packetRequest struct {
	DeviceID     string    `json:"device_id"`
	SegmentID    string    `json:"segment_id"`
	PacketIndex  int       `json:"packet_index"`
	TotalPackets int       `json:"total_packets"`
	SampleRate   int       `json:"sample_rate"`
	Samples      []float32 `json:"samples,omitempty"`
	SamplesPCM16 []byte    `json:"samples_pcm16,omitempty"`
}

// samplesFromRequest picks the packet's audio payload, decoding PCM16 when
// the float form is absent.
func samplesFromRequest(req *packetRequest) ([]float32, error) {
	switch {
	case len(req.Samples) > 0 && len(req.SamplesPCM16) > 0:
		return nil, errors.New("provide samples or samples_pcm16, not both")
	case len(req.SamplesPCM16) > 0:
		return audio.DecodePCM16(req.SamplesPCM16)
	default:
		return req.Samples, nil
	}
}

type bufferingResponse struct {
	Status   string `json:"status"`
	Received int    `json:"received"`
}

type detectionResponse struct {
	Status    string              `json:"status"`
	Detection *pipeline.Detection `json:"detection"`
}

// handleIngestPacket feeds a packet to the assembler. When the packet
// completes its segment the detection pipeline runs synchronously and the
// resulting detection is returned to the sender.
func (s *Server) handleIngestPacket(w http.ResponseWriter, r *http.Request) {
	var req packetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	samples, err := samplesFromRequest(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := s.assembler.Ingest(assembler.Packet{
		DeviceID:   req.DeviceID,
		SegmentID:  req.SegmentID,
		Index:      req.PacketIndex,
		Total:      req.TotalPackets,
		SampleRate: req.SampleRate,
		Samples:    samples,
	})
	switch {
	case errors.Is(err, assembler.ErrInvalidPacket):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, assembler.ErrProtocolMismatch):
		s.metrics.ProtocolMismatches.Add(r.Context(), 1)
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if outcome.State != assembler.StateComplete {
		if outcome.Received == 1 {
			s.metrics.ActiveSegments.Add(r.Context(), 1)
		}
		writeJSON(w, http.StatusOK, bufferingResponse{Status: "buffering", Received: outcome.Received})
		return
	}

	s.metrics.SegmentsCompleted.Add(r.Context(), 1)
	// Single-packet segments never entered the buffering state.
	if req.TotalPackets > 1 {
		s.metrics.ActiveSegments.Add(r.Context(), -1)
	}

	det, err := s.pipeline.ProcessSegment(r.Context(), req.DeviceID, outcome.Waveform, outcome.SampleRate)
	switch {
	case errors.Is(err, pipeline.ErrClassificationFailed):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		s.log.Error("segment processing failed", "device_id", req.DeviceID, "segment_id", req.SegmentID, "error", err)
		writeError(w, http.StatusInternalServerError, "segment processing failed")
		return
	}

	writeJSON(w, http.StatusOK, detectionResponse{Status: "detection", Detection: det})
}

// audioLevelRequest carries loudness telemetry that is fanned out to
// dashboard clients without running detection.
type audioLevelRequest struct {
	DeviceID  string  `json:"device_id"`
	DBLevel   float64 `json:"db_level"`
	Timestamp string  `json:"timestamp,omitempty"`
}

func (s *Server) handleAudioLevel(w http.ResponseWriter, r *http.Request) {
	var req audioLevelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	if req.Timestamp == "" {
		req.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	s.hub.Publish(hub.Event{Type: hub.TypeAudioLevel, Data: map[string]any{
		"device_id": req.DeviceID,
		"db_level":  req.DBLevel,
		"timestamp": req.Timestamp,
	}})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
