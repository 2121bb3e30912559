// Package audio provides the PCM plumbing between edge devices and the
// classifier: 16-bit little-endian decode, sample-rate conversion, and the
// waveform statistics reported alongside detections.
package audio

import (
	"encoding/binary"
	"fmt"
)

// DecodePCM16 converts little-endian signed 16-bit mono PCM into float32
// samples in [-1, 1]. A trailing odd byte means the payload was truncated
// mid-sample and is rejected.
func DecodePCM16(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio: pcm16 payload has odd length %d", len(pcm))
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(s) / 32768.0
	}
	return samples, nil
}

// EncodePCM16 converts float32 samples back to little-endian signed 16-bit
// PCM, clamping to the int16 range.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int32(s * 32767.0)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
