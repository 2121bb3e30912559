package audio

import (
	"math"
	"testing"
)

func TestPeakDBFS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples []float32
		want    float64
	}{
		{name: "full scale", samples: []float32{0, 1, -0.5}, want: 0},
		{name: "half scale", samples: []float32{0.5, -0.5}, want: -6.02},
		{name: "silence", samples: []float32{0, 0, 0}, want: -200},
		{name: "empty", samples: nil, want: -200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := PeakDBFS(tt.samples)
			if math.Abs(got-tt.want) > 0.05 {
				t.Errorf("got %.2f dBFS, want %.2f", got, tt.want)
			}
		})
	}
}

func TestRMSDBFS(t *testing.T) {
	t.Parallel()

	// A constant half-scale signal has RMS equal to its peak.
	got := RMSDBFS([]float32{0.5, 0.5, 0.5, 0.5})
	if math.Abs(got-(-6.02)) > 0.05 {
		t.Errorf("got %.2f dBFS, want -6.02", got)
	}

	if got := RMSDBFS(nil); got > -199 {
		t.Errorf("empty input: got %.2f dBFS, want silence floor", got)
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()

	long := make([]float32, PreviewSamples*3)
	for i := range long {
		long[i] = float32(i)
	}
	got := Preview(long)
	if len(got) != PreviewSamples {
		t.Fatalf("got %d samples, want %d", len(got), PreviewSamples)
	}
	if got[PreviewSamples-1] != float32(PreviewSamples-1) {
		t.Errorf("preview is not a prefix of the input")
	}

	short := []float32{1, 2, 3}
	if got := Preview(short); len(got) != 3 {
		t.Errorf("short input: got %d samples, want 3", len(got))
	}

	// Mutating the preview must not touch the source.
	got = Preview(short)
	got[0] = 99
	if short[0] != 1 {
		t.Error("preview shares backing array with input")
	}
}
