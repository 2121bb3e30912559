package audio

import "math"

// PreviewSamples is the number of leading samples included in waveform
// telemetry sent to dashboard clients.
const PreviewSamples = 100

// PeakDBFS returns the peak level of samples in decibels relative to full
// scale. Silence maps to a large negative value rather than -Inf.
func PeakDBFS(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	return 20 * math.Log10(peak+1e-10)
}

// RMSDBFS returns the root-mean-square level of samples in decibels relative
// to full scale.
func RMSDBFS(samples []float32) float64 {
	if len(samples) == 0 {
		return 20 * math.Log10(1e-10)
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return 20 * math.Log10(math.Sqrt(sum/float64(len(samples)))+1e-10)
}

// Preview returns a copy of up to PreviewSamples leading samples, suitable
// for rendering a small waveform sparkline in the UI.
func Preview(samples []float32) []float32 {
	n := min(len(samples), PreviewSamples)
	out := make([]float32, n)
	copy(out, samples[:n])
	return out
}
