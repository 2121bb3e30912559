// Package classify defines the Provider interface for acoustic classification
// backends.
//
// A classifier maps a mono PCM waveform to two outputs: a ranked list of
// generic sound labels with confidence scores, and a fixed-length embedding
// vector summarising the waveform's acoustic content. The embedding is what
// the custom-sound matcher compares against per-device sound profiles; the
// ranked labels are the fallback when no custom profile matches.
//
// Implementations must be safe for concurrent use.
package classify

import "context"

// RankedLabel is a single generic classifier prediction.
type RankedLabel struct {
	// Label is the human-readable sound class name (e.g., "Doorbell", "Dog bark").
	Label string `json:"label"`

	// Confidence is the model's score for this label in [0.0, 1.0].
	Confidence float64 `json:"confidence"`
}

// Result is the output of a single classification call.
type Result struct {
	// Labels is the model's ranked predictions, highest confidence first.
	// An empty slice means the model could not produce a usable prediction
	// (for example, the waveform was shorter than the model's minimum
	// analysis window). Callers treat that as a classification failure for
	// the affected segment.
	Labels []RankedLabel `json:"labels"`

	// Embedding is the acoustic embedding vector for the waveform, of length
	// [Provider.Dimensions]. Always populated when Labels is non-empty.
	Embedding []float32 `json:"embedding"`
}

// Top returns the highest-confidence label, or false when Labels is empty.
// Ties are broken by the model's own ranking: the first entry wins.
func (r *Result) Top() (RankedLabel, bool) {
	if len(r.Labels) == 0 {
		return RankedLabel{}, false
	}
	return r.Labels[0], true
}

// Provider is the abstraction over any acoustic classification backend.
//
// All embedding vectors returned by a single Provider instance share the same
// dimensionality (returned by Dimensions). Callers must not compare embeddings
// from different Provider instances unless they have verified both use the
// same model.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Classify runs the model over samples (mono float32 PCM in [-1, 1] at
	// sampleRate Hz) and returns the ranked labels and embedding.
	//
	// Waveforms shorter than the model's minimum analysis window are not an
	// error at this boundary: implementations return a Result with an empty
	// Labels slice and let the caller decide how to surface it.
	Classify(ctx context.Context, samples []float32, sampleRate int) (*Result, error)

	// Labels returns the full generic label catalogue this model can emit,
	// deduplicated and sorted. Used to populate user-facing label pickers.
	Labels(ctx context.Context) ([]string, error)

	// Dimensions returns the fixed length of every embedding vector produced
	// by this provider. Constant for the lifetime of the instance.
	Dimensions() int

	// ModelID returns the provider-specific model identifier
	// (e.g., "yamnet/1"). Useful for logging and detection provenance.
	ModelID() string
}

// SampleRate is the canonical input rate expected by the bundled acoustic
// models. Device audio arriving at other rates is resampled before
// classification.
const SampleRate = 16000
