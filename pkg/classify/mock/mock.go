// Package mock provides a test double for the classify.Provider interface.
//
// Use Provider to return pre-canned classification results without a live
// model and to verify which waveforms were submitted.
//
// Example:
//
//	p := &mock.Provider{
//	    Result: &classify.Result{
//	        Labels:    []classify.RankedLabel{{Label: "Doorbell", Confidence: 0.9}},
//	        Embedding: []float32{0.1, 0.2, 0.3},
//	    },
//	    DimensionsValue: 3,
//	}
//	res, _ := p.Classify(ctx, samples, 16000)
package mock

import (
	"context"
	"sync"

	"github.com/soundsentinel/sentinel/pkg/classify"
)

// Compile-time interface assertion.
var _ classify.Provider = (*Provider)(nil)

// ClassifyCall records a single invocation of Classify.
type ClassifyCall struct {
	// Samples is a copy of the waveform passed to Classify.
	Samples []float32
	// SampleRate is the rate passed to Classify.
	SampleRate int
}

// Provider is a mock implementation of classify.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Classify. If nil, an empty Result is returned.
	Result *classify.Result

	// ClassifyErr, if non-nil, is returned as the error from Classify.
	ClassifyErr error

	// ClassifyFunc, if non-nil, is called instead of returning Result. Use it
	// to vary responses per call.
	ClassifyFunc func(ctx context.Context, samples []float32, sampleRate int) (*classify.Result, error)

	// LabelsValue is returned by Labels.
	LabelsValue []string

	// LabelsErr, if non-nil, is returned as the error from Labels.
	LabelsErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID. Defaults to "mock" when empty.
	ModelIDValue string

	// Calls records every Classify invocation in order.
	Calls []ClassifyCall
}

// Classify implements classify.Provider.
func (p *Provider) Classify(ctx context.Context, samples []float32, sampleRate int) (*classify.Result, error) {
	p.mu.Lock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	p.Calls = append(p.Calls, ClassifyCall{Samples: cp, SampleRate: sampleRate})
	fn := p.ClassifyFunc
	res, err := p.Result, p.ClassifyErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, samples, sampleRate)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &classify.Result{Labels: []classify.RankedLabel{}}, nil
	}
	return res, nil
}

// Labels implements classify.Provider.
func (p *Provider) Labels(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.LabelsErr != nil {
		return nil, p.LabelsErr
	}
	return p.LabelsValue, nil
}

// Dimensions implements classify.Provider.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

// ModelID implements classify.Provider.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ModelIDValue == "" {
		return "mock"
	}
	return p.ModelIDValue
}

// CallCount returns the number of Classify invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
