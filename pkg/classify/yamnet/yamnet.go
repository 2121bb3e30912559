// Package yamnet provides a classify.Provider backed by a YAMNet inference
// sidecar exposed over HTTP.
//
// The sidecar wraps the pretrained YAMNet AudioSet model and exposes two
// endpoints:
//
//   - POST /v1/classify — takes a JSON body with the waveform and sample rate,
//     returns ranked labels plus the time-averaged 1024-d embedding.
//   - GET /v1/labels — returns the model's class map as a JSON string array.
//
// Typical usage:
//
//	p, err := yamnet.New("http://localhost:8501",
//	    yamnet.WithTimeout(15*time.Second),
//	)
//	res, err := p.Classify(ctx, samples, 16000)
package yamnet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/soundsentinel/sentinel/pkg/classify"
)

// Compile-time interface assertion.
var _ classify.Provider = (*Provider)(nil)

const (
	defaultTimeout   = 30 * time.Second
	classifyEndpoint = "/v1/classify"
	labelsEndpoint   = "/v1/labels"

	// embeddingDimensions is the fixed output dimension of YAMNet's
	// time-averaged embedding layer.
	embeddingDimensions = 1024

	defaultModelID = "yamnet/1"
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout for calls to the inference
// sidecar. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the internal HTTP client entirely. Useful for
// injecting transports in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithModelID overrides the model identifier reported by ModelID. Use this
// when the sidecar serves a fine-tuned or re-exported variant.
func WithModelID(id string) Option {
	return func(p *Provider) {
		p.modelID = id
	}
}

// Provider implements classify.Provider against a YAMNet HTTP sidecar.
// It is safe for concurrent use.
type Provider struct {
	baseURL    string
	httpClient *http.Client
	modelID    string
}

// New creates a Provider targeting the sidecar at baseURL
// (e.g., "http://localhost:8501"). A trailing slash is stripped.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("yamnet: base URL is required")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		modelID:    defaultModelID,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// classifyRequest is the JSON body for POST /v1/classify.
type classifyRequest struct {
	Samples    []float32 `json:"samples"`
	SampleRate int       `json:"sample_rate"`
	TopK       int       `json:"top_k"`
}

// classifyResponse mirrors the sidecar's response shape.
type classifyResponse struct {
	Labels []struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	} `json:"labels"`
	Embedding []float32 `json:"embedding"`
}

// topK is the number of ranked predictions requested per classification.
const topK = 5

// Classify implements [classify.Provider]. A sidecar response with an empty
// label list (waveform below the model's minimum window, or pure silence) is
// returned as-is, not as an error.
func (p *Provider) Classify(ctx context.Context, samples []float32, sampleRate int) (*classify.Result, error) {
	body, err := json.Marshal(classifyRequest{
		Samples:    samples,
		SampleRate: sampleRate,
		TopK:       topK,
	})
	if err != nil {
		return nil, fmt.Errorf("yamnet: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+classifyEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("yamnet: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yamnet: classify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("yamnet: classify: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var cr classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("yamnet: decode response: %w", err)
	}

	res := &classify.Result{
		Labels:    make([]classify.RankedLabel, 0, len(cr.Labels)),
		Embedding: cr.Embedding,
	}
	for _, l := range cr.Labels {
		res.Labels = append(res.Labels, classify.RankedLabel{Label: l.Label, Confidence: l.Confidence})
	}
	return res, nil
}

// Labels implements [classify.Provider]. The catalogue is fetched from the
// sidecar on every call; callers that need it repeatedly should cache it.
func (p *Provider) Labels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+labelsEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("yamnet: build labels request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yamnet: labels request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yamnet: labels: server returned %d", resp.StatusCode)
	}

	var labels []string
	if err := json.NewDecoder(resp.Body).Decode(&labels); err != nil {
		return nil, fmt.Errorf("yamnet: decode labels: %w", err)
	}

	// The raw class map contains duplicates (AudioSet reuses display names
	// across ontology nodes).
	seen := make(map[string]struct{}, len(labels))
	out := labels[:0]
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out, nil
}

// Dimensions implements [classify.Provider].
func (p *Provider) Dimensions() int { return embeddingDimensions }

// ModelID implements [classify.Provider].
func (p *Provider) ModelID() string { return p.modelID }
