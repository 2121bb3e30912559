// Package pipeline orchestrates the processing of one completed audio
// segment: classification, custom sound matching, notification policy, one
// persisted detection record, and one broadcast event.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/soundsentinel/sentinel/internal/hub"
	"github.com/soundsentinel/sentinel/internal/matcher"
	"github.com/soundsentinel/sentinel/internal/observe"
	"github.com/soundsentinel/sentinel/internal/policy"
	"github.com/soundsentinel/sentinel/pkg/audio"
	"github.com/soundsentinel/sentinel/pkg/classify"
	"github.com/soundsentinel/sentinel/pkg/store"
)

// ErrClassificationFailed is returned when the classifier produces no labels
// for a segment. The segment is terminal: no detection record is written and
// nothing is broadcast.
var ErrClassificationFailed = errors.New("pipeline: classification produced no labels")

// Detection is the outcome of processing one segment, returned to the
// transport layer and broadcast to subscribers.
type Detection struct {
	Record store.DetectionRecord `json:"record"`

	// Similarity is set only for custom sound matches.
	Similarity float64 `json:"similarity,omitempty"`

	// Waveform telemetry for dashboard clients.
	PeakDBFS float64   `json:"peak_dbfs"`
	RMSDBFS  float64   `json:"rms_dbfs"`
	Preview  []float32 `json:"preview,omitempty"`
}

// Pipeline wires the segment processing stages together. All dependencies
// are injected; the zero value is not usable.
type Pipeline struct {
	classifier classify.Provider
	matcher    *matcher.Matcher
	resolver   *policy.Resolver
	detections store.DetectionStore
	hub        *hub.Hub
	metrics    *observe.Metrics
	log        *slog.Logger
}

// New creates a Pipeline. metrics may be nil, in which case the package
// default instruments are used.
func New(
	classifier classify.Provider,
	m *matcher.Matcher,
	resolver *policy.Resolver,
	detections store.DetectionStore,
	h *hub.Hub,
	metrics *observe.Metrics,
	log *slog.Logger,
) *Pipeline {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		classifier: classifier,
		matcher:    m,
		resolver:   resolver,
		detections: detections,
		hub:        h,
		metrics:    metrics,
		log:        log,
	}
}

// ProcessSegment turns a reassembled waveform into exactly one detection
// record and at most one broadcast event. Classification runs concurrently
// with the policy-set fetch; the classifier's embedding then drives the
// custom sound match before the policy decision.
//
// ErrClassificationFailed and persistence errors are terminal: the caller is
// told explicitly, and no partial record is written or broadcast.
func (p *Pipeline) ProcessSegment(ctx context.Context, deviceID string, waveform []float32, sampleRate int) (*Detection, error) {
	ctx, span := observe.StartSpan(ctx, "segment.process",
		trace.WithAttributes(
			attribute.String("device.id", deviceID),
			attribute.Int("audio.samples", len(waveform)),
			attribute.Int("audio.sample_rate", sampleRate),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		p.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds())
	}()

	samples := waveform
	if sampleRate != classify.SampleRate {
		var err error
		samples, err = audio.Resample(waveform, sampleRate, classify.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("pipeline: normalize sample rate: %w", err)
		}
	}

	var (
		result *classify.Result
		sets   store.PolicySets
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cctx, cspan := observe.StartSpan(gctx, "segment.classify",
			trace.WithAttributes(attribute.String("classifier.model", p.classifier.ModelID())),
		)
		defer cspan.End()

		classifyStart := time.Now()
		r, err := p.classifier.Classify(cctx, samples, classify.SampleRate)
		p.metrics.ClassifyDuration.Record(gctx, time.Since(classifyStart).Seconds())
		if err != nil {
			p.metrics.RecordClassifierError(gctx, p.classifier.ModelID())
			return fmt.Errorf("pipeline: classify: %w", err)
		}
		result = r
		return nil
	})
	g.Go(func() error {
		s, err := p.resolver.Snapshot(gctx, deviceID)
		if err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		sets = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	top, ok := result.Top()
	if !ok {
		p.metrics.RecordClassifierError(ctx, p.classifier.ModelID())
		return nil, fmt.Errorf("%w (device %s)", ErrClassificationFailed, deviceID)
	}

	matchStart := time.Now()
	match, err := p.matcher.FindBestMatch(ctx, deviceID, result.Embedding)
	p.metrics.MatchDuration.Record(ctx, time.Since(matchStart).Seconds())
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	rec := store.DetectionRecord{
		DeviceID:   deviceID,
		Label:      top.Label,
		Confidence: top.Confidence,
		Embedding:  result.Embedding,
		Timestamp:  time.Now().UTC(),
	}
	// The matcher only ranks; the best match is accepted here, against its
	// own threshold. A strong match that misses its threshold falls through
	// to the generic label rather than yielding to a weaker profile.
	var similarity float64
	if match != nil && match.Similarity > match.Profile.Threshold {
		rec.Label = match.Profile.Name
		rec.Confidence = match.Similarity
		rec.IsCustom = true
		rec.CustomPolarity = match.Profile.Polarity
		similarity = match.Similarity
	}
	rec.ShouldNotify = policy.Decide(sets, rec.Label, rec.IsCustom, rec.CustomPolarity)

	persistStart := time.Now()
	err = p.detections.AppendDetection(ctx, &rec)
	p.metrics.PersistDuration.Record(ctx, time.Since(persistStart).Seconds())
	if err != nil {
		return nil, fmt.Errorf("pipeline: persist detection: %w", err)
	}

	span.SetAttributes(
		attribute.String("detection.label", rec.Label),
		attribute.Bool("detection.custom", rec.IsCustom),
		attribute.Bool("detection.notify", rec.ShouldNotify),
	)

	p.metrics.RecordDetection(ctx, rec.IsCustom, rec.ShouldNotify)
	log := p.log
	if cid := observe.CorrelationID(ctx); cid != "" {
		log = log.With("trace_id", cid)
	}
	log.Info("detection",
		"device", deviceID,
		"label", rec.Label,
		"confidence", rec.Confidence,
		"custom", rec.IsCustom,
		"notify", rec.ShouldNotify,
	)

	det := &Detection{
		Record:     rec,
		Similarity: similarity,
		PeakDBFS:   audio.PeakDBFS(waveform),
		RMSDBFS:    audio.RMSDBFS(waveform),
		Preview:    audio.Preview(waveform),
	}
	det.Record.Embedding = nil // keep broadcast and API payloads small
	p.hub.Publish(hub.Event{Type: hub.TypeDetection, Data: det})
	return det, nil
}
