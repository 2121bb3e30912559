package classify_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/soundsentinel/sentinel/pkg/classify"
	"github.com/soundsentinel/sentinel/pkg/classify/mock"
)

var errSidecar = errors.New("sidecar unreachable")

func newBreaker(inner classify.Provider, opts ...classify.BreakerOption) *classify.Breaker {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return classify.NewBreaker(inner, append(opts, classify.WithBreakerLogger(log))...)
}

func TestBreakerPassesThroughWhileClosed(t *testing.T) {
	t.Parallel()

	inner := &mock.Provider{
		Result: &classify.Result{
			Labels: []classify.RankedLabel{{Label: "Dog", Confidence: 0.9}},
		},
	}
	b := newBreaker(inner)

	res, err := b.Classify(context.Background(), []float32{0.1}, 16000)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if top, ok := res.Top(); !ok || top.Label != "Dog" {
		t.Errorf("top = %+v, want Dog", top)
	}
	if b.State() != "closed" {
		t.Errorf("state = %q, want closed", b.State())
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	inner := &mock.Provider{ClassifyErr: errSidecar}
	b := newBreaker(inner, classify.WithMaxFailures(3))

	for i := 0; i < 3; i++ {
		if _, err := b.Classify(context.Background(), []float32{0.1}, 16000); !errors.Is(err, errSidecar) {
			t.Fatalf("call %d: err = %v, want sidecar error", i, err)
		}
	}
	if b.State() != "open" {
		t.Fatalf("state = %q, want open after 3 failures", b.State())
	}

	// Open breaker rejects without touching the provider.
	before := inner.CallCount()
	if _, err := b.Classify(context.Background(), []float32{0.1}, 16000); !errors.Is(err, classify.ErrBreakerOpen) {
		t.Errorf("err = %v, want ErrBreakerOpen", err)
	}
	if inner.CallCount() != before {
		t.Error("open breaker forwarded a call to the provider")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	inner := &mock.Provider{ClassifyErr: errSidecar}
	b := newBreaker(inner, classify.WithMaxFailures(2))

	b.Classify(context.Background(), []float32{0.1}, 16000)
	inner.ClassifyErr = nil
	b.Classify(context.Background(), []float32{0.1}, 16000)
	inner.ClassifyErr = errSidecar
	b.Classify(context.Background(), []float32{0.1}, 16000)

	if b.State() != "closed" {
		t.Errorf("state = %q, want closed; interleaved success must reset the count", b.State())
	}
}

func TestBreakerProbeClosesAfterCooldown(t *testing.T) {
	t.Parallel()

	inner := &mock.Provider{ClassifyErr: errSidecar}
	b := newBreaker(inner, classify.WithMaxFailures(1), classify.WithCooldown(10*time.Millisecond))

	b.Classify(context.Background(), []float32{0.1}, 16000)
	if b.State() != "open" {
		t.Fatalf("state = %q, want open", b.State())
	}

	time.Sleep(20 * time.Millisecond)
	inner.ClassifyErr = nil

	if _, err := b.Classify(context.Background(), []float32{0.1}, 16000); err != nil {
		t.Fatalf("probe call: %v", err)
	}
	if b.State() != "closed" {
		t.Errorf("state = %q, want closed after successful probe", b.State())
	}
}

func TestBreakerFailedProbeStaysOpen(t *testing.T) {
	t.Parallel()

	inner := &mock.Provider{ClassifyErr: errSidecar}
	b := newBreaker(inner, classify.WithMaxFailures(1), classify.WithCooldown(10*time.Millisecond))

	b.Classify(context.Background(), []float32{0.1}, 16000)
	time.Sleep(20 * time.Millisecond)

	// The probe fails, so the cooldown restarts.
	if _, err := b.Classify(context.Background(), []float32{0.1}, 16000); !errors.Is(err, errSidecar) {
		t.Fatalf("probe err = %v, want sidecar error", err)
	}
	if _, err := b.Classify(context.Background(), []float32{0.1}, 16000); !errors.Is(err, classify.ErrBreakerOpen) {
		t.Errorf("err = %v, want ErrBreakerOpen immediately after failed probe", err)
	}
}

func TestBreakerGuardsLabels(t *testing.T) {
	t.Parallel()

	inner := &mock.Provider{ClassifyErr: errSidecar, LabelsValue: []string{"Dog"}}
	b := newBreaker(inner, classify.WithMaxFailures(1))

	b.Classify(context.Background(), []float32{0.1}, 16000)

	if _, err := b.Labels(context.Background()); !errors.Is(err, classify.ErrBreakerOpen) {
		t.Errorf("Labels err = %v, want ErrBreakerOpen", err)
	}
}
