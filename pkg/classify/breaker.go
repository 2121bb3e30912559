package classify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by a Breaker when the wrapped provider has
// failed repeatedly and the cooldown has not yet elapsed.
var ErrBreakerOpen = errors.New("classify: breaker open")

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithMaxFailures sets how many consecutive failures trip the breaker.
// Default 5.
func WithMaxFailures(n int) BreakerOption {
	return func(b *Breaker) { b.maxFailures = n }
}

// WithCooldown sets how long the breaker rejects calls after tripping before
// letting a probe through. Default 30s.
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *Breaker) { b.cooldown = d }
}

// WithBreakerLogger sets the logger for state transitions.
func WithBreakerLogger(log *slog.Logger) BreakerOption {
	return func(b *Breaker) { b.log = log }
}

// Breaker wraps a Provider with a circuit breaker so that a dead inference
// sidecar fails fast instead of stalling every segment until its HTTP
// timeout. After maxFailures consecutive errors the breaker opens and calls
// return ErrBreakerOpen immediately; once the cooldown elapses a single
// probe call is let through, and its outcome decides whether the breaker
// closes again.
//
// Breaker itself implements Provider and is safe for concurrent use.
type Breaker struct {
	inner Provider

	maxFailures int
	cooldown    time.Duration
	log         *slog.Logger

	mu       sync.Mutex
	failures int
	openedAt time.Time
	open     bool
	probing  bool
}

var _ Provider = (*Breaker)(nil)

// NewBreaker wraps inner with default thresholds (5 consecutive failures,
// 30s cooldown).
func NewBreaker(inner Provider, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		inner:       inner,
		maxFailures: 5,
		cooldown:    30 * time.Second,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Classify forwards to the wrapped provider when the breaker allows it.
func (b *Breaker) Classify(ctx context.Context, samples []float32, sampleRate int) (*Result, error) {
	if err := b.before(); err != nil {
		return nil, err
	}
	res, err := b.inner.Classify(ctx, samples, sampleRate)
	b.after(err)
	return res, err
}

// Labels forwards to the wrapped provider when the breaker allows it. The
// readiness probe goes through here, so an open breaker surfaces as
// not-ready without waiting on the sidecar.
func (b *Breaker) Labels(ctx context.Context) ([]string, error) {
	if err := b.before(); err != nil {
		return nil, err
	}
	labels, err := b.inner.Labels(ctx)
	b.after(err)
	return labels, err
}

// Dimensions reports the wrapped provider's embedding dimension.
func (b *Breaker) Dimensions() int { return b.inner.Dimensions() }

// ModelID reports the wrapped provider's model identifier.
func (b *Breaker) ModelID() string { return b.inner.ModelID() }

// State reports "closed" or "open" for logging and diagnostics.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return "open"
	}
	return "closed"
}

// before gates a call. Returns ErrBreakerOpen when the call must not
// proceed; otherwise marks an in-flight probe if the cooldown has elapsed.
func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return nil
	}
	if time.Since(b.openedAt) < b.cooldown || b.probing {
		return ErrBreakerOpen
	}
	// Cooldown elapsed: admit exactly one probe.
	b.probing = true
	b.log.Info("classifier breaker probing", "model", b.inner.ModelID())
	return nil
}

// after records the call outcome and moves the breaker between states.
func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.open {
			b.log.Info("classifier breaker closed", "model", b.inner.ModelID())
		}
		b.open = false
		b.probing = false
		b.failures = 0
		return
	}

	b.failures++
	if b.probing {
		// Failed probe: stay open for another cooldown window.
		b.openedAt = time.Now()
		b.probing = false
		b.log.Warn("classifier breaker probe failed", "model", b.inner.ModelID(), "error", err)
		return
	}
	if !b.open && b.failures >= b.maxFailures {
		b.open = true
		b.openedAt = time.Now()
		b.log.Warn("classifier breaker opened",
			"model", b.inner.ModelID(),
			"consecutive_failures", b.failures,
		)
	}
}
