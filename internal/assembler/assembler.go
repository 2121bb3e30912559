// Package assembler reassembles numbered audio packets into complete
// segments. Packets for one (device, segment) pair may arrive in any order,
// with duplicates; the assembler emits each completed waveform exactly once,
// with samples in recording order.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrProtocolMismatch is returned when a packet disagrees with the segment
	// it belongs to about total packet count or sample rate. The segment's
	// buffered packets are kept; only the conflicting packet is rejected.
	ErrProtocolMismatch = errors.New("assembler: packet conflicts with segment parameters")

	// ErrInvalidPacket is returned for packets that fail basic validation
	// before any segment state is touched.
	ErrInvalidPacket = errors.New("assembler: invalid packet")
)

// Packet is one numbered fragment of a segment's audio.
type Packet struct {
	DeviceID   string
	SegmentID  string
	Index      int // in [0, Total)
	Total      int // fixed for the segment by its first packet
	SampleRate int
	Samples    []float32
}

// State is the lifecycle position reported by an Ingest call.
type State int

const (
	// StateBuffering means the segment is still missing packets.
	StateBuffering State = iota

	// StateComplete means this packet was the last one; the Outcome carries
	// the full waveform. At most one Ingest call per segment observes it.
	StateComplete
)

// Outcome reports the effect of ingesting one packet.
type Outcome struct {
	State    State
	Received int // distinct packet indices seen so far

	// Waveform and SampleRate are set only when State is StateComplete.
	Waveform   []float32
	SampleRate int
}

type segmentKey struct {
	deviceID  string
	segmentID string
}

type segment struct {
	mu         sync.Mutex
	slots      [][]float32
	received   int
	total      int
	sampleRate int
	lastSeen   time.Time
	done       bool
}

// newSegment starts a segment with lastSeen already set, so a reaper tick
// between map insertion and the first packet's ingest cannot mistake the
// zero time for a segment idle since the epoch.
func newSegment(total, sampleRate int) *segment {
	return &segment{
		slots:      make([][]float32, total),
		total:      total,
		sampleRate: sampleRate,
		lastSeen:   time.Now(),
	}
}

// ReapFunc is invoked for every stale segment the reaper discards.
type ReapFunc func(deviceID, segmentID string, received, total int)

// Assembler accumulates in-flight segments. Safe for concurrent use;
// packets for different segments do not contend with each other.
type Assembler struct {
	mu       sync.Mutex
	segments map[segmentKey]*segment

	maxAge       time.Duration
	reapInterval time.Duration
	onReap       ReapFunc
	log          *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithMaxSegmentAge sets how long a segment may sit without receiving a
// packet before the reaper discards it.
func WithMaxSegmentAge(d time.Duration) Option {
	return func(a *Assembler) { a.maxAge = d }
}

// WithReapInterval sets how often the reaper scans for stale segments.
func WithReapInterval(d time.Duration) Option {
	return func(a *Assembler) { a.reapInterval = d }
}

// WithReapCallback registers fn to be called for each reaped segment.
func WithReapCallback(fn ReapFunc) Option {
	return func(a *Assembler) { a.onReap = fn }
}

// WithLogger sets the logger used for reap events.
func WithLogger(log *slog.Logger) Option {
	return func(a *Assembler) { a.log = log }
}

// New creates an Assembler with a 30s stale window and 10s reap interval
// unless overridden.
func New(opts ...Option) *Assembler {
	a := &Assembler{
		segments:     make(map[segmentKey]*segment),
		maxAge:       30 * time.Second,
		reapInterval: 10 * time.Second,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Ingest adds one packet. When the packet fills the segment's last remaining
// slot, the returned Outcome carries the complete waveform, concatenated in
// packet-index order, and the segment's buffer is released. Any packet for
// the same (device, segment) pair arriving after completion starts a fresh
// segment.
func (a *Assembler) Ingest(p Packet) (Outcome, error) {
	switch {
	case p.DeviceID == "" || p.SegmentID == "":
		return Outcome{}, fmt.Errorf("%w: missing device or segment id", ErrInvalidPacket)
	case p.Total <= 0:
		return Outcome{}, fmt.Errorf("%w: total packets %d", ErrInvalidPacket, p.Total)
	case p.Index < 0 || p.Index >= p.Total:
		return Outcome{}, fmt.Errorf("%w: packet index %d outside [0, %d)", ErrInvalidPacket, p.Index, p.Total)
	case p.SampleRate <= 0:
		return Outcome{}, fmt.Errorf("%w: sample rate %d", ErrInvalidPacket, p.SampleRate)
	case len(p.Samples) == 0:
		return Outcome{}, fmt.Errorf("%w: empty sample chunk", ErrInvalidPacket)
	}

	key := segmentKey{deviceID: p.DeviceID, segmentID: p.SegmentID}

	for {
		a.mu.Lock()
		seg, ok := a.segments[key]
		if !ok {
			seg = newSegment(p.Total, p.SampleRate)
			a.segments[key] = seg
		}
		a.mu.Unlock()

		seg.mu.Lock()
		if seg.done {
			// Lost a race with the packet that completed this segment; the
			// map entry is already gone, so retry against a fresh segment.
			seg.mu.Unlock()
			continue
		}

		if p.Total != seg.total || p.SampleRate != seg.sampleRate {
			seg.mu.Unlock()
			return Outcome{}, fmt.Errorf("%w: got total=%d rate=%d, segment has total=%d rate=%d",
				ErrProtocolMismatch, p.Total, p.SampleRate, seg.total, seg.sampleRate)
		}

		if seg.slots[p.Index] == nil {
			seg.received++
		}
		seg.slots[p.Index] = p.Samples
		seg.lastSeen = time.Now()

		if seg.received < seg.total {
			received := seg.received
			seg.mu.Unlock()
			return Outcome{State: StateBuffering, Received: received}, nil
		}

		seg.done = true
		waveform := concatenate(seg.slots)
		rate := seg.sampleRate
		received := seg.received
		seg.mu.Unlock()

		a.mu.Lock()
		if a.segments[key] == seg {
			delete(a.segments, key)
		}
		a.mu.Unlock()

		return Outcome{
			State:      StateComplete,
			Received:   received,
			Waveform:   waveform,
			SampleRate: rate,
		}, nil
	}
}

// SetTimings updates the stale window and reap cadence at runtime.
// Non-positive values leave the current setting untouched. The reaper picks
// up a new cadence on its next tick.
func (a *Assembler) SetTimings(maxAge, reapInterval time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if maxAge > 0 {
		a.maxAge = maxAge
	}
	if reapInterval > 0 {
		a.reapInterval = reapInterval
	}
}

// InFlight returns the number of segments currently buffering.
func (a *Assembler) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.segments)
}

// Run drives the stale-segment reaper until ctx is cancelled. Segments that
// have not received a packet within the max age window are discarded and
// reported through the reap callback.
func (a *Assembler) Run(ctx context.Context) error {
	a.mu.Lock()
	interval := a.reapInterval
	a.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.reap(time.Now())

			a.mu.Lock()
			next := a.reapInterval
			a.mu.Unlock()
			if next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (a *Assembler) reap(now time.Time) {
	type reaped struct {
		key      segmentKey
		received int
		total    int
	}
	var stale []reaped

	a.mu.Lock()
	for key, seg := range a.segments {
		seg.mu.Lock()
		if !seg.done && now.Sub(seg.lastSeen) > a.maxAge {
			stale = append(stale, reaped{key: key, received: seg.received, total: seg.total})
			delete(a.segments, key)
		}
		seg.mu.Unlock()
	}
	a.mu.Unlock()

	for _, s := range stale {
		a.log.Warn("reaped stale segment",
			"device", s.key.deviceID,
			"segment", s.key.segmentID,
			"received", s.received,
			"total", s.total,
		)
		if a.onReap != nil {
			a.onReap(s.key.deviceID, s.key.segmentID, s.received, s.total)
		}
	}
}

func concatenate(slots [][]float32) []float32 {
	var n int
	for _, chunk := range slots {
		n += len(chunk)
	}
	waveform := make([]float32, 0, n)
	for _, chunk := range slots {
		waveform = append(waveform, chunk...)
	}
	return waveform
}
