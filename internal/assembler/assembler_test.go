package assembler

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func chunk(vals ...float32) []float32 { return vals }

func TestIngestOrderedCompletion(t *testing.T) {
	t.Parallel()

	a := New()

	out, err := a.Ingest(Packet{DeviceID: "d1", SegmentID: "s1", Index: 0, Total: 3, SampleRate: 16000, Samples: chunk(1, 2)})
	if err != nil {
		t.Fatalf("packet 0: %v", err)
	}
	if out.State != StateBuffering || out.Received != 1 {
		t.Fatalf("packet 0: got %+v, want buffering with 1 received", out)
	}

	if _, err := a.Ingest(Packet{DeviceID: "d1", SegmentID: "s1", Index: 1, Total: 3, SampleRate: 16000, Samples: chunk(3, 4)}); err != nil {
		t.Fatalf("packet 1: %v", err)
	}

	out, err = a.Ingest(Packet{DeviceID: "d1", SegmentID: "s1", Index: 2, Total: 3, SampleRate: 16000, Samples: chunk(5, 6)})
	if err != nil {
		t.Fatalf("packet 2: %v", err)
	}
	if out.State != StateComplete {
		t.Fatalf("packet 2: got state %v, want complete", out.State)
	}
	want := []float32{1, 2, 3, 4, 5, 6}
	if len(out.Waveform) != len(want) {
		t.Fatalf("waveform length %d, want %d", len(out.Waveform), len(want))
	}
	for i := range want {
		if out.Waveform[i] != want[i] {
			t.Errorf("waveform[%d] = %v, want %v", i, out.Waveform[i], want[i])
		}
	}
	if out.SampleRate != 16000 {
		t.Errorf("sample rate %d, want 16000", out.SampleRate)
	}
	if a.InFlight() != 0 {
		t.Errorf("completed segment still in flight")
	}
}

func TestIngestReverseOrderYieldsSameWaveform(t *testing.T) {
	t.Parallel()

	a := New()

	var out Outcome
	var err error
	for i := 2; i >= 0; i-- {
		out, err = a.Ingest(Packet{
			DeviceID: "d1", SegmentID: "s1",
			Index: i, Total: 3, SampleRate: 16000,
			Samples: chunk(float32(i*10), float32(i*10+1)),
		})
		if err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
	}
	if out.State != StateComplete {
		t.Fatalf("got state %v, want complete", out.State)
	}
	want := []float32{0, 1, 10, 11, 20, 21}
	for i := range want {
		if out.Waveform[i] != want[i] {
			t.Errorf("waveform[%d] = %v, want %v", i, out.Waveform[i], want[i])
		}
	}
}

func TestIngestDuplicateOverwritesNotCounts(t *testing.T) {
	t.Parallel()

	a := New()

	p := Packet{DeviceID: "d1", SegmentID: "s1", Index: 0, Total: 2, SampleRate: 16000, Samples: chunk(1)}
	if _, err := a.Ingest(p); err != nil {
		t.Fatal(err)
	}

	// Re-sent packet replaces the chunk but must not complete the segment.
	p.Samples = chunk(9)
	out, err := a.Ingest(p)
	if err != nil {
		t.Fatal(err)
	}
	if out.State != StateBuffering || out.Received != 1 {
		t.Fatalf("duplicate: got %+v, want buffering with 1 received", out)
	}

	out, err = a.Ingest(Packet{DeviceID: "d1", SegmentID: "s1", Index: 1, Total: 2, SampleRate: 16000, Samples: chunk(2)})
	if err != nil {
		t.Fatal(err)
	}
	if out.State != StateComplete {
		t.Fatalf("got state %v, want complete", out.State)
	}
	if out.Waveform[0] != 9 {
		t.Errorf("waveform[0] = %v, want overwritten value 9", out.Waveform[0])
	}
}

func TestIngestProtocolMismatch(t *testing.T) {
	t.Parallel()

	a := New()
	base := Packet{DeviceID: "d1", SegmentID: "s1", Index: 0, Total: 3, SampleRate: 16000, Samples: chunk(1)}
	if _, err := a.Ingest(base); err != nil {
		t.Fatal(err)
	}

	conflicting := base
	conflicting.Index = 1
	conflicting.Total = 4
	if _, err := a.Ingest(conflicting); !errors.Is(err, ErrProtocolMismatch) {
		t.Fatalf("conflicting total: got %v, want ErrProtocolMismatch", err)
	}

	rateConflict := base
	rateConflict.Index = 1
	rateConflict.SampleRate = 48000
	if _, err := a.Ingest(rateConflict); !errors.Is(err, ErrProtocolMismatch) {
		t.Fatalf("conflicting rate: got %v, want ErrProtocolMismatch", err)
	}

	// The segment's earlier packets survive the rejection.
	out, err := a.Ingest(Packet{DeviceID: "d1", SegmentID: "s1", Index: 1, Total: 3, SampleRate: 16000, Samples: chunk(2)})
	if err != nil {
		t.Fatalf("valid packet after mismatch: %v", err)
	}
	if out.Received != 2 {
		t.Errorf("received %d, want 2", out.Received)
	}
}

func TestIngestRejectsInvalidPackets(t *testing.T) {
	t.Parallel()

	a := New()
	valid := Packet{DeviceID: "d1", SegmentID: "s1", Index: 0, Total: 2, SampleRate: 16000, Samples: chunk(1)}

	tests := []struct {
		name   string
		mutate func(*Packet)
	}{
		{"missing device", func(p *Packet) { p.DeviceID = "" }},
		{"missing segment", func(p *Packet) { p.SegmentID = "" }},
		{"zero total", func(p *Packet) { p.Total = 0 }},
		{"negative index", func(p *Packet) { p.Index = -1 }},
		{"index past total", func(p *Packet) { p.Index = 2 }},
		{"zero sample rate", func(p *Packet) { p.SampleRate = 0 }},
		{"empty chunk", func(p *Packet) { p.Samples = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := valid
			tt.mutate(&p)
			if _, err := a.Ingest(p); !errors.Is(err, ErrInvalidPacket) {
				t.Errorf("got %v, want ErrInvalidPacket", err)
			}
		})
	}
}

func TestIngestCompletionIsExactlyOnce(t *testing.T) {
	t.Parallel()

	const total = 64
	a := New()

	var wg sync.WaitGroup
	completions := make(chan Outcome, total)
	for i := range total {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := a.Ingest(Packet{
				DeviceID: "d1", SegmentID: "s1",
				Index: i, Total: total, SampleRate: 16000,
				Samples: chunk(float32(i)),
			})
			if err != nil {
				t.Errorf("packet %d: %v", i, err)
				return
			}
			if out.State == StateComplete {
				completions <- out
			}
		}()
	}
	wg.Wait()
	close(completions)

	var got []Outcome
	for out := range completions {
		got = append(got, out)
	}
	if len(got) != 1 {
		t.Fatalf("observed %d completions, want exactly 1", len(got))
	}
	if len(got[0].Waveform) != total {
		t.Errorf("waveform length %d, want %d", len(got[0].Waveform), total)
	}
	for i, s := range got[0].Waveform {
		if s != float32(i) {
			t.Fatalf("waveform[%d] = %v, want %v", i, s, float32(i))
		}
	}
}

func TestIngestAfterCompletionStartsNewSegment(t *testing.T) {
	t.Parallel()

	a := New()
	for i := range 2 {
		if _, err := a.Ingest(Packet{DeviceID: "d1", SegmentID: "s1", Index: i, Total: 2, SampleRate: 16000, Samples: chunk(1)}); err != nil {
			t.Fatal(err)
		}
	}

	// Same segment id again: a fresh segment, not a re-completion.
	out, err := a.Ingest(Packet{DeviceID: "d1", SegmentID: "s1", Index: 0, Total: 2, SampleRate: 16000, Samples: chunk(2)})
	if err != nil {
		t.Fatalf("post-completion packet: %v", err)
	}
	if out.State != StateBuffering || out.Received != 1 {
		t.Fatalf("got %+v, want fresh buffering segment", out)
	}
}

func TestReapDiscardsStaleSegments(t *testing.T) {
	t.Parallel()

	type reapEvent struct {
		device, segment  string
		received, total  int
	}
	var mu sync.Mutex
	var events []reapEvent

	a := New(
		WithMaxSegmentAge(10*time.Millisecond),
		WithReapCallback(func(deviceID, segmentID string, received, total int) {
			mu.Lock()
			events = append(events, reapEvent{deviceID, segmentID, received, total})
			mu.Unlock()
		}),
	)

	if _, err := a.Ingest(Packet{DeviceID: "d1", SegmentID: "stale", Index: 0, Total: 5, SampleRate: 16000, Samples: chunk(1)}); err != nil {
		t.Fatal(err)
	}

	a.reap(time.Now().Add(time.Minute))

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("got %d reap events, want 1", len(events))
	}
	if events[0].device != "d1" || events[0].segment != "stale" || events[0].received != 1 || events[0].total != 5 {
		t.Errorf("unexpected reap event %+v", events[0])
	}
	if a.InFlight() != 0 {
		t.Errorf("stale segment still in flight after reap")
	}
}

func TestReapKeepsFreshSegments(t *testing.T) {
	t.Parallel()

	a := New(WithMaxSegmentAge(time.Hour))
	if _, err := a.Ingest(Packet{DeviceID: "d1", SegmentID: "s1", Index: 0, Total: 2, SampleRate: 16000, Samples: chunk(1)}); err != nil {
		t.Fatal(err)
	}

	a.reap(time.Now())
	if a.InFlight() != 1 {
		t.Errorf("fresh segment was reaped")
	}
}

func TestReapKeepsJustCreatedSegment(t *testing.T) {
	t.Parallel()

	// A reaper tick can land between a segment's map insertion and the
	// ingesting goroutine taking the segment lock. The freshly created
	// segment must already look recent, or its first packet would be
	// orphaned.
	a := New(WithMaxSegmentAge(30 * time.Second))
	a.mu.Lock()
	a.segments[segmentKey{deviceID: "d1", segmentID: "s1"}] = newSegment(2, 16000)
	a.mu.Unlock()

	a.reap(time.Now())
	if a.InFlight() != 1 {
		t.Fatal("segment reaped before its first packet was buffered")
	}
}

func TestSetTimingsChangesStaleWindow(t *testing.T) {
	t.Parallel()

	a := New(WithMaxSegmentAge(time.Hour))
	if _, err := a.Ingest(Packet{DeviceID: "d1", SegmentID: "s1", Index: 0, Total: 2, SampleRate: 16000, Samples: chunk(1)}); err != nil {
		t.Fatal(err)
	}

	a.SetTimings(10*time.Millisecond, 0)

	a.reap(time.Now().Add(time.Minute))
	if a.InFlight() != 0 {
		t.Error("segment outlived the shortened stale window")
	}
}
