package pipeline

import (
	"testing"
	"time"

	"github.com/pranavkale07/ObserveX/internal/telemetry"
)

func TestWindowForAlignment(t *testing.T) {
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		at        time.Time
		wantStart time.Time
	}{
		{name: "epoch", at: base, wantStart: base},
		{name: "mid window", at: base.Add(3 * time.Second), wantStart: base},
		{name: "boundary", at: base.Add(10 * time.Second), wantStart: base.Add(10 * time.Second)},
		{
			name:      "far future stays aligned",
			at:        time.Date(2026, 8, 26, 12, 0, 7, 0, time.UTC),
			wantStart: time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window := WindowFor(tt.at)
			if !window.Start.Equal(tt.wantStart) {
				t.Errorf("WindowFor(%v).Start = %v, want %v", tt.at, window.Start, tt.wantStart)
			}
			if got := window.End.Sub(window.Start); got != WindowLength {
				t.Errorf("Window length = %v, want %v", got, WindowLength)
			}
			if tt.at.Before(window.Start) || !tt.at.Before(window.End) {
				t.Errorf("%v not inside [%v, %v)", tt.at, window.Start, window.End)
			}
		})
	}
}

func TestFoldSpan(t *testing.T) {
	var agg telemetry.TraceAggregate

	agg = FoldSpan(agg, telemetry.Span{
		TraceID:     "t1",
		ServiceName: "quote",
		Route:       "/quote",
		DurationMs:  100,
		StartTime:   "2026-08-26T12:00:01Z",
	})
	agg = FoldSpan(agg, telemetry.Span{
		TraceID:     "t1",
		ServiceName: "quote",
		Route:       "/quote",
		DurationMs:  1500,
		StartTime:   "2026-08-26T12:00:00Z",
		IsAnomaly:   true,
	})

	if len(agg.Spans) != 2 {
		t.Fatalf("Expected 2 spans, got %d", len(agg.Spans))
	}
	if agg.DurationMs != 1500 {
		t.Errorf("Expected max duration 1500, got %f", agg.DurationMs)
	}
	if !agg.HasAnomaly {
		t.Error("Expected anomaly flag to be ORed in")
	}
	if agg.StartTime != "2026-08-26T12:00:00Z" {
		t.Errorf("Expected earliest start time, got %s", agg.StartTime)
	}
}

func TestFoldSpanDefaults(t *testing.T) {
	agg := FoldSpan(telemetry.TraceAggregate{}, telemetry.Span{TraceID: "t1"})

	if agg.Spans[0].Name != "unknown" {
		t.Errorf("Expected name fallback 'unknown', got %s", agg.Spans[0].Name)
	}
	if agg.Spans[0].Service != "unknown" {
		t.Errorf("Expected service fallback 'unknown', got %s", agg.Spans[0].Service)
	}
	if agg.StartTime == "" {
		t.Error("Expected a start time default")
	}
}

func TestMergeAggregates(t *testing.T) {
	a := telemetry.TraceAggregate{
		DurationMs: 100,
		Spans:      []telemetry.SpanInfo{{Name: "a"}},
		StartTime:  "2026-08-26T12:00:05Z",
	}
	b := telemetry.TraceAggregate{
		DurationMs: 900,
		Spans:      []telemetry.SpanInfo{{Name: "b"}, {Name: "c"}},
		HasAnomaly: true,
		StartTime:  "2026-08-26T12:00:01Z",
	}

	merged := MergeAggregates(a, b)

	if merged.DurationMs != 900 {
		t.Errorf("Expected max duration 900, got %f", merged.DurationMs)
	}
	if len(merged.Spans) != 3 {
		t.Errorf("Expected concatenated span lists (3), got %d", len(merged.Spans))
	}
	if !merged.HasAnomaly {
		t.Error("Expected anomaly flag to be ORed")
	}
	if merged.StartTime != "2026-08-26T12:00:01Z" {
		t.Errorf("Expected min start time, got %s", merged.StartTime)
	}

	// Merging must not mutate either input's span slice.
	if len(a.Spans) != 1 || len(b.Spans) != 2 {
		t.Error("Expected inputs untouched by merge")
	}
}

func TestReconstructorCloseDue(t *testing.T) {
	r := NewReconstructor()
	arrival := time.Date(2026, 8, 26, 12, 0, 3, 0, time.UTC)

	r.Add(telemetry.Span{TraceID: "t1", ServiceName: "quote", DurationMs: 100}, arrival)
	r.Add(telemetry.Span{TraceID: "t1", ServiceName: "quote", DurationMs: 1500, IsAnomaly: true}, arrival)
	r.Add(telemetry.Span{TraceID: "t2", ServiceName: "checkout", DurationMs: 50}, arrival)

	if closed := r.CloseDue(arrival.Add(time.Second)); len(closed) != 0 {
		t.Fatalf("Expected no closes before window end, got %d", len(closed))
	}

	closed := r.CloseDue(arrival.Add(WindowLength))
	if len(closed) != 2 {
		t.Fatalf("Expected 2 closed traces, got %d", len(closed))
	}

	byTrace := make(map[string]ClosedTrace)
	for _, ct := range closed {
		byTrace[ct.TraceID] = ct
	}

	t1 := byTrace["t1"]
	if len(t1.Aggregate.Spans) != 2 {
		t.Errorf("Expected 2 spans in t1, got %d", len(t1.Aggregate.Spans))
	}
	if t1.Aggregate.DurationMs != 1500 {
		t.Errorf("Expected t1 duration 1500, got %f", t1.Aggregate.DurationMs)
	}
	if !t1.Aggregate.HasAnomaly {
		t.Error("Expected t1 flagged anomalous")
	}
	if byTrace["t2"].Aggregate.HasAnomaly {
		t.Error("Expected t2 clean")
	}

	if r.Pending() != 0 {
		t.Errorf("Expected no pending keys after close, got %d", r.Pending())
	}
}

func TestReconstructorLateSpanGoesToNextWindow(t *testing.T) {
	r := NewReconstructor()
	arrival := time.Date(2026, 8, 26, 12, 0, 9, 0, time.UTC)

	r.Add(telemetry.Span{TraceID: "t1", DurationMs: 10}, arrival)

	closeTime := arrival.Add(WindowLength)
	if closed := r.CloseDue(closeTime); len(closed) != 1 {
		t.Fatalf("Expected first window to close, got %d", len(closed))
	}

	// A span of the same trace arriving after its window closed lands in a
	// later window, producing a split trace.
	r.Add(telemetry.Span{TraceID: "t1", DurationMs: 20}, closeTime.Add(time.Second))

	closed := r.CloseDue(closeTime.Add(2 * WindowLength))
	if len(closed) != 1 {
		t.Fatalf("Expected split trace in next window, got %d closes", len(closed))
	}
	if closed[0].Aggregate.Spans[0].DurationMs != 20 {
		t.Errorf("Expected only the late span in the second window")
	}
}
