package pipeline

import (
	"time"

	"github.com/pranavkale07/ObserveX/internal/telemetry"
)

// WindowLength is the tumbling window size for trace reconstruction.
const WindowLength = 10 * time.Second

// windowEpoch aligns every window boundary across restarts and workers.
var windowEpoch = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

// Window is one tumbling time partition, [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowFor returns the window containing t.
func WindowFor(t time.Time) Window {
	elapsed := t.Sub(windowEpoch)
	start := windowEpoch.Add(elapsed.Truncate(WindowLength))
	if elapsed < 0 && !start.Equal(t) {
		start = start.Add(-WindowLength)
	}
	return Window{Start: start, End: start.Add(WindowLength)}
}

// ClosedTrace is the unit emitted downstream when a (trace, window) key's
// window closes.
type ClosedTrace struct {
	TraceID   string
	Window    Window
	Aggregate telemetry.TraceAggregate
}

// FoldSpan combines one scored span into a trace aggregate: append the span
// projection, keep the max duration, OR the anomaly flag, keep the earliest
// start time.
func FoldSpan(agg telemetry.TraceAggregate, span telemetry.Span) telemetry.TraceAggregate {
	name := span.Route
	if name == "" {
		name = "unknown"
	}
	service := span.ServiceName
	if service == "" {
		service = "unknown"
	}
	startTime := span.StartTime
	if startTime == "" {
		startTime = telemetry.NowUTC()
	}

	agg.Spans = append(agg.Spans, telemetry.SpanInfo{
		Name:       name,
		Service:    service,
		DurationMs: span.DurationMs,
		StartTime:  startTime,
		TraceID:    span.TraceID,
		IsAnomaly:  span.IsAnomaly,
	})

	if span.DurationMs > agg.DurationMs {
		agg.DurationMs = span.DurationMs
	}
	if span.IsAnomaly {
		agg.HasAnomaly = true
	}
	// RFC3339 UTC strings order lexicographically, same as the wire format.
	if agg.StartTime == "" || (startTime != "" && startTime < agg.StartTime) {
		agg.StartTime = startTime
	}
	return agg
}

// MergeAggregates combines two partial aggregates for the same key. Span
// order across the two halves is unstable by design.
func MergeAggregates(a, b telemetry.TraceAggregate) telemetry.TraceAggregate {
	merged := telemetry.TraceAggregate{
		DurationMs: a.DurationMs,
		Spans:      append(append([]telemetry.SpanInfo{}, a.Spans...), b.Spans...),
		HasAnomaly: a.HasAnomaly || b.HasAnomaly,
		StartTime:  a.StartTime,
	}
	if b.DurationMs > merged.DurationMs {
		merged.DurationMs = b.DurationMs
	}
	if merged.StartTime == "" || (b.StartTime != "" && b.StartTime < merged.StartTime) {
		merged.StartTime = b.StartTime
	}
	return merged
}

// Reconstructor folds spans into per-trace aggregates inside wall-clock
// tumbling windows. Spans are assigned to the window containing their
// arrival time, so a span arriving after its trace's window closed lands in
// the next window and produces a split trace.
//
// Reconstructor is not safe for concurrent use; the window stage owns it.
type Reconstructor struct {
	windows map[time.Time]map[string]telemetry.TraceAggregate
}

func NewReconstructor() *Reconstructor {
	return &Reconstructor{
		windows: make(map[time.Time]map[string]telemetry.TraceAggregate),
	}
}

// Add folds span into the window containing now.
func (r *Reconstructor) Add(span telemetry.Span, now time.Time) {
	window := WindowFor(now)
	traces, ok := r.windows[window.Start]
	if !ok {
		traces = make(map[string]telemetry.TraceAggregate)
		r.windows[window.Start] = traces
	}
	traces[span.TraceID] = FoldSpan(traces[span.TraceID], span)
}

// CloseDue closes every window whose end has passed and returns the
// aggregates it held.
func (r *Reconstructor) CloseDue(now time.Time) []ClosedTrace {
	var closed []ClosedTrace
	for start, traces := range r.windows {
		window := Window{Start: start, End: start.Add(WindowLength)}
		if window.End.After(now) {
			continue
		}
		for traceID, agg := range traces {
			closed = append(closed, ClosedTrace{
				TraceID:   traceID,
				Window:    window,
				Aggregate: agg,
			})
		}
		delete(r.windows, start)
	}
	return closed
}

// Pending returns the number of open (trace, window) keys.
func (r *Reconstructor) Pending() int {
	n := 0
	for _, traces := range r.windows {
		n += len(traces)
	}
	return n
}
