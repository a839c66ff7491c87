// Package anomaly scores span latencies per service.
package anomaly

import (
	"sync"

	"github.com/pranavkale07/ObserveX/internal/telemetry"
)

// AnomalyThreshold is the score above which a span is flagged anomalous.
const AnomalyThreshold = 0.5

// Scorer maps a span duration to a score in [0, 1]. Implementations may be
// stateful; the registry keeps one instance per service so a statistical
// model can learn each service's latency profile independently.
type Scorer interface {
	Score(durationMs float64) float64
}

// ThresholdScorer is the reference scorer: a fixed 500ms latency cut.
type ThresholdScorer struct {
	ThresholdMs float64
}

func NewThresholdScorer() *ThresholdScorer {
	return &ThresholdScorer{ThresholdMs: 500}
}

func (s *ThresholdScorer) Score(durationMs float64) float64 {
	if durationMs > s.ThresholdMs {
		return 0.95
	}
	return 0.05
}

// Registry holds one scorer per service, creating them on first
// observation.
type Registry struct {
	mu      sync.Mutex
	scorers map[string]Scorer
	factory func() Scorer
}

// NewRegistry builds a registry that creates scorers with factory. A nil
// factory falls back to the threshold scorer.
func NewRegistry(factory func() Scorer) *Registry {
	if factory == nil {
		factory = func() Scorer { return NewThresholdScorer() }
	}
	return &Registry{
		scorers: make(map[string]Scorer),
		factory: factory,
	}
}

// ScoreSpan stamps the span with its service's score and anomaly flag.
func (r *Registry) ScoreSpan(span telemetry.Span) telemetry.Span {
	r.mu.Lock()
	scorer, ok := r.scorers[span.ServiceName]
	if !ok {
		scorer = r.factory()
		r.scorers[span.ServiceName] = scorer
	}
	r.mu.Unlock()

	score := scorer.Score(span.DurationMs)
	span.AnomalyScore = score
	span.IsAnomaly = score > AnomalyThreshold
	return span
}

// Services returns the services observed so far.
func (r *Registry) Services() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	services := make([]string, 0, len(r.scorers))
	for svc := range r.scorers {
		services = append(services, svc)
	}
	return services
}
