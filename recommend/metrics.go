package recommend

import (
	"slices"
	"sync"
	"time"

	"github.com/agentuity/go-recommend/resilience"
)

// LatencyTracker tracks latency statistics with percentile calculations
type LatencyTracker struct {
	mu         sync.RWMutex
	samples    []time.Duration
	next       int
	maxSamples int
	total      time.Duration
	count      int64
	max        time.Duration
}

// NewLatencyTracker keeps the most recent maxSamples samples for percentiles.
func NewLatencyTracker(maxSamples int) *LatencyTracker {
	if maxSamples <= 0 {
		maxSamples = 1000
	}
	return &LatencyTracker{
		samples:    make([]time.Duration, 0, maxSamples),
		maxSamples: maxSamples,
	}
}

// AddSample adds a latency sample
func (lt *LatencyTracker) AddSample(latency time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	lt.total += latency
	lt.count++
	if latency > lt.max {
		lt.max = latency
	}
	if len(lt.samples) < lt.maxSamples {
		lt.samples = append(lt.samples, latency)
		return
	}
	lt.samples[lt.next] = latency
	lt.next = (lt.next + 1) % lt.maxSamples
}

// LatencyStats summarizes a tracker.
type LatencyStats struct {
	Count int64         `json:"count" yaml:"count"`
	Avg   time.Duration `json:"avg" yaml:"avg"`
	P95   time.Duration `json:"p95" yaml:"p95"`
	P99   time.Duration `json:"p99" yaml:"p99"`
	Max   time.Duration `json:"max" yaml:"max"`
}

// Stats returns latency statistics
func (lt *LatencyTracker) Stats() LatencyStats {
	lt.mu.RLock()
	defer lt.mu.RUnlock()

	if lt.count == 0 {
		return LatencyStats{}
	}
	out := LatencyStats{
		Count: lt.count,
		Avg:   lt.total / time.Duration(lt.count),
		Max:   lt.max,
	}
	sorted := slices.Clone(lt.samples)
	slices.Sort(sorted)
	out.P95 = sorted[percentileIndex(len(sorted), 0.95)]
	out.P99 = sorted[percentileIndex(len(sorted), 0.99)]
	return out
}

func percentileIndex(n int, p float64) int {
	i := int(float64(n) * p)
	if i >= n {
		i = n - 1
	}
	return i
}

// Metrics counts request outcomes.
type Metrics struct {
	mu             sync.Mutex
	requests       uint64
	outcomes       map[Outcome]uint64
	upstreamErrors map[string]uint64
	extraction     sourceCounts
	recommendation sourceCounts
	latency        *LatencyTracker
}

type sourceCounts struct {
	hits, misses, fallbacks uint64
}

func NewMetrics() *Metrics {
	return &Metrics{
		outcomes:       make(map[Outcome]uint64),
		upstreamErrors: make(map[string]uint64),
		latency:        NewLatencyTracker(1000),
	}
}

func (m *Metrics) recordRequest() {
	m.mu.Lock()
	m.requests++
	m.mu.Unlock()
}

func (m *Metrics) recordOutcome(o Outcome, latency time.Duration) {
	m.countOutcome(o)
	m.latency.AddSample(latency)
}

// countOutcome counts o without a latency sample.
func (m *Metrics) countOutcome(o Outcome) {
	m.mu.Lock()
	m.outcomes[o]++
	m.mu.Unlock()
}

func (m *Metrics) recordUpstreamError(service string, kind resilience.Kind) {
	m.mu.Lock()
	m.upstreamErrors[service+"."+kind.String()]++
	m.mu.Unlock()
}

func (m *Metrics) recordSource(step string, src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &m.extraction
	if step == stepCatalog {
		c = &m.recommendation
	}
	switch src {
	case SourceCache:
		c.hits++
	case SourceUpstream:
		c.misses++
	case SourceFallback:
		c.misses++
		c.fallbacks++
	}
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Requests        uint64            `json:"requests" yaml:"requests"`
	Outcomes        map[string]uint64 `json:"outcomes" yaml:"outcomes"`
	UpstreamErrors  map[string]uint64 `json:"upstream_errors" yaml:"upstream_errors"`
	ExtractionHits  uint64            `json:"extraction_hits" yaml:"extraction_hits"`
	ExtractionMiss  uint64            `json:"extraction_misses" yaml:"extraction_misses"`
	Fallbacks       uint64            `json:"fallbacks" yaml:"fallbacks"`
	RecommendHits   uint64            `json:"recommendation_hits" yaml:"recommendation_hits"`
	RecommendMisses uint64            `json:"recommendation_misses" yaml:"recommendation_misses"`
	Latency         LatencyStats      `json:"latency" yaml:"latency"`
}

// Outcome returns the count for o.
func (s MetricsSnapshot) Outcome(o Outcome) uint64 {
	return s.Outcomes[o.String()]
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	out := MetricsSnapshot{
		Requests:        m.requests,
		Outcomes:        make(map[string]uint64, len(m.outcomes)),
		UpstreamErrors:  make(map[string]uint64, len(m.upstreamErrors)),
		ExtractionHits:  m.extraction.hits,
		ExtractionMiss:  m.extraction.misses,
		Fallbacks:       m.extraction.fallbacks,
		RecommendHits:   m.recommendation.hits,
		RecommendMisses: m.recommendation.misses,
	}
	for k, v := range m.outcomes {
		out.Outcomes[k.String()] = v
	}
	for k, v := range m.upstreamErrors {
		out.UpstreamErrors[k] = v
	}
	m.mu.Unlock()
	out.Latency = m.latency.Stats()
	return out
}
