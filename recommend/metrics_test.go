package recommend

import (
	"testing"
	"time"

	"github.com/agentuity/go-recommend/resilience"
	"github.com/stretchr/testify/assert"
)

func TestLatencyTracker(t *testing.T) {
	lt := NewLatencyTracker(100)
	assert.Equal(t, LatencyStats{}, lt.Stats())

	for i := 1; i <= 100; i++ {
		lt.AddSample(time.Duration(i) * time.Millisecond)
	}
	s := lt.Stats()
	assert.Equal(t, int64(100), s.Count)
	assert.Equal(t, 50500*time.Microsecond, s.Avg)
	assert.Equal(t, 96*time.Millisecond, s.P95)
	assert.Equal(t, 100*time.Millisecond, s.P99)
	assert.Equal(t, 100*time.Millisecond, s.Max)
}

func TestLatencyTrackerKeepsRecentSamples(t *testing.T) {
	lt := NewLatencyTracker(10)
	for i := 0; i < 10; i++ {
		lt.AddSample(time.Second)
	}
	for i := 0; i < 10; i++ {
		lt.AddSample(time.Millisecond)
	}
	s := lt.Stats()
	assert.Equal(t, int64(20), s.Count)
	assert.Equal(t, time.Millisecond, s.P99)
	assert.Equal(t, time.Second, s.Max)
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.recordRequest()
	m.recordRequest()
	m.recordOutcome(OutcomeCacheHit, time.Millisecond)
	m.recordOutcome(OutcomeDegraded, 3*time.Millisecond)
	m.recordUpstreamError(stepExtraction, resilience.KindTimeout)
	m.recordSource(stepExtraction, SourceFallback)
	m.recordSource(stepCatalog, SourceCache)

	s := m.Snapshot()
	assert.Equal(t, uint64(2), s.Requests)
	assert.Equal(t, uint64(1), s.Outcome(OutcomeCacheHit))
	assert.Equal(t, uint64(1), s.Outcome(OutcomeDegraded))
	assert.Equal(t, uint64(0), s.Outcome(OutcomeRateLimited))
	assert.Equal(t, uint64(1), s.UpstreamErrors["extraction.timeout"])
	assert.Equal(t, uint64(1), s.Fallbacks)
	assert.Equal(t, uint64(1), s.ExtractionMiss)
	assert.Equal(t, uint64(1), s.RecommendHits)
	assert.Equal(t, 2*time.Millisecond, s.Latency.Avg)
}
