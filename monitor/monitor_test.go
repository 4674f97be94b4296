package monitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentuity/go-recommend/logger"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckWarnsAboveThreshold(t *testing.T) {
	log := logger.NewTestLogger()
	m := New(SamplerFunc(func(context.Context) (Snapshot, error) {
		return Snapshot{CPUPercent: 91.5, MemoryPercent: 40}, nil
	}), 0, log)

	snap, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 91.5, snap.CPUPercent)
	assert.Equal(t, snap, m.Last())
	assert.Equal(t, uint64(1), m.Warnings())
	assert.True(t, log.Contains("WARNING", "high cpu usage: 91.5%"))
	assert.False(t, log.Contains("WARNING", "high memory usage"))
}

func TestCheckQuietBelowThreshold(t *testing.T) {
	log := logger.NewTestLogger()
	m := New(SamplerFunc(func(context.Context) (Snapshot, error) {
		return Snapshot{CPUPercent: 10, MemoryPercent: 50}, nil
	}), 60, log)
	_, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), m.Warnings())
	assert.Empty(t, log.Entries())
}

func TestCheckError(t *testing.T) {
	m := New(SamplerFunc(func(context.Context) (Snapshot, error) {
		return Snapshot{}, errors.New("no procfs")
	}), 0, logger.NewTestLogger())
	_, err := m.Check(context.Background())
	require.Error(t, err)
	assert.True(t, m.Last().At.IsZero())
}

func TestRunStopsWithContext(t *testing.T) {
	var n atomic.Int32
	m := New(SamplerFunc(func(context.Context) (Snapshot, error) {
		n.Add(1)
		return Snapshot{At: time.Now()}, nil
	}), 0, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 5*time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return n.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	<-done

	m.Run(context.Background(), 0)
}

func TestSystemSampler(t *testing.T) {
	s, err := NewSystemSampler(context.Background())
	require.NoError(t, err)
	snap, err := s.Sample(context.Background())
	require.NoError(t, err)
	assert.Positive(t, snap.MemoryTotal)
	assert.Positive(t, snap.Goroutines)
}
