package monitor

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/agentuity/go-recommend/logger"
	"github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// DefaultThreshold is the CPU or memory percentage that triggers a warning.
const DefaultThreshold = 80.0

// Snapshot is one resource sample.
type Snapshot struct {
	At            time.Time `json:"at" yaml:"at"`
	CPUPercent    float64   `json:"cpu_percent" yaml:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent" yaml:"memory_percent"`
	MemoryTotal   uint64    `json:"memory_total" yaml:"memory_total"`
	ProcessRSS    uint64    `json:"process_rss" yaml:"process_rss"`
	ProcessCPU    float64   `json:"process_cpu" yaml:"process_cpu"`
	Goroutines    int       `json:"goroutines" yaml:"goroutines"`
}

// Sampler takes a resource sample.
type Sampler interface {
	Sample(ctx context.Context) (Snapshot, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(ctx context.Context) (Snapshot, error)

func (f SamplerFunc) Sample(ctx context.Context) (Snapshot, error) {
	return f(ctx)
}

// SystemSampler reads host and process figures with gopsutil.
type SystemSampler struct {
	proc *process.Process
}

var _ Sampler = (*SystemSampler)(nil)

func NewSystemSampler(ctx context.Context) (*SystemSampler, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil, errors.Wrap(err, "error opening own process")
	}
	return &SystemSampler{proc: proc}, nil
}

func (s *SystemSampler) Sample(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{At: time.Now(), Goroutines: runtime.NumGoroutine()}
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return snap, errors.Wrap(err, "error reading cpu")
	}
	if len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return snap, errors.Wrap(err, "error reading memory")
	}
	snap.MemoryPercent = vm.UsedPercent
	snap.MemoryTotal = vm.Total
	// process figures are best effort, some platforms do not expose them
	if info, err := s.proc.MemoryInfoWithContext(ctx); err == nil {
		snap.ProcessRSS = info.RSS
	}
	if pct, err := s.proc.CPUPercentWithContext(ctx); err == nil {
		snap.ProcessCPU = pct
	}
	return snap, nil
}

// Monitor samples periodically and warns when CPU or memory use crosses
// the threshold.
type Monitor struct {
	sampler   Sampler
	threshold float64
	logger    logger.Logger

	mu       sync.RWMutex
	last     Snapshot
	warnings uint64
}

func New(sampler Sampler, threshold float64, log logger.Logger) *Monitor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Monitor{sampler: sampler, threshold: threshold, logger: log.WithPrefix("[monitor]")}
}

// Check takes one sample and records it.
func (m *Monitor) Check(ctx context.Context) (Snapshot, error) {
	snap, err := m.sampler.Sample(ctx)
	if err != nil {
		return snap, err
	}
	var warned bool
	if snap.CPUPercent > m.threshold {
		m.logger.Warn("high cpu usage: %.1f%%", snap.CPUPercent)
		warned = true
	}
	if snap.MemoryPercent > m.threshold {
		m.logger.Warn("high memory usage: %.1f%%", snap.MemoryPercent)
		warned = true
	}
	m.mu.Lock()
	m.last = snap
	if warned {
		m.warnings++
	}
	m.mu.Unlock()
	return snap, nil
}

// Run calls Check every interval until ctx is done. It returns at once when
// interval is not positive.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Check(ctx); err != nil && ctx.Err() == nil {
				m.logger.Debug("resource sample failed: %s", err)
			}
		}
	}
}

// Last returns the most recent sample.
func (m *Monitor) Last() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Warnings returns how many samples crossed the threshold.
func (m *Monitor) Warnings() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.warnings
}
