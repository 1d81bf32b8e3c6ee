package scheduler

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/autobolt/internal/common"
)

// ResourceMonitor maintains the coarse load proxy that throttles the
// worker pool: the larger of heap pressure (allocated bytes against the
// next GC target) and pool occupancy. Above the soft threshold effective
// concurrency scales by 0.7, above the hard threshold by 0.5, never below
// one attempt.
type ResourceMonitor struct {
	mu        sync.Mutex
	base      int
	soft      float64
	hard      float64
	inflight  int
	load      float64
	effective int

	sampleEvery time.Duration
	heapFn      func() float64 // injectable for tests
	logger      arbor.ILogger
}

// NewResourceMonitor creates a monitor for a pool of base workers
func NewResourceMonitor(base int, config *common.SchedulerConfig, logger arbor.ILogger) *ResourceMonitor {
	if base < 1 {
		base = 1
	}
	return &ResourceMonitor{
		base:        base,
		soft:        config.CPUThreshold,
		hard:        config.CPUHardThreshold,
		effective:   base,
		sampleEvery: config.ResourceSampleEvery,
		heapFn:      heapLoad,
		logger:      logger,
	}
}

func heapLoad() float64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	if stats.NextGC == 0 {
		return 0
	}
	load := float64(stats.HeapAlloc) / float64(stats.NextGC)
	if load > 1 {
		load = 1
	}
	return load
}

// Run recomputes the load proxy on the sample interval until cancelled
func (m *ResourceMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sampleEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.recompute()
		}
	}
}

func (m *ResourceMonitor) recompute() {
	heap := m.heapFn()

	m.mu.Lock()
	occupancy := float64(m.inflight) / float64(m.base)
	load := heap
	if occupancy > load {
		load = occupancy
	}

	effective := m.base
	switch {
	case load > m.hard:
		effective = int(float64(m.base) * 0.5)
	case load > m.soft:
		effective = int(float64(m.base) * 0.7)
	}
	if effective < 1 {
		effective = 1
	}

	changed := effective != m.effective
	m.load = load
	m.effective = effective
	m.mu.Unlock()

	if changed {
		m.logger.Info().
			Float64("load", load).
			Int("effective_concurrency", effective).
			Int("base_concurrency", m.base).
			Msg("Adjusted effective concurrency")
	}
}

// TryAcquire claims an attempt slot when in-flight work is under the
// effective cap. Callers poll; there is no queue of waiters.
func (m *ResourceMonitor) TryAcquire() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight >= m.effective {
		return false
	}
	m.inflight++
	return true
}

// Release returns an attempt slot
func (m *ResourceMonitor) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight > 0 {
		m.inflight--
	}
}

// Load returns the last computed load proxy in [0,1]
func (m *ResourceMonitor) Load() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load
}

// Effective returns the current concurrency cap
func (m *ResourceMonitor) Effective() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effective
}

// InFlight returns the number of attempts currently holding a slot
func (m *ResourceMonitor) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight
}
