package relay

import (
	"sync"
	"sync/atomic"
)

// MetricsCollector defines the interface for collecting relay metrics
type MetricsCollector interface {
	RecordJoin(roomID string)
	RecordLeave(roomID string)
	RecordPublish(roomID string, delivered, dropped int)
	RecordRejectedFrame(reason string)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordJoin(roomID string)                            {}
func (n *NoOpMetricsCollector) RecordLeave(roomID string)                           {}
func (n *NoOpMetricsCollector) RecordPublish(roomID string, delivered, dropped int) {}
func (n *NoOpMetricsCollector) RecordRejectedFrame(reason string)                   {}

// CounterMetrics keeps process-lifetime counters served by the stats endpoint
type CounterMetrics struct {
	joins     atomic.Int64
	leaves    atomic.Int64
	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64

	mu       sync.Mutex
	rejected map[string]int64
}

func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{rejected: make(map[string]int64)}
}

func (m *CounterMetrics) RecordJoin(roomID string)  { m.joins.Add(1) }
func (m *CounterMetrics) RecordLeave(roomID string) { m.leaves.Add(1) }

func (m *CounterMetrics) RecordPublish(roomID string, delivered, dropped int) {
	m.published.Add(1)
	m.delivered.Add(int64(delivered))
	m.dropped.Add(int64(dropped))
}

func (m *CounterMetrics) RecordRejectedFrame(reason string) {
	m.mu.Lock()
	m.rejected[reason]++
	m.mu.Unlock()
}

// CounterSnapshot is the serialisable form of CounterMetrics
type CounterSnapshot struct {
	Joins     int64            `json:"joins"`
	Leaves    int64            `json:"leaves"`
	Published int64            `json:"published"`
	Delivered int64            `json:"delivered"`
	Dropped   int64            `json:"dropped"`
	Rejected  map[string]int64 `json:"rejected_frames"`
}

func (m *CounterMetrics) Snapshot() CounterSnapshot {
	m.mu.Lock()
	rejected := make(map[string]int64, len(m.rejected))
	for k, v := range m.rejected {
		rejected[k] = v
	}
	m.mu.Unlock()

	return CounterSnapshot{
		Joins:     m.joins.Load(),
		Leaves:    m.leaves.Load(),
		Published: m.published.Load(),
		Delivered: m.delivered.Load(),
		Dropped:   m.dropped.Load(),
		Rejected:  rejected,
	}
}
