package sbi

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// SBIMetrics counts firmware commands by type. It is safe for concurrent
// use.
type SBIMetrics struct {
	mu     sync.Mutex
	sent   map[CommandType]uint64
	failed map[CommandType]uint64
}

// NewSBIMetrics creates zeroed counters.
func NewSBIMetrics() *SBIMetrics {
	return &SBIMetrics{
		sent:   make(map[CommandType]uint64),
		failed: make(map[CommandType]uint64),
	}
}

// IncSent counts a command handed to the transport.
func (m *SBIMetrics) IncSent(t CommandType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[t]++
}

// IncFailed counts a command the transport rejected.
func (m *SBIMetrics) IncFailed(t CommandType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[t]++
}

// SBIMetricsSnapshot is a copy of the counters.
type SBIMetricsSnapshot struct {
	Sent   map[CommandType]uint64
	Failed map[CommandType]uint64
}

// Total returns the number of commands sent.
func (s SBIMetricsSnapshot) Total() uint64 {
	var n uint64
	for _, v := range s.Sent {
		n += v
	}
	return n
}

// Snapshot copies the current counters.
func (m *SBIMetrics) Snapshot() SBIMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := SBIMetricsSnapshot{
		Sent:   make(map[CommandType]uint64, len(m.sent)),
		Failed: make(map[CommandType]uint64, len(m.failed)),
	}
	for k, v := range m.sent {
		snap.Sent[k] = v
	}
	for k, v := range m.failed {
		snap.Failed[k] = v
	}
	return snap
}

// String renders the non-zero counters in command order.
func (m *SBIMetrics) String() string {
	snap := m.Snapshot()
	types := make([]int, 0, len(snap.Sent))
	for t := range snap.Sent {
		types = append(types, int(t))
	}
	sort.Ints(types)
	parts := make([]string, 0, len(types))
	for _, t := range types {
		ct := CommandType(t)
		parts = append(parts, fmt.Sprintf("%s=%d/%d", ct, snap.Sent[ct], snap.Failed[ct]))
	}
	return "SBI metrics: " + strings.Join(parts, " ")
}
