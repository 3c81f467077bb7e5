// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Failures  int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Failures    int64   `json:"failures"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds    float64            `json:"uptime_seconds"`
	SessionEstablish *OperationSnapshot `json:"session_establish,omitempty"`
	Navigate         *OperationSnapshot `json:"navigate,omitempty"`
	Extract          *OperationSnapshot `json:"extract_content,omitempty"`
	Sentiment        *OperationSnapshot `json:"analyze_sentiment,omitempty"`
	Themes           *OperationSnapshot `json:"analyze_themes,omitempty"`
	Persist          *OperationSnapshot `json:"persist_report,omitempty"`
}

// Operation names for the collector.
const (
	OpSessionEstablish = "session_establish"
	OpNavigate         = "navigate"
	OpExtract          = "extract_content"
	OpSentiment        = "analyze_sentiment"
	OpThemes           = "analyze_themes"
	OpPersist          = "persist_report"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordFailure counts a failed operation without timing data.
func (c *Collector) RecordFailure(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getOrCreate(op).Failures++
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}
	return &OperationSnapshot{
		Count:       m.Count,
		Failures:    m.Failures,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds:    time.Since(c.startTime).Seconds(),
		SessionEstablish: snapshotOp(c.ops[OpSessionEstablish]),
		Navigate:         snapshotOp(c.ops[OpNavigate]),
		Extract:          snapshotOp(c.ops[OpExtract]),
		Sentiment:        snapshotOp(c.ops[OpSentiment]),
		Themes:           snapshotOp(c.ops[OpThemes]),
		Persist:          snapshotOp(c.ops[OpPersist]),
	}
}
