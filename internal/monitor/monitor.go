// Package monitor keeps the outcome of recent sync runs in memory.
package monitor

import (
	"sync"
	"sync/atomic"

	"github.com/pysugar/metric-garden/internal/orchestrator"
)

// MaxRecentRuns limits the in-memory run history.
const MaxRecentRuns = 50

// Stats are totals since process start.
type Stats struct {
	TotalRuns      int64 `json:"totalRuns"`
	UsersProcessed int64 `json:"usersProcessed"`
	UsersSucceeded int64 `json:"usersSucceeded"`
	UsersFailed    int64 `json:"usersFailed"`
}

// RunMonitor records batch run summaries. It implements
// orchestrator.RunRecorder.
type RunMonitor struct {
	recent []orchestrator.JobSummary
	mu     sync.RWMutex

	totalRuns      atomic.Int64
	usersProcessed atomic.Int64
	usersSucceeded atomic.Int64
	usersFailed    atomic.Int64
}

// NewRunMonitor creates an empty monitor.
func NewRunMonitor() *RunMonitor {
	return &RunMonitor{recent: make([]orchestrator.JobSummary, 0, MaxRecentRuns)}
}

// RecordRun stores summary as the newest run.
func (m *RunMonitor) RecordRun(summary orchestrator.JobSummary) {
	m.totalRuns.Add(1)
	m.usersProcessed.Add(int64(summary.Processed))
	m.usersSucceeded.Add(int64(summary.Successful))
	m.usersFailed.Add(int64(summary.Failed))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent = append([]orchestrator.JobSummary{summary}, m.recent...)
	if len(m.recent) > MaxRecentRuns {
		m.recent = m.recent[:MaxRecentRuns]
	}
}

// Recent returns up to limit runs, newest first. limit <= 0 returns all kept runs.
func (m *RunMonitor) Recent(limit int) []orchestrator.JobSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.recent) {
		limit = len(m.recent)
	}
	out := make([]orchestrator.JobSummary, limit)
	copy(out, m.recent[:limit])
	return out
}

// Stats returns the running totals.
func (m *RunMonitor) Stats() Stats {
	return Stats{
		TotalRuns:      m.totalRuns.Load(),
		UsersProcessed: m.usersProcessed.Load(),
		UsersSucceeded: m.usersSucceeded.Load(),
		UsersFailed:    m.usersFailed.Load(),
	}
}
