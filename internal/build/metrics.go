package build

import (
	"sync"
	"time"

	"github.com/conneroisu/stagehand/internal/task"
)

// Metrics tracks task runs across full builds and watch-triggered reruns.
type Metrics struct {
	totalRuns      int64
	successfulRuns int64
	failedRuns     int64
	fullBuilds     int64
	totalDuration  time.Duration
	lastBuild      time.Duration
	mutex          sync.RWMutex
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	TotalRuns       int64         `json:"total_runs"`
	SuccessfulRuns  int64         `json:"successful_runs"`
	FailedRuns      int64         `json:"failed_runs"`
	FullBuilds      int64         `json:"full_builds"`
	AverageDuration time.Duration `json:"average_duration"`
	LastBuild       time.Duration `json:"last_build"`
}

// NewMetrics creates a new metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordRun records a single task run.
func (m *Metrics) RecordRun(result task.Result) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.totalRuns++
	m.totalDuration += result.Duration
	if result.Failed() {
		m.failedRuns++
	} else {
		m.successfulRuns++
	}
}

// RecordBuild records the completion of a full build.
func (m *Metrics) RecordBuild(duration time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.fullBuilds++
	m.lastBuild = duration
}

// Snapshot returns a copy of the current metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	s := MetricsSnapshot{
		TotalRuns:      m.totalRuns,
		SuccessfulRuns: m.successfulRuns,
		FailedRuns:     m.failedRuns,
		FullBuilds:     m.fullBuilds,
		LastBuild:      m.lastBuild,
	}
	if m.totalRuns > 0 {
		s.AverageDuration = m.totalDuration / time.Duration(m.totalRuns)
	}
	return s
}

// SuccessRate returns the share of successful task runs as a percentage.
func (m *Metrics) SuccessRate() float64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.totalRuns == 0 {
		return 0.0
	}

	return float64(m.successfulRuns) / float64(m.totalRuns) * 100.0
}

// Reset resets all metrics
func (m *Metrics) Reset() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.totalRuns = 0
	m.successfulRuns = 0
	m.failedRuns = 0
	m.fullBuilds = 0
	m.totalDuration = 0
	m.lastBuild = 0
}
