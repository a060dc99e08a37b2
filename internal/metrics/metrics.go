// Package metrics collects and exposes engine observability data.
//
// Two metric stores coexist: an in-process Metrics struct of atomic
// counters that is always on and costs almost nothing on the probe
// execution hot path, and an optional Prometheus registry bridge
// (prometheus.go) for scraping by external monitoring systems. The
// in-process store works without any sidecar; the bridge is nil-guarded
// so recording is safe before InitPrometheus runs.
//
// Invariants:
//   - Executions == Fired + Skipped (maintained by RecordExecution).
//   - Per-probe entries are created once per probe id; the sync.Map is
//     read-heavy and write-once-per-new-probe.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects engine-wide counters.
type Metrics struct {
	// Execution metrics
	Executions atomic.Int64
	Fired      atomic.Int64
	Skipped    atomic.Int64
	VMErrors   atomic.Int64
	Captures   atomic.Int64

	// Compilation metrics
	ProgramsCompiled atomic.Int64
	CompileFailures  atomic.Int64

	// Latency metrics (microseconds)
	TotalLatencyUs atomic.Int64
	MinLatencyUs   atomic.Int64
	MaxLatencyUs   atomic.Int64

	// Per-probe metrics
	probeMetrics sync.Map // probe id -> *ProbeMetrics

	startTime time.Time
}

// ProbeMetrics tracks counters for a single probe.
type ProbeMetrics struct {
	Executions atomic.Int64
	Fired      atomic.Int64
	Captures   atomic.Int64
	Errors     atomic.Int64
	TotalUs    atomic.Int64
}

var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinLatencyUs.Store(int64(^uint64(0) >> 1))
}

// Global returns the global metrics instance.
func Global() *Metrics {
	return global
}

// StartTime returns the time when the metrics system was initialized.
func StartTime() time.Time {
	return global.startTime
}

// RecordExecution records one probe execution.
func (m *Metrics) RecordExecution(probeID string, durationUs int64, fired bool, captures int, vmError bool) {
	m.Executions.Add(1)
	if fired {
		m.Fired.Add(1)
	} else {
		m.Skipped.Add(1)
	}
	if vmError {
		m.VMErrors.Add(1)
	}
	m.Captures.Add(int64(captures))

	m.TotalLatencyUs.Add(durationUs)
	updateMin(&m.MinLatencyUs, durationUs)
	updateMax(&m.MaxLatencyUs, durationUs)

	pm := m.getProbeMetrics(probeID)
	pm.Executions.Add(1)
	if fired {
		pm.Fired.Add(1)
	}
	pm.Captures.Add(int64(captures))
	if vmError {
		pm.Errors.Add(1)
	}
	pm.TotalUs.Add(durationUs)

	// Prometheus bridge
	RecordPrometheusExecution(probeID, durationUs, fired, captures, vmError)
}

// RecordCompile records a program compilation attempt.
func (m *Metrics) RecordCompile(success bool) {
	if success {
		m.ProgramsCompiled.Add(1)
	} else {
		m.CompileFailures.Add(1)
	}
	RecordPrometheusCompile(success)
}

func (m *Metrics) getProbeMetrics(probeID string) *ProbeMetrics {
	if v, ok := m.probeMetrics.Load(probeID); ok {
		return v.(*ProbeMetrics)
	}
	pm := &ProbeMetrics{}
	actual, _ := m.probeMetrics.LoadOrStore(probeID, pm)
	return actual.(*ProbeMetrics)
}

// GetProbeMetrics returns the metrics for a specific probe (or nil if
// none recorded yet).
func (m *Metrics) GetProbeMetrics(probeID string) *ProbeMetrics {
	if v, ok := m.probeMetrics.Load(probeID); ok {
		return v.(*ProbeMetrics)
	}
	return nil
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() map[string]any {
	total := m.Executions.Load()
	avgLatency := float64(0)
	if total > 0 {
		avgLatency = float64(m.TotalLatencyUs.Load()) / float64(total)
	}

	minLatency := m.MinLatencyUs.Load()
	if minLatency == int64(^uint64(0)>>1) {
		minLatency = 0
	}

	return map[string]any{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"executions": map[string]any{
			"total":     total,
			"fired":     m.Fired.Load(),
			"skipped":   m.Skipped.Load(),
			"vm_errors": m.VMErrors.Load(),
			"captures":  m.Captures.Load(),
		},
		"compiles": map[string]any{
			"succeeded": m.ProgramsCompiled.Load(),
			"failed":    m.CompileFailures.Load(),
		},
		"latency_us": map[string]any{
			"avg": avgLatency,
			"min": minLatency,
			"max": m.MaxLatencyUs.Load(),
		},
	}
}

// ProbeStats returns per-probe metrics keyed by probe id.
func (m *Metrics) ProbeStats() map[string]any {
	result := make(map[string]any)
	m.probeMetrics.Range(func(key, value any) bool {
		pm := value.(*ProbeMetrics)
		total := pm.Executions.Load()
		avgUs := float64(0)
		if total > 0 {
			avgUs = float64(pm.TotalUs.Load()) / float64(total)
		}
		result[key.(string)] = map[string]any{
			"executions": total,
			"fired":      pm.Fired.Load(),
			"captures":   pm.Captures.Load(),
			"errors":     pm.Errors.Load(),
			"avg_us":     avgUs,
		}
		return true
	})
	return result
}

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
