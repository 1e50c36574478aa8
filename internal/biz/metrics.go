package biz

import (
	"ReplyLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// Exponential smoothing weights for the blended rates. The old value
// dominates so one execution cannot swing the rate.
const (
	ewmaOldWeight = 0.9
	ewmaNewWeight = 0.1
)

// ExecutionOutcome is the per-execution input to the aggregator.
type ExecutionOutcome struct {
	Success           bool
	DurationMs        int64
	CacheHitRatio     float64 // negative when the execution did no cache lookups
	RecoveryAttempted bool
	RecoveryUsed      bool
}

// PerformanceSnapshot is an immutable copy of the process-wide counters.
// Rates are percentages in [0, 100].
type PerformanceSnapshot struct {
	TotalExecutions      int64   `json:"total_executions"`
	SuccessfulExecutions int64   `json:"successful_executions"`
	FailedExecutions     int64   `json:"failed_executions"`
	SuccessRate          float64 `json:"success_rate"`
	AvgExecutionMs       float64 `json:"avg_execution_ms"`
	SLAViolations        int64   `json:"sla_violations"`
	SLAComplianceRate    float64 `json:"sla_compliance_rate"`
	CacheHitRate         float64 `json:"cache_hit_rate"`
	RecoverySuccessRate  float64 `json:"recovery_success_rate"`
}

// MetricsAggregator owns the process-wide execution counters. All state is
// confined to a single goroutine reachable only through channels, so
// concurrent executions cannot lose updates to read-modify-write races.
type MetricsAggregator struct {
	slaTargetMs int64

	updates   chan ExecutionOutcome
	snapshots chan chan PerformanceSnapshot
	done      chan struct{}

	logger *log.Helper
}

// NewMetricsAggregator creates the aggregator and starts its owner goroutine.
func NewMetricsAggregator(c *conf.Pipeline, logger log.Logger) (*MetricsAggregator, func()) {
	m := &MetricsAggregator{
		slaTargetMs: c.SlaTargetMs,
		updates:     make(chan ExecutionOutcome, 256),
		snapshots:   make(chan chan PerformanceSnapshot),
		done:        make(chan struct{}),
		logger:      log.NewHelper(logger),
	}

	go m.run()

	cleanup := func() {
		m.Close()
	}

	return m, cleanup
}

// Update records one finished execution. Blocks only if the aggregator is
// severely backlogged.
func (m *MetricsAggregator) Update(outcome ExecutionOutcome) {
	select {
	case m.updates <- outcome:
	case <-m.done:
	}
}

// Snapshot returns a copy of the current counters.
func (m *MetricsAggregator) Snapshot() PerformanceSnapshot {
	reply := make(chan PerformanceSnapshot, 1)
	select {
	case m.snapshots <- reply:
		return <-reply
	case <-m.done:
		return PerformanceSnapshot{}
	}
}

// Close stops the owner goroutine.
func (m *MetricsAggregator) Close() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

// run is the single owner of all counters.
func (m *MetricsAggregator) run() {
	var (
		total, successful, failed int64
		avgMs                     float64
		slaViolations             int64
		cacheHitRate              float64
		recoverySuccessRate       float64
	)

	for {
		select {
		case outcome := <-m.updates:
			total++
			if outcome.Success {
				successful++
			} else {
				failed++
			}

			// Incremental mean keeps O(1) memory over the process lifetime
			avgMs += (float64(outcome.DurationMs) - avgMs) / float64(total)

			if outcome.DurationMs > m.slaTargetMs {
				slaViolations++
			}

			if outcome.CacheHitRatio >= 0 {
				cacheHitRate = ewmaOldWeight*cacheHitRate + ewmaNewWeight*outcome.CacheHitRatio
			}

			if outcome.RecoveryAttempted {
				used := 0.0
				if outcome.RecoveryUsed {
					used = 1.0
				}
				recoverySuccessRate = ewmaOldWeight*recoverySuccessRate + ewmaNewWeight*used
			}

		case reply := <-m.snapshots:
			snap := PerformanceSnapshot{
				TotalExecutions:      total,
				SuccessfulExecutions: successful,
				FailedExecutions:     failed,
				SuccessRate:          100.0,
				AvgExecutionMs:       avgMs,
				SLAViolations:        slaViolations,
				SLAComplianceRate:    100.0,
				CacheHitRate:         cacheHitRate * 100.0,
				RecoverySuccessRate:  recoverySuccessRate * 100.0,
			}
			if total > 0 {
				snap.SuccessRate = float64(successful) / float64(total) * 100.0
				snap.SLAComplianceRate = float64(total-slaViolations) / float64(total) * 100.0
			}
			reply <- snap

		case <-m.done:
			return
		}
	}
}
