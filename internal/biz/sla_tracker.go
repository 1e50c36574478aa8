package biz

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"ReplyLane/internal/conf"
	"ReplyLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// SLARepo persists SLA samples, breach events, and alerts. Following Kratos
// v2 DDD architecture, the interface is defined in the biz layer and
// implemented in data.
type SLARepo interface {
	SaveSample(ctx context.Context, sample *model.ResponseTimeSample) error
	SaveBreach(ctx context.Context, breach *model.BreachEvent) (int64, error)
	CloseBreach(ctx context.Context, breach *model.BreachEvent) error
	SaveAlert(ctx context.Context, alert *model.SLAAlert) error
	SamplesSince(ctx context.Context, since time.Time) ([]model.ResponseTimeSample, error)
	BreachesSince(ctx context.Context, since time.Time, limit int) ([]model.BreachEvent, error)
	AlertsSince(ctx context.Context, since time.Time, limit int) ([]model.SLAAlert, error)
	PruneSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ResolveStaleBreaches(ctx context.Context, cutoff time.Time) (int64, error)
}

const (
	// summaryHoursMax caps the historical window a summary may cover.
	summaryHoursMax = 168

	// complianceWarningPct degrades an otherwise compliant window to WARNING.
	complianceWarningPct = 95.0

	// criticalAvgFactor marks a fresh breach CRITICAL when the average runs
	// this far past the threshold.
	criticalAvgFactor = 1.5

	// Breach duration tiers for alert escalation.
	breachCriticalAfter  = 5 * time.Minute
	breachEmergencyAfter = 15 * time.Minute

	summaryHistoryLimit = 50
)

// SLATracker maintains the rolling response-time window and the breach
// lifecycle. The window lives in memory and is recomputed on every sample;
// the durable store feeds the historical summaries.
type SLATracker struct {
	thresholdMs float64
	warningMs   float64
	windowSize  int

	mu     sync.Mutex
	window []model.ResponseTimeSample

	inBreach        bool
	breachStart     time.Time
	activeBreach    *model.BreachEvent
	breachPeakMs    float64
	breachSumMs     float64
	breachSamples   int
	breachEndpoints map[string]struct{}

	repo         SLARepo
	summaryCache *expirable.LRU[int, *model.SLASummary]
	logger       *log.Helper
	now          func() time.Time
}

// NewSLATracker creates the tracker with its bounded sample window and the
// short-lived summary cache.
func NewSLATracker(c *conf.SLA, repo SLARepo, logger log.Logger) *SLATracker {
	windowSize := c.WindowSize
	if windowSize <= 0 {
		windowSize = 1000
	}

	return &SLATracker{
		thresholdMs:  c.ThresholdMs,
		warningMs:    c.WarningThresholdMs,
		windowSize:   windowSize,
		window:       make([]model.ResponseTimeSample, 0, windowSize),
		summaryCache: expirable.NewLRU[int, *model.SLASummary](32, nil, c.SummaryCacheTtl.AsDuration()),
		repo:         repo,
		logger:       log.NewHelper(logger),
		now:          time.Now,
	}
}

// RecordResponseTime appends one sample to the rolling window, advances the
// breach lifecycle, and returns the fresh snapshot plus the alert raised by
// this sample, if any.
func (t *SLATracker) RecordResponseTime(ctx context.Context, endpoint, method string, durationMs float64, statusCode int) (*model.SLAMetricsSnapshot, *model.SLAAlert) {
	sample := model.ResponseTimeSample{
		Endpoint:   endpoint,
		Method:     method,
		DurationMs: durationMs,
		StatusCode: statusCode,
		Timestamp:  t.now(),
	}

	if err := t.repo.SaveSample(ctx, &sample); err != nil {
		t.logger.Warnw("failed to persist SLA sample",
			"endpoint", endpoint,
			"error", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.window = append(t.window, sample)
	if len(t.window) > t.windowSize {
		t.window = t.window[len(t.window)-t.windowSize:]
	}

	snapshot := t.snapshotLocked()
	alert := t.advanceBreachLocked(ctx, snapshot, endpoint)

	return snapshot, alert
}

// GetCurrentMetrics returns a snapshot of the rolling window.
func (t *SLATracker) GetCurrentMetrics() *model.SLAMetricsSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// IsInBreach reports whether a breach period is currently open.
func (t *SLATracker) IsInBreach() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inBreach
}

// snapshotLocked recomputes the window statistics. Callers must hold t.mu.
func (t *SLATracker) snapshotLocked() *model.SLAMetricsSnapshot {
	n := len(t.window)
	if n == 0 {
		return &model.SLAMetricsSnapshot{Status: model.SLACompliant, CompliancePercentage: 100.0}
	}

	durations := make([]float64, n)
	var sum float64
	minMs := t.window[0].DurationMs
	maxMs := t.window[0].DurationMs
	breaches := 0

	for i, s := range t.window {
		durations[i] = s.DurationMs
		sum += s.DurationMs
		if s.DurationMs < minMs {
			minMs = s.DurationMs
		}
		if s.DurationMs > maxMs {
			maxMs = s.DurationMs
		}
		if s.DurationMs > t.thresholdMs {
			breaches++
		}
	}

	sort.Float64s(durations)
	avg := sum / float64(n)
	compliance := float64(n-breaches) / float64(n) * 100.0

	return &model.SLAMetricsSnapshot{
		AvgMs:                avg,
		MinMs:                minMs,
		MaxMs:                maxMs,
		P95Ms:                percentile(durations, 0.95),
		P99Ms:                percentile(durations, 0.99),
		TotalRequests:        n,
		BreachCount:          breaches,
		CompliancePercentage: compliance,
		Status:               t.statusLocked(avg, compliance),
	}
}

// statusLocked derives the window status from the average and compliance.
func (t *SLATracker) statusLocked(avgMs, compliancePct float64) model.SLAStatus {
	switch {
	case avgMs > t.thresholdMs*criticalAvgFactor:
		return model.SLACritical
	case avgMs > t.thresholdMs:
		return model.SLABreach
	case avgMs > t.warningMs:
		return model.SLAWarning
	case compliancePct < complianceWarningPct:
		return model.SLAWarning
	default:
		return model.SLACompliant
	}
}

// advanceBreachLocked opens, updates, or closes the breach period according
// to the latest snapshot. Alerts are emitted only while a breach is open.
// Callers must hold t.mu.
func (t *SLATracker) advanceBreachLocked(ctx context.Context, snap *model.SLAMetricsSnapshot, endpoint string) *model.SLAAlert {
	breaching := snap.Status == model.SLABreach || snap.Status == model.SLACritical

	if breaching && !t.inBreach {
		t.openBreachLocked(ctx, snap, endpoint)
	}

	if !breaching && t.inBreach {
		t.closeBreachLocked(ctx)
		return nil
	}

	if !t.inBreach {
		return nil
	}

	t.breachSamples++
	t.breachSumMs += snap.AvgMs
	if snap.MaxMs > t.breachPeakMs {
		t.breachPeakMs = snap.MaxMs
	}
	t.breachEndpoints[endpoint] = struct{}{}

	return t.emitAlertLocked(ctx, snap)
}

// openBreachLocked starts a breach period and persists the open event.
func (t *SLATracker) openBreachLocked(ctx context.Context, snap *model.SLAMetricsSnapshot, endpoint string) {
	now := t.now()

	t.inBreach = true
	t.breachStart = now
	t.breachPeakMs = snap.MaxMs
	t.breachSumMs = 0
	t.breachSamples = 0
	t.breachEndpoints = map[string]struct{}{endpoint: {}}

	event := &model.BreachEvent{
		StartedAt:         now,
		PeakDurationMs:    snap.MaxMs,
		AvgDurationMs:     snap.AvgMs,
		AffectedEndpoints: []string{endpoint},
		Severity:          model.SeverityWarning,
	}

	id, err := t.repo.SaveBreach(ctx, event)
	if err != nil {
		t.logger.Errorw("failed to persist breach event", "error", err)
	} else {
		event.ID = id
	}
	t.activeBreach = event

	t.logger.Warnw("SLA breach started",
		"avg_ms", snap.AvgMs,
		"threshold_ms", t.thresholdMs,
		"endpoint", endpoint)
}

// closeBreachLocked resolves the open breach period with its final numbers.
func (t *SLATracker) closeBreachLocked(ctx context.Context) {
	now := t.now()
	duration := now.Sub(t.breachStart)

	event := t.activeBreach
	if event != nil {
		event.EndedAt = &now
		event.Duration = duration
		event.PeakDurationMs = t.breachPeakMs
		if t.breachSamples > 0 {
			event.AvgDurationMs = t.breachSumMs / float64(t.breachSamples)
		}
		event.AffectedEndpoints = t.endpointListLocked()
		event.Severity = t.breachSeverityLocked(now, event.AvgDurationMs)
		event.Resolved = true

		if event.ID != 0 {
			if err := t.repo.CloseBreach(ctx, event); err != nil {
				t.logger.Errorw("failed to close breach event",
					"breach_id", event.ID,
					"error", err)
			}
		}
	}

	t.logger.Infow("SLA breach resolved",
		"duration", duration,
		"peak_ms", t.breachPeakMs)

	t.inBreach = false
	t.activeBreach = nil
	t.breachPeakMs = 0
	t.breachSumMs = 0
	t.breachSamples = 0
	t.breachEndpoints = nil
}

// emitAlertLocked builds, persists, and returns the alert for the open
// breach.
func (t *SLATracker) emitAlertLocked(ctx context.Context, snap *model.SLAMetricsSnapshot) *model.SLAAlert {
	now := t.now()
	severity := t.breachSeverityLocked(now, snap.AvgMs)
	breachMinutes := now.Sub(t.breachStart).Minutes()

	alert := &model.SLAAlert{
		Severity: severity,
		Message: fmt.Sprintf("SLA breach ongoing for %.1f minutes: avg response %.0fms exceeds %.0fms threshold",
			breachMinutes, snap.AvgMs, t.thresholdMs),
		CurrentValueMs:        snap.AvgMs,
		ThresholdMs:           t.thresholdMs,
		BreachDurationMinutes: breachMinutes,
		AffectedEndpoints:     t.endpointListLocked(),
		ActionRequired:        severity == model.SeverityCritical || severity == model.SeverityEmergency,
		CreatedAt:             now,
	}

	if err := t.repo.SaveAlert(ctx, alert); err != nil {
		t.logger.Warnw("failed to persist SLA alert", "error", err)
	}

	return alert
}

// breachSeverityLocked escalates with breach duration; a fresh breach is
// CRITICAL only when the average runs far past the threshold.
func (t *SLATracker) breachSeverityLocked(now time.Time, avgMs float64) model.AlertSeverity {
	elapsed := now.Sub(t.breachStart)
	switch {
	case elapsed >= breachEmergencyAfter:
		return model.SeverityEmergency
	case elapsed >= breachCriticalAfter:
		return model.SeverityCritical
	case avgMs > t.thresholdMs*criticalAvgFactor:
		return model.SeverityCritical
	default:
		return model.SeverityWarning
	}
}

func (t *SLATracker) endpointListLocked() []string {
	endpoints := make([]string, 0, len(t.breachEndpoints))
	for ep := range t.breachEndpoints {
		endpoints = append(endpoints, ep)
	}
	sort.Strings(endpoints)
	return endpoints
}

// GetSLASummary builds the historical view over the last N hours from the
// durable store. Summaries are cached briefly since they scan the sample
// table.
func (t *SLATracker) GetSLASummary(ctx context.Context, hours int) (*model.SLASummary, error) {
	if hours <= 0 {
		hours = 24
	}
	if hours > summaryHoursMax {
		hours = summaryHoursMax
	}

	if cached, ok := t.summaryCache.Get(hours); ok {
		return cached, nil
	}

	since := t.now().Add(-time.Duration(hours) * time.Hour)

	samples, err := t.repo.SamplesSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load SLA samples: %w", err)
	}

	breaches, err := t.repo.BreachesSince(ctx, since, summaryHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load breach events: %w", err)
	}

	alerts, err := t.repo.AlertsSince(ctx, since, summaryHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load SLA alerts: %w", err)
	}

	summary := &model.SLASummary{
		Hours:          hours,
		TotalRequests:  len(samples),
		HourlyBuckets:  t.bucketByHour(samples),
		Endpoints:      t.statsByEndpoint(samples),
		RecentBreaches: breaches,
		RecentAlerts:   alerts,
	}

	t.summaryCache.Add(hours, summary)
	return summary, nil
}

// bucketByHour aggregates samples into clock-hour buckets, oldest first.
func (t *SLATracker) bucketByHour(samples []model.ResponseTimeSample) []model.HourlyBucket {
	type agg struct {
		count    int
		sumMs    float64
		breaches int
	}
	byHour := make(map[time.Time]*agg)

	for _, s := range samples {
		hour := s.Timestamp.Truncate(time.Hour)
		a := byHour[hour]
		if a == nil {
			a = &agg{}
			byHour[hour] = a
		}
		a.count++
		a.sumMs += s.DurationMs
		if s.DurationMs > t.thresholdMs {
			a.breaches++
		}
	}

	buckets := make([]model.HourlyBucket, 0, len(byHour))
	for hour, a := range byHour {
		buckets = append(buckets, model.HourlyBucket{
			Hour:          hour,
			RequestCount:  a.count,
			AvgDurationMs: a.sumMs / float64(a.count),
			BreachCount:   a.breaches,
		})
	}

	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Hour.Before(buckets[j].Hour)
	})
	return buckets
}

// statsByEndpoint aggregates samples per endpoint, busiest first.
func (t *SLATracker) statsByEndpoint(samples []model.ResponseTimeSample) []model.EndpointStats {
	type agg struct {
		count    int
		sumMs    float64
		maxMs    float64
		breaches int
	}
	byEndpoint := make(map[string]*agg)

	for _, s := range samples {
		a := byEndpoint[s.Endpoint]
		if a == nil {
			a = &agg{}
			byEndpoint[s.Endpoint] = a
		}
		a.count++
		a.sumMs += s.DurationMs
		if s.DurationMs > a.maxMs {
			a.maxMs = s.DurationMs
		}
		if s.DurationMs > t.thresholdMs {
			a.breaches++
		}
	}

	stats := make([]model.EndpointStats, 0, len(byEndpoint))
	for endpoint, a := range byEndpoint {
		stats = append(stats, model.EndpointStats{
			Endpoint:             endpoint,
			RequestCount:         a.count,
			AvgDurationMs:        a.sumMs / float64(a.count),
			MaxDurationMs:        a.maxMs,
			BreachCount:          a.breaches,
			CompliancePercentage: float64(a.count-a.breaches) / float64(a.count) * 100.0,
		})
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].RequestCount != stats[j].RequestCount {
			return stats[i].RequestCount > stats[j].RequestCount
		}
		return stats[i].Endpoint < stats[j].Endpoint
	})
	return stats
}

// percentile returns the value at rank ceil(p*N) of the sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
