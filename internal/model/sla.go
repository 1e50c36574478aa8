package model

import "time"

// ResponseTimeSample is one observed operation duration. Samples are
// append-only and immutable once recorded.
type ResponseTimeSample struct {
	Endpoint   string    `json:"endpoint"`
	Method     string    `json:"method"`
	DurationMs float64   `json:"duration_ms"`
	StatusCode int       `json:"status_code"`
	Timestamp  time.Time `json:"timestamp"`
}

// SLAStatus classifies the current compliance level of the rolling window.
type SLAStatus string

const (
	SLACompliant SLAStatus = "COMPLIANT"
	SLAWarning   SLAStatus = "WARNING"
	SLABreach    SLAStatus = "BREACH"
	SLACritical  SLAStatus = "CRITICAL"
)

// SLAMetricsSnapshot is an immutable view of the rolling window, recomputed
// on every sample.
type SLAMetricsSnapshot struct {
	AvgMs                float64   `json:"avg_ms"`
	MinMs                float64   `json:"min_ms"`
	MaxMs                float64   `json:"max_ms"`
	P95Ms                float64   `json:"p95_ms"`
	P99Ms                float64   `json:"p99_ms"`
	TotalRequests        int       `json:"total_requests"`
	BreachCount          int       `json:"breach_count"`
	CompliancePercentage float64   `json:"compliance_percentage"`
	Status               SLAStatus `json:"status"`
}

// AlertSeverity is the escalation tier of an SLA alert.
type AlertSeverity string

// SeverityInfo completes the severity scale; emitted alerts start at WARNING.
const (
	SeverityInfo      AlertSeverity = "INFO"
	SeverityWarning   AlertSeverity = "WARNING"
	SeverityCritical  AlertSeverity = "CRITICAL"
	SeverityEmergency AlertSeverity = "EMERGENCY"
)

// SLAAlert is created transiently per evaluation and persisted for audit.
type SLAAlert struct {
	Severity              AlertSeverity `json:"severity"`
	Message               string        `json:"message"`
	CurrentValueMs        float64       `json:"current_value_ms"`
	ThresholdMs           float64       `json:"threshold_ms"`
	BreachDurationMinutes float64       `json:"breach_duration_minutes"`
	AffectedEndpoints     []string      `json:"affected_endpoints,omitempty"`
	ActionRequired        bool          `json:"action_required"`
	CreatedAt             time.Time     `json:"created_at"`
}

// BreachEvent tracks one continuous period of SLA breach. It is created when
// the breach begins and closed when compliance recovers.
type BreachEvent struct {
	ID                int64         `json:"id,omitempty"`
	StartedAt         time.Time     `json:"started_at"`
	EndedAt           *time.Time    `json:"ended_at,omitempty"`
	Duration          time.Duration `json:"duration_ns"`
	PeakDurationMs    float64       `json:"peak_duration_ms"`
	AvgDurationMs     float64       `json:"avg_duration_ms"`
	AffectedEndpoints []string      `json:"affected_endpoints,omitempty"`
	Severity          AlertSeverity `json:"severity"`
	Resolved          bool          `json:"resolved"`
}

// EndpointStats is the per-endpoint breakdown in an SLA summary.
type EndpointStats struct {
	Endpoint             string  `json:"endpoint"`
	RequestCount         int     `json:"request_count"`
	AvgDurationMs        float64 `json:"avg_duration_ms"`
	MaxDurationMs        float64 `json:"max_duration_ms"`
	BreachCount          int     `json:"breach_count"`
	CompliancePercentage float64 `json:"compliance_percentage"`
}

// HourlyBucket aggregates samples falling into one clock hour.
type HourlyBucket struct {
	Hour          time.Time `json:"hour"`
	RequestCount  int       `json:"request_count"`
	AvgDurationMs float64   `json:"avg_duration_ms"`
	BreachCount   int       `json:"breach_count"`
}

// SLASummary is the time-bounded historical view computed from the durable
// store, distinct from the in-memory rolling window.
type SLASummary struct {
	Hours          int             `json:"hours"`
	TotalRequests  int             `json:"total_requests"`
	HourlyBuckets  []HourlyBucket  `json:"hourly_buckets"`
	Endpoints      []EndpointStats `json:"endpoints"`
	RecentBreaches []BreachEvent   `json:"recent_breaches"`
	RecentAlerts   []SLAAlert      `json:"recent_alerts"`
}
