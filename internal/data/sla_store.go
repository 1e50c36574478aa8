package data

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ReplyLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// SLASample is the GORM model for the sla_samples table.
type SLASample struct {
	ID         int64     `gorm:"primaryKey;column:id"`
	Endpoint   string    `gorm:"column:endpoint;type:varchar(255);not null;index:idx_sla_samples_endpoint_ts,priority:1"`
	Method     string    `gorm:"column:method;type:varchar(16);not null"`
	DurationMs float64   `gorm:"column:duration_ms;not null"`
	StatusCode int       `gorm:"column:status_code;not null"`
	Timestamp  time.Time `gorm:"column:timestamp;not null;index;index:idx_sla_samples_endpoint_ts,priority:2"`
}

// TableName specifies the table name for GORM
func (SLASample) TableName() string {
	return "sla_samples"
}

// SLABreachEvent is the GORM model for the sla_breach_events table.
type SLABreachEvent struct {
	ID                int64      `gorm:"primaryKey;column:id"`
	StartedAt         time.Time  `gorm:"column:started_at;not null;index"`
	EndedAt           *time.Time `gorm:"column:ended_at"`
	DurationSeconds   float64    `gorm:"column:duration_seconds"`
	PeakDurationMs    float64    `gorm:"column:peak_duration_ms"`
	AvgDurationMs     float64    `gorm:"column:avg_duration_ms"`
	AffectedEndpoints string     `gorm:"column:affected_endpoints;type:json"`
	Severity          string     `gorm:"column:severity;type:varchar(16);not null"`
	Resolved          bool       `gorm:"column:resolved;not null"`
}

// TableName specifies the table name for GORM
func (SLABreachEvent) TableName() string {
	return "sla_breach_events"
}

// SLAAlertRecord is the GORM model for the sla_alerts table.
type SLAAlertRecord struct {
	ID                    int64     `gorm:"primaryKey;column:id"`
	Severity              string    `gorm:"column:severity;type:varchar(16);not null"`
	Message               string    `gorm:"column:message;type:text"`
	CurrentValueMs        float64   `gorm:"column:current_value_ms"`
	ThresholdMs           float64   `gorm:"column:threshold_ms"`
	BreachDurationMinutes float64   `gorm:"column:breach_duration_minutes"`
	AffectedEndpoints     string    `gorm:"column:affected_endpoints;type:json"`
	ActionRequired        bool      `gorm:"column:action_required;not null"`
	CreatedAt             time.Time `gorm:"column:created_at;autoCreateTime;index"`
}

// TableName specifies the table name for GORM
func (SLAAlertRecord) TableName() string {
	return "sla_alerts"
}

// SLAStore implements biz.SLARepo on MySQL. Samples are the hot path of
// every request, so they are written through a buffered channel by a single
// background writer instead of blocking the caller on an INSERT.
type SLAStore struct {
	db         *gorm.DB
	sampleChan chan *SLASample
	logger     *log.Helper
}

// NewSLAStore creates the SLA time-series store and migrates its tables.
func NewSLAStore(db *gorm.DB, logger log.Logger) (*SLAStore, error) {
	if err := db.AutoMigrate(&SLASample{}, &SLABreachEvent{}, &SLAAlertRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate SLA tables: %w", err)
	}

	s := &SLAStore{
		db:         db,
		sampleChan: make(chan *SLASample, 1000), // Buffer size 1000 to prevent blocking
		logger:     log.NewHelper(logger),
	}

	// Start background goroutine for async sample persistence
	go s.start()

	return s, nil
}

// start drains the sample channel into MySQL.
func (s *SLAStore) start() {
	for sample := range s.sampleChan {
		ctx := context.Background()
		if err := s.db.WithContext(ctx).Create(sample).Error; err != nil {
			s.logger.Errorw("failed to write SLA sample",
				"endpoint", sample.Endpoint,
				"error", err)
		}
	}
}

// SaveSample queues one response-time sample for persistence (non-blocking).
// A full queue drops the sample with a warning; the in-memory rolling window
// already holds it for current metrics.
func (s *SLAStore) SaveSample(ctx context.Context, sample *model.ResponseTimeSample) error {
	row := &SLASample{
		Endpoint:   sample.Endpoint,
		Method:     sample.Method,
		DurationMs: sample.DurationMs,
		StatusCode: sample.StatusCode,
		Timestamp:  sample.Timestamp,
	}

	select {
	case s.sampleChan <- row:
		return nil
	default:
		s.logger.Warnw("SLA sample channel full, dropping sample",
			"endpoint", sample.Endpoint)
		return nil
	}
}

// SaveBreach inserts a new breach event and returns its ID.
func (s *SLAStore) SaveBreach(ctx context.Context, breach *model.BreachEvent) (int64, error) {
	row := &SLABreachEvent{
		StartedAt:         breach.StartedAt,
		EndedAt:           breach.EndedAt,
		DurationSeconds:   breach.Duration.Seconds(),
		PeakDurationMs:    breach.PeakDurationMs,
		AvgDurationMs:     breach.AvgDurationMs,
		AffectedEndpoints: marshalEndpoints(breach.AffectedEndpoints),
		Severity:          string(breach.Severity),
		Resolved:          breach.Resolved,
	}

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return 0, fmt.Errorf("failed to save breach event: %w", err)
	}

	return row.ID, nil
}

// CloseBreach marks a breach event as resolved with its final numbers.
func (s *SLAStore) CloseBreach(ctx context.Context, breach *model.BreachEvent) error {
	result := s.db.WithContext(ctx).
		Model(&SLABreachEvent{}).
		Where("id = ?", breach.ID).
		Updates(map[string]interface{}{
			"ended_at":           breach.EndedAt,
			"duration_seconds":   breach.Duration.Seconds(),
			"peak_duration_ms":   breach.PeakDurationMs,
			"avg_duration_ms":    breach.AvgDurationMs,
			"affected_endpoints": marshalEndpoints(breach.AffectedEndpoints),
			"severity":           string(breach.Severity),
			"resolved":           true,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to close breach event: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("breach event not found: %d", breach.ID)
	}

	return nil
}

// SaveAlert persists one alert for audit/history.
func (s *SLAStore) SaveAlert(ctx context.Context, alert *model.SLAAlert) error {
	row := &SLAAlertRecord{
		Severity:              string(alert.Severity),
		Message:               alert.Message,
		CurrentValueMs:        alert.CurrentValueMs,
		ThresholdMs:           alert.ThresholdMs,
		BreachDurationMinutes: alert.BreachDurationMinutes,
		AffectedEndpoints:     marshalEndpoints(alert.AffectedEndpoints),
		ActionRequired:        alert.ActionRequired,
		CreatedAt:             alert.CreatedAt,
	}

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to save SLA alert: %w", err)
	}

	return nil
}

// SamplesSince returns all samples recorded at or after since, oldest first.
func (s *SLAStore) SamplesSince(ctx context.Context, since time.Time) ([]model.ResponseTimeSample, error) {
	var rows []SLASample
	if err := s.db.WithContext(ctx).
		Where("timestamp >= ?", since).
		Order("timestamp ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query SLA samples: %w", err)
	}

	samples := make([]model.ResponseTimeSample, 0, len(rows))
	for _, row := range rows {
		samples = append(samples, model.ResponseTimeSample{
			Endpoint:   row.Endpoint,
			Method:     row.Method,
			DurationMs: row.DurationMs,
			StatusCode: row.StatusCode,
			Timestamp:  row.Timestamp,
		})
	}

	return samples, nil
}

// BreachesSince returns breach events starting at or after since, newest first.
func (s *SLAStore) BreachesSince(ctx context.Context, since time.Time, limit int) ([]model.BreachEvent, error) {
	var rows []SLABreachEvent
	if err := s.db.WithContext(ctx).
		Where("started_at >= ?", since).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query breach events: %w", err)
	}

	breaches := make([]model.BreachEvent, 0, len(rows))
	for _, row := range rows {
		breaches = append(breaches, model.BreachEvent{
			ID:                row.ID,
			StartedAt:         row.StartedAt,
			EndedAt:           row.EndedAt,
			Duration:          time.Duration(row.DurationSeconds * float64(time.Second)),
			PeakDurationMs:    row.PeakDurationMs,
			AvgDurationMs:     row.AvgDurationMs,
			AffectedEndpoints: unmarshalEndpoints(row.AffectedEndpoints),
			Severity:          model.AlertSeverity(row.Severity),
			Resolved:          row.Resolved,
		})
	}

	return breaches, nil
}

// AlertsSince returns alerts created at or after since, newest first.
func (s *SLAStore) AlertsSince(ctx context.Context, since time.Time, limit int) ([]model.SLAAlert, error) {
	var rows []SLAAlertRecord
	if err := s.db.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query SLA alerts: %w", err)
	}

	alerts := make([]model.SLAAlert, 0, len(rows))
	for _, row := range rows {
		alerts = append(alerts, model.SLAAlert{
			Severity:              model.AlertSeverity(row.Severity),
			Message:               row.Message,
			CurrentValueMs:        row.CurrentValueMs,
			ThresholdMs:           row.ThresholdMs,
			BreachDurationMinutes: row.BreachDurationMinutes,
			AffectedEndpoints:     unmarshalEndpoints(row.AffectedEndpoints),
			ActionRequired:        row.ActionRequired,
			CreatedAt:             row.CreatedAt,
		})
	}

	return alerts, nil
}

// PruneSamplesBefore deletes samples older than cutoff and returns the count.
func (s *SLAStore) PruneSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&SLASample{})

	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune SLA samples: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// ResolveStaleBreaches force-resolves unresolved breach events that started
// before cutoff. Breaches left open across a restart would otherwise dangle
// forever.
func (s *SLAStore) ResolveStaleBreaches(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&SLABreachEvent{}).
		Where("resolved = ? AND started_at < ?", false, cutoff).
		Updates(map[string]interface{}{
			"resolved": true,
			"ended_at": now,
		})

	if result.Error != nil {
		return 0, fmt.Errorf("failed to resolve stale breaches: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// marshalEndpoints serializes the endpoint list for the JSON column.
func marshalEndpoints(endpoints []string) string {
	if len(endpoints) == 0 {
		return "[]"
	}
	data, err := json.Marshal(endpoints)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// unmarshalEndpoints parses the endpoint list from the JSON column.
func unmarshalEndpoints(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" {
		return nil
	}
	var endpoints []string
	if err := json.Unmarshal([]byte(raw), &endpoints); err != nil {
		return nil
	}
	return endpoints
}
