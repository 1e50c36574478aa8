package service

import (
	"context"

	"ReplyLane/internal/biz"
	"ReplyLane/internal/model"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// BreachStatusReply is the payload of GET /v1/sla/breach.
type BreachStatusReply struct {
	InBreach bool            `json:"in_breach"`
	Status   model.SLAStatus `json:"status"`
}

// SLAService exposes the response-time tracking views.
type SLAService struct {
	tracker *biz.SLATracker
	logger  *log.Helper
}

// NewSLAService creates a new SLAService instance.
func NewSLAService(tracker *biz.SLATracker, logger log.Logger) *SLAService {
	return &SLAService{
		tracker: tracker,
		logger:  log.NewHelper(logger),
	}
}

// Current returns the rolling-window snapshot.
func (s *SLAService) Current(ctx context.Context) (*model.SLAMetricsSnapshot, error) {
	return s.tracker.GetCurrentMetrics(), nil
}

// Summary returns the historical view over the last N hours.
func (s *SLAService) Summary(ctx context.Context, hours int) (*model.SLASummary, error) {
	summary, err := s.tracker.GetSLASummary(ctx, hours)
	if err != nil {
		s.logger.Errorw("failed to build SLA summary", "hours", hours, "error", err)
		return nil, errors.InternalServer("SLA_SUMMARY_FAILED", err.Error())
	}
	return summary, nil
}

// Breach reports whether a breach period is currently open.
func (s *SLAService) Breach(ctx context.Context) (*BreachStatusReply, error) {
	return &BreachStatusReply{
		InBreach: s.tracker.IsInBreach(),
		Status:   s.tracker.GetCurrentMetrics().Status,
	}, nil
}
