package service

import (
	"context"

	"ReplyLane/internal/biz"
	"ReplyLane/internal/model"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// executeEndpoint is the endpoint label under which pipeline executions are
// recorded in the SLA tracker.
const executeEndpoint = "/v1/pipeline/execute"

// ExecuteRequest is the payload of POST /v1/pipeline/execute.
type ExecuteRequest struct {
	Message           string            `json:"message"`
	PhoneNumber       string            `json:"phone_number"`
	Instance          string            `json:"instance,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"`
	SkipPreprocessing bool              `json:"skip_preprocessing,omitempty"`
}

// ExecuteReply wraps the pipeline result with the SLA view of the request.
type ExecuteReply struct {
	*model.PipelineResult
	SLA *model.SLAMetricsSnapshot `json:"sla,omitempty"`
}

// ResetBreakersReply is the payload of POST /v1/pipeline/breakers/reset.
type ResetBreakersReply struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ActiveExecutionsReply is the payload of GET /v1/pipeline/executions.
type ActiveExecutionsReply struct {
	Count      int                     `json:"count"`
	Executions []model.ActiveExecution `json:"executions"`
}

// PipelineService handles message-pipeline requests.
type PipelineService struct {
	orchestrator *biz.PipelineOrchestrator
	tracker      *biz.SLATracker
	logger       *log.Helper
}

// NewPipelineService creates a new PipelineService instance.
func NewPipelineService(orchestrator *biz.PipelineOrchestrator, tracker *biz.SLATracker, logger log.Logger) *PipelineService {
	return &PipelineService{
		orchestrator: orchestrator,
		tracker:      tracker,
		logger:       log.NewHelper(logger),
	}
}

// Execute runs one message through the pipeline and records the execution in
// the SLA tracker. Transport errors occur only on invalid input; pipeline
// failures still return 200 with a fallback reply in the body.
func (s *PipelineService) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteReply, error) {
	if req.Message == "" {
		return nil, errors.BadRequest("MESSAGE_REQUIRED", "message must not be empty")
	}
	if req.PhoneNumber == "" {
		return nil, errors.BadRequest("PHONE_REQUIRED", "phone_number must not be empty")
	}

	s.logger.Infow("Execute called",
		"phone", req.PhoneNumber,
		"instance", req.Instance)

	result := s.orchestrator.ExecutePipeline(ctx, &biz.PipelineRequest{
		Message:           req.Message,
		Headers:           req.Headers,
		PhoneNumber:       req.PhoneNumber,
		Instance:          req.Instance,
		SkipPreprocessing: req.SkipPreprocessing,
	})

	statusCode := 200
	if !result.Success {
		statusCode = 500
	}
	snapshot, alert := s.tracker.RecordResponseTime(ctx, executeEndpoint, "POST",
		float64(result.TotalDurationMs), statusCode)

	if alert != nil {
		s.logger.Warnw("SLA alert raised",
			"severity", alert.Severity,
			"message", alert.Message,
			"action_required", alert.ActionRequired)
	}

	return &ExecuteReply{
		PipelineResult: result,
		SLA:            snapshot,
	}, nil
}

// Metrics returns aggregate pipeline counters, breaker status, and health.
func (s *PipelineService) Metrics(ctx context.Context) (*biz.PerformanceMetrics, error) {
	return s.orchestrator.GetPerformanceMetrics(), nil
}

// ActiveExecutions lists in-flight executions.
func (s *PipelineService) ActiveExecutions(ctx context.Context) (*ActiveExecutionsReply, error) {
	active := s.orchestrator.GetActiveExecutions()
	return &ActiveExecutionsReply{
		Count:      len(active),
		Executions: active,
	}, nil
}

// ResetBreakers clears all circuit breaker state.
func (s *PipelineService) ResetBreakers(ctx context.Context) (*ResetBreakersReply, error) {
	s.logger.Infow("ResetBreakers called")

	if err := s.orchestrator.ResetCircuitBreakers(ctx); err != nil {
		s.logger.Errorw("failed to reset circuit breakers", "error", err)
		return nil, errors.InternalServer("BREAKER_RESET_FAILED", err.Error())
	}

	return &ResetBreakersReply{
		Success: true,
		Message: "All circuit breakers reset",
	}, nil
}
