package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"ReplyLane/internal/conf"
	"ReplyLane/internal/data"
	"ReplyLane/internal/model"
	pkgerrors "ReplyLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// PipelineRequest is one inbound chat message to process.
type PipelineRequest struct {
	Message           string
	Headers           map[string]string
	PhoneNumber       string
	Instance          string
	SkipPreprocessing bool
}

// PipelineOrchestrator turns one inbound message into one delivered reply
// through five sequential stages, each gated by its own circuit breaker.
// Stage failures never propagate to the caller; every request yields a reply,
// falling back to canned messages when a stage fails. There are no
// intra-execution retries: resilience comes from breakers preventing repeated
// attempts across executions.
type PipelineOrchestrator struct {
	workflowTimeout time.Duration
	cacheTTL        time.Duration
	handoffPhone    string
	handoffHours    string

	breakers map[model.Stage]*CircuitBreaker

	pre      Preprocessor
	rules    BusinessRulesEngine
	workflow ConversationWorkflow
	post     Postprocessor

	cache   data.CacheClient
	metrics *MetricsAggregator

	mu       sync.RWMutex
	inflight map[string]*model.PipelineExecution

	logger *log.Helper
}

// NewPipelineOrchestrator creates the orchestrator with one breaker per
// stage, restoring persisted breaker state through the repo.
func NewPipelineOrchestrator(
	c *conf.Pipeline,
	repo BreakerStateRepo,
	cache data.CacheClient,
	pre Preprocessor,
	rules BusinessRulesEngine,
	workflow ConversationWorkflow,
	post Postprocessor,
	metrics *MetricsAggregator,
	logger log.Logger,
) *PipelineOrchestrator {
	breakers := make(map[model.Stage]*CircuitBreaker, len(c.Breakers))
	for _, policy := range c.Breakers {
		stage := model.Stage(policy.Stage)
		breakers[stage] = NewCircuitBreaker(
			policy.Stage,
			policy.FailureThreshold,
			policy.RecoveryTimeout.AsDuration(),
			repo,
			logger,
		)
	}

	return &PipelineOrchestrator{
		workflowTimeout: c.WorkflowTimeout.AsDuration(),
		cacheTTL:        c.PreprocessCacheTtl.AsDuration(),
		handoffPhone:    c.Handoff.ContactPhone,
		handoffHours:    c.Handoff.Availability,
		breakers:        breakers,
		pre:             pre,
		rules:           rules,
		workflow:        workflow,
		post:            post,
		cache:           cache,
		metrics:         metrics,
		inflight:        make(map[string]*model.PipelineExecution),
		logger:          log.NewHelper(logger),
	}
}

// ExecutePipeline processes one message end to end. It never returns an
// error: stage failures become fallback replies in the result.
func (p *PipelineOrchestrator) ExecutePipeline(ctx context.Context, req *PipelineRequest) (result *model.PipelineResult) {
	exec := &model.PipelineExecution{
		ID:             uuid.NewString(),
		PhoneNumber:    req.PhoneNumber,
		InstanceName:   req.Instance,
		Status:         model.StatusRunning,
		StartTime:      time.Now(),
		StageDurations: make(map[model.Stage]time.Duration),
	}

	p.register(exec)
	defer p.unregister(exec.ID)

	// Only a genuinely unexpected panic reaches here; stage failures are
	// caught and classified below
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorw("unexpected pipeline panic",
				"execution_id", exec.ID,
				"panic", r)
			result = p.finalize(ctx, exec, "", fmt.Errorf("unexpected pipeline failure: %v", r))
		}
	}()

	response, err := p.runStages(ctx, exec, req)
	return p.finalize(ctx, exec, response, err)
}

// runStages sequences the five stages and the two short-circuit paths.
func (p *PipelineOrchestrator) runStages(ctx context.Context, exec *model.PipelineExecution, req *PipelineRequest) (string, error) {
	message := req.Message
	var pctx map[string]string

	// Stage 1: preprocessing (skippable when the caller pre-validated)
	if !req.SkipPreprocessing {
		pre, err := p.runPreprocessing(ctx, exec, req)
		if err != nil {
			return "", err
		}

		// Outside business hours the preprocessor supplies the canned reply
		// and the rest of the pipeline is skipped
		if pre.BusinessHoursResponse != "" {
			exec.Results.AutoResponse = pre.BusinessHoursResponse
			return pre.BusinessHoursResponse, nil
		}

		if pre.SanitizedMessage != "" {
			message = pre.SanitizedMessage
		}
		pctx = pre.PreparedContext
	}

	// Stage 2: business rules
	eval, err := p.runBusinessRules(ctx, exec, message, pctx)
	if err != nil {
		return "", err
	}

	var responseText string
	if eval.HandoffRequired {
		// Human escalation: compose the handoff reply and skip the workflow
		// stage entirely
		handoff := p.composeHandoff()
		exec.Results.Handoff = handoff
		responseText = handoff.Message

		p.logger.Infow("handoff requested, skipping workflow",
			"execution_id", exec.ID,
			"phone", req.PhoneNumber)
	} else {
		// Stage 3: conversation workflow under a hard timeout
		reply, err := p.runWorkflow(ctx, exec, req.PhoneNumber, message, req.Instance)
		if err != nil {
			return "", err
		}
		responseText = reply.ResponseText
	}

	// Stage 4: response formatting
	formatted, err := p.runFormatting(ctx, exec, responseText, req.PhoneNumber, pctx)
	if err != nil {
		return "", err
	}

	// Stage 5: delivery
	if err := p.runDelivery(ctx, exec, formatted, req.Instance); err != nil {
		return "", err
	}

	return formatted.Content, nil
}

// runPreprocessing gates, consults the sanitized-message cache, and invokes
// the preprocessor on a miss.
func (p *PipelineOrchestrator) runPreprocessing(ctx context.Context, exec *model.PipelineExecution, req *PipelineRequest) (*model.PreprocessResult, error) {
	stage := model.StagePreprocessing
	p.setStage(exec, stage)
	defer p.timeStage(exec, stage)()

	cb := p.breakers[stage]
	if !cb.CanExecute(ctx) {
		exec.BreakerTrips++
		return nil, &pkgerrors.CircuitOpenError{Stage: string(stage)}
	}

	key := data.BuildCacheKey(data.CacheKeyPreprocess, contentHash(req.PhoneNumber, req.Message))
	if p.cache != nil {
		var cached model.PreprocessResult
		if err := p.cache.Get(ctx, key, &cached); err == nil {
			exec.CacheHits++
			exec.Results.Preprocess = &cached
			return &cached, nil
		}
		exec.CacheMisses++
	}

	result, err := p.pre.Process(ctx, req.Message, req.Headers)
	if err != nil {
		cb.RecordFailure(ctx)
		p.recordError(exec, stage, err)
		return nil, &pkgerrors.StageFailureError{Stage: string(stage), Err: err}
	}
	if !result.Success {
		cb.RecordFailure(ctx)
		err := fmt.Errorf("preprocessor rejected message: %s", result.Error)
		p.recordError(exec, stage, err)
		return nil, &pkgerrors.StageFailureError{Stage: string(stage), Err: err}
	}

	cb.RecordSuccess(ctx)
	exec.Results.Preprocess = result

	if p.cache != nil {
		if err := p.cache.Set(ctx, key, result, p.cacheTTL); err != nil {
			p.logger.Warnw("failed to cache preprocess result (degraded mode)",
				"execution_id", exec.ID,
				"error", err)
		}
	}

	return result, nil
}

// runBusinessRules gates and invokes the rules engine.
func (p *PipelineOrchestrator) runBusinessRules(ctx context.Context, exec *model.PipelineExecution, message string, pctx map[string]string) (*model.RuleEvaluation, error) {
	stage := model.StageBusinessRules
	p.setStage(exec, stage)
	defer p.timeStage(exec, stage)()

	cb := p.breakers[stage]
	if !cb.CanExecute(ctx) {
		exec.BreakerTrips++
		return nil, &pkgerrors.CircuitOpenError{Stage: string(stage)}
	}

	eval, err := p.rules.Evaluate(ctx, message, pctx, nil)
	if err != nil {
		cb.RecordFailure(ctx)
		p.recordError(exec, stage, err)
		return nil, &pkgerrors.StageFailureError{Stage: string(stage), Err: err}
	}

	cb.RecordSuccess(ctx)
	exec.Results.Rules = eval

	if len(eval.ComplianceIssues) > 0 {
		p.logger.Warnw("compliance issues flagged",
			"execution_id", exec.ID,
			"issues", eval.ComplianceIssues)
	}

	return eval, nil
}

// runWorkflow gates and invokes the conversation workflow under a hard
// timeout. The deadline holds even if the collaborator ignores its context;
// a timeout is a distinct failure path from a handler error.
func (p *PipelineOrchestrator) runWorkflow(ctx context.Context, exec *model.PipelineExecution, phone, message, instance string) (*model.WorkflowReply, error) {
	stage := model.StageWorkflow
	p.setStage(exec, stage)
	defer p.timeStage(exec, stage)()

	cb := p.breakers[stage]
	if !cb.CanExecute(ctx) {
		exec.BreakerTrips++
		return nil, &pkgerrors.CircuitOpenError{Stage: string(stage)}
	}

	wfCtx, cancel := context.WithTimeout(ctx, p.workflowTimeout)
	defer cancel()

	type workflowOut struct {
		reply *model.WorkflowReply
		err   error
	}
	out := make(chan workflowOut, 1)

	go func() {
		reply, err := p.workflow.ProcessMessage(wfCtx, phone, message, instance)
		out <- workflowOut{reply: reply, err: err}
	}()

	select {
	case res := <-out:
		if res.err != nil {
			cb.RecordFailure(ctx)
			p.recordError(exec, stage, res.err)
			return nil, &pkgerrors.StageFailureError{Stage: string(stage), Err: res.err}
		}
		if res.reply == nil || res.reply.ResponseText == "" {
			cb.RecordFailure(ctx)
			err := fmt.Errorf("workflow returned an empty response")
			p.recordError(exec, stage, err)
			return nil, &pkgerrors.StageFailureError{Stage: string(stage), Err: err}
		}

		cb.RecordSuccess(ctx)
		exec.Results.Workflow = res.reply
		return res.reply, nil

	case <-wfCtx.Done():
		cb.RecordFailure(ctx)
		err := &pkgerrors.StageTimeoutError{Stage: string(stage), Timeout: p.workflowTimeout}
		p.recordError(exec, stage, err)
		return nil, err
	}
}

// runFormatting gates and invokes the response formatter.
func (p *PipelineOrchestrator) runFormatting(ctx context.Context, exec *model.PipelineExecution, response, phone string, pctx map[string]string) (*model.FormattedMessage, error) {
	stage := model.StagePostprocessing
	p.setStage(exec, stage)
	defer p.timeStage(exec, stage)()

	cb := p.breakers[stage]
	if !cb.CanExecute(ctx) {
		exec.BreakerTrips++
		return nil, &pkgerrors.CircuitOpenError{Stage: string(stage)}
	}

	formatted, err := p.post.Format(ctx, response, phone, pctx)
	if err != nil {
		cb.RecordFailure(ctx)
		p.recordError(exec, stage, err)
		return nil, &pkgerrors.StageFailureError{Stage: string(stage), Err: err}
	}

	cb.RecordSuccess(ctx)
	exec.Results.Formatted = formatted
	return formatted, nil
}

// runDelivery gates and invokes delivery.
func (p *PipelineOrchestrator) runDelivery(ctx context.Context, exec *model.PipelineExecution, formatted *model.FormattedMessage, instance string) error {
	stage := model.StageDelivery
	p.setStage(exec, stage)
	defer p.timeStage(exec, stage)()

	cb := p.breakers[stage]
	if !cb.CanExecute(ctx) {
		exec.BreakerTrips++
		return &pkgerrors.CircuitOpenError{Stage: string(stage)}
	}

	res, err := p.post.Deliver(ctx, formatted, instance)
	if err != nil {
		cb.RecordFailure(ctx)
		p.recordError(exec, stage, err)
		return &pkgerrors.StageFailureError{Stage: string(stage), Err: err}
	}
	if !res.Success {
		cb.RecordFailure(ctx)
		err := fmt.Errorf("provider rejected delivery: %s", res.Error)
		p.recordError(exec, stage, err)
		return &pkgerrors.StageFailureError{Stage: string(stage), Err: err}
	}

	cb.RecordSuccess(ctx)
	exec.Results.Delivery = res
	return nil
}

// finalize classifies the outcome, applies the single fallback attempt on
// failure, updates process-wide counters, and builds the result.
func (p *PipelineOrchestrator) finalize(ctx context.Context, exec *model.PipelineExecution, response string, err error) *model.PipelineResult {
	exec.EndTime = time.Now()
	totalMs := exec.EndTime.Sub(exec.StartTime).Milliseconds()

	result := &model.PipelineResult{
		ExecutionID:     exec.ID,
		TotalDurationMs: totalMs,
		StageDurations:  make(map[model.Stage]int64, len(exec.StageDurations)),
	}
	for stage, d := range exec.StageDurations {
		result.StageDurations[stage] = d.Milliseconds()
	}

	if ratio := exec.CacheHitRatio(); ratio >= 0 {
		result.CacheHitRatio = ratio
	}

	if err == nil {
		p.setStatus(exec, model.StatusCompleted)
		result.Status = model.StatusCompleted
		result.Success = true
		result.Response = response
	} else {
		failedStage, errType := classifyStageError(err)

		if pkgerrors.IsCircuitOpen(err) {
			p.setStatus(exec, model.StatusCircuitBreakerOpen)
		} else {
			p.setStatus(exec, model.StatusFailed)
		}
		result.Status = exec.Status

		// At most one fallback attempt per failed stage; the hardcoded
		// ultimate fallback guarantees some reply
		exec.RecoveryAttempted = true
		if msg, ok := fallbackMessages[failedStage]; ok {
			exec.RecoveryUsed = true
			result.Response = msg
		} else {
			result.Response = ultimateFallback
		}

		result.Error = &model.ErrorDetails{
			FailedStage: failedStage,
			Type:        errType,
			Reason:      err.Error(),
		}

		p.logger.Errorw("pipeline execution failed",
			"execution_id", exec.ID,
			"failed_stage", failedStage,
			"error_type", errType,
			"error", err)
	}

	p.metrics.Update(ExecutionOutcome{
		Success:           result.Success,
		DurationMs:        totalMs,
		CacheHitRatio:     exec.CacheHitRatio(),
		RecoveryAttempted: exec.RecoveryAttempted,
		RecoveryUsed:      exec.RecoveryUsed,
	})

	return result
}

// BreakerStatus is the externally visible state of one stage breaker.
type BreakerStatus struct {
	IsOpen          bool       `json:"is_open"`
	FailureCount    int        `json:"failure_count"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
}

// PerformanceMetrics combines aggregate counters with per-stage breaker
// status and the derived health verdict.
type PerformanceMetrics struct {
	PerformanceSnapshot
	Health   string                        `json:"health"`
	Breakers map[model.Stage]BreakerStatus `json:"breakers"`
}

// GetPerformanceMetrics returns aggregate counters, rates, per-stage breaker
// status, and overall health.
func (p *PipelineOrchestrator) GetPerformanceMetrics() *PerformanceMetrics {
	snap := p.metrics.Snapshot()

	breakers := make(map[model.Stage]BreakerStatus, len(p.breakers))
	for stage, cb := range p.breakers {
		state := cb.Snapshot()
		breakers[stage] = BreakerStatus{
			IsOpen:          state.IsOpen,
			FailureCount:    state.FailureCount,
			LastFailureTime: state.LastFailureTime,
		}
	}

	health := "degraded"
	if snap.SuccessRate > 95.0 && snap.SLAComplianceRate > 90.0 {
		health = "healthy"
	}

	return &PerformanceMetrics{
		PerformanceSnapshot: snap,
		Health:              health,
		Breakers:            breakers,
	}
}

// GetActiveExecutions lists in-flight executions with their current stage.
func (p *PipelineOrchestrator) GetActiveExecutions() []model.ActiveExecution {
	p.mu.RLock()
	defer p.mu.RUnlock()

	now := time.Now()
	active := make([]model.ActiveExecution, 0, len(p.inflight))
	for _, exec := range p.inflight {
		active = append(active, model.ActiveExecution{
			ID:           exec.ID,
			PhoneNumber:  exec.PhoneNumber,
			Status:       exec.Status,
			CurrentStage: exec.CurrentStage,
			ElapsedMs:    now.Sub(exec.StartTime).Milliseconds(),
		})
	}

	return active
}

// ResetCircuitBreakers clears all breaker state, in memory and persisted.
func (p *PipelineOrchestrator) ResetCircuitBreakers(ctx context.Context) error {
	for stage, cb := range p.breakers {
		if err := cb.Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset breaker %s: %w", stage, err)
		}
	}

	p.logger.Info("all circuit breakers reset")
	return nil
}

func (p *PipelineOrchestrator) register(exec *model.PipelineExecution) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight[exec.ID] = exec
}

func (p *PipelineOrchestrator) unregister(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, id)
}

// setStage and setStatus hold p.mu because GetActiveExecutions reads these
// fields from other goroutines.
func (p *PipelineOrchestrator) setStage(exec *model.PipelineExecution, stage model.Stage) {
	p.mu.Lock()
	exec.CurrentStage = stage
	p.mu.Unlock()
}

func (p *PipelineOrchestrator) setStatus(exec *model.PipelineExecution, status model.ExecutionStatus) {
	p.mu.Lock()
	exec.Status = status
	p.mu.Unlock()
}

// timeStage records the stage duration when the returned func runs.
func (p *PipelineOrchestrator) timeStage(exec *model.PipelineExecution, stage model.Stage) func() {
	start := time.Now()
	return func() {
		exec.StageDurations[stage] = time.Since(start)
	}
}

// recordError appends to the execution's ordered error list.
func (p *PipelineOrchestrator) recordError(exec *model.PipelineExecution, stage model.Stage, err error) {
	exec.Errors = append(exec.Errors, model.StageError{
		Stage:      stage,
		Message:    err.Error(),
		OccurredAt: time.Now(),
	})
}

// composeHandoff builds the human-escalation reply from config.
func (p *PipelineOrchestrator) composeHandoff() *model.HandoffResult {
	return &model.HandoffResult{
		Message: fmt.Sprintf(
			"Our team will take this conversation from here. You can reach us at %s, available %s.",
			p.handoffPhone, p.handoffHours),
		ContactPhone: p.handoffPhone,
		Availability: p.handoffHours,
	}
}

// classifyStageError extracts the failed stage and error type from the
// taxonomy.
func classifyStageError(err error) (model.Stage, string) {
	var open *pkgerrors.CircuitOpenError
	if stderrors.As(err, &open) {
		return model.Stage(open.Stage), "circuit_open"
	}

	var timeout *pkgerrors.StageTimeoutError
	if stderrors.As(err, &timeout) {
		return model.Stage(timeout.Stage), "timeout"
	}

	var failure *pkgerrors.StageFailureError
	if stderrors.As(err, &failure) {
		if pkgerrors.IsCollaboratorConfig(failure.Err) {
			return model.Stage(failure.Stage), "collaborator_config"
		}
		return model.Stage(failure.Stage), "stage_failure"
	}

	return "", "internal"
}

// contentHash keys the sanitized-message cache by message content.
func contentHash(phone, message string) string {
	sum := sha256.Sum256([]byte(phone + "\x00" + message))
	return hex.EncodeToString(sum[:])
}
