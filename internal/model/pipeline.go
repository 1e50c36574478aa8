// Package model contains shared domain types used across the biz and data layers.
package model

import "time"

// ExecutionStatus is the lifecycle status of one pipeline execution.
type ExecutionStatus string

// StatusPending and StatusTimeout complete the lifecycle enum; executions
// start RUNNING and timeouts finalize as FAILED with a timeout error type.
const (
	StatusPending            ExecutionStatus = "PENDING"
	StatusRunning            ExecutionStatus = "RUNNING"
	StatusCompleted          ExecutionStatus = "COMPLETED"
	StatusFailed             ExecutionStatus = "FAILED"
	StatusTimeout            ExecutionStatus = "TIMEOUT"
	StatusCircuitBreakerOpen ExecutionStatus = "CIRCUIT_BREAKER_OPEN"
)

// Stage identifies one pipeline stage. Each stage owns an independently
// configured circuit breaker.
type Stage string

const (
	StagePreprocessing  Stage = "preprocessing"
	StageBusinessRules  Stage = "business_rules"
	StageWorkflow       Stage = "langgraph_workflow"
	StagePostprocessing Stage = "postprocessing"
	StageDelivery       Stage = "delivery"
)

// Stages lists all pipeline stages in execution order.
var Stages = []Stage{
	StagePreprocessing,
	StageBusinessRules,
	StageWorkflow,
	StagePostprocessing,
	StageDelivery,
}

// StageError records one stage failure in execution order.
type StageError struct {
	Stage      Stage     `json:"stage"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// StageResults holds the typed result of each stage. A nil field means the
// stage has not produced a result yet. Handoff and AutoResponse capture the
// two short-circuit paths.
type StageResults struct {
	Preprocess   *PreprocessResult `json:"preprocess,omitempty"`
	AutoResponse string            `json:"auto_response,omitempty"`
	Rules        *RuleEvaluation   `json:"rules,omitempty"`
	Handoff      *HandoffResult    `json:"handoff,omitempty"`
	Workflow     *WorkflowReply    `json:"workflow,omitempty"`
	Formatted    *FormattedMessage `json:"formatted,omitempty"`
	Delivery     *DeliveryResult   `json:"delivery,omitempty"`
}

// PipelineExecution is the in-flight record of one message being processed.
// It is owned exclusively by one orchestrator call and removed from the
// registry after finalization.
type PipelineExecution struct {
	ID                string
	PhoneNumber       string
	InstanceName      string
	Status            ExecutionStatus
	CurrentStage      Stage
	StartTime         time.Time
	EndTime           time.Time
	StageDurations    map[Stage]time.Duration
	Errors            []StageError
	Results           StageResults
	CacheHits         int
	CacheMisses       int
	BreakerTrips      int
	RecoveryAttempted bool
	RecoveryUsed      bool
}

// CacheHitRatio returns the per-execution cache hit ratio, or -1 when the
// execution performed no cache lookups.
func (e *PipelineExecution) CacheHitRatio() float64 {
	total := e.CacheHits + e.CacheMisses
	if total == 0 {
		return -1
	}
	return float64(e.CacheHits) / float64(total)
}

// ErrorDetails describes why an execution failed.
type ErrorDetails struct {
	FailedStage Stage  `json:"failed_stage"`
	Type        string `json:"type"`
	Reason      string `json:"reason"`
}

// PipelineResult is the final outcome returned to the caller. Every request
// yields a result with some reply text; stage failures surface here as
// fallback responses, never as errors.
type PipelineResult struct {
	ExecutionID     string          `json:"execution_id"`
	Status          ExecutionStatus `json:"status"`
	Success         bool            `json:"success"`
	Response        string          `json:"response"`
	TotalDurationMs int64           `json:"total_duration_ms"`
	StageDurations  map[Stage]int64 `json:"stage_durations_ms"`
	CacheHitRatio   float64         `json:"cache_hit_ratio"`
	Error           *ErrorDetails   `json:"error,omitempty"`
}

// ActiveExecution is the externally visible view of an in-flight execution.
type ActiveExecution struct {
	ID           string          `json:"id"`
	PhoneNumber  string          `json:"phone_number"`
	Status       ExecutionStatus `json:"status"`
	CurrentStage Stage           `json:"current_stage"`
	ElapsedMs    int64           `json:"elapsed_ms"`
}
