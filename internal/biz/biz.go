// Package biz contains the business logic: the pipeline orchestrator, the
// per-stage circuit breakers, and the SLA tracker.
package biz

import (
	"ReplyLane/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers. Interface bindings live here because biz
// consumes the data implementations directly.
var ProviderSet = wire.NewSet(
	NewPipelineOrchestrator,
	NewMetricsAggregator,
	NewSLATracker,
	NewRetentionTask,
	wire.Bind(new(BreakerStateRepo), new(*data.BreakerStateRepo)),
	wire.Bind(new(SLARepo), new(*data.SLAStore)),
	wire.Bind(new(Preprocessor), new(*data.PreprocessorClient)),
	wire.Bind(new(BusinessRulesEngine), new(*data.BusinessRulesClient)),
	wire.Bind(new(ConversationWorkflow), new(*data.WorkflowClient)),
	wire.Bind(new(Postprocessor), new(*data.PostprocessorClient)),
)
