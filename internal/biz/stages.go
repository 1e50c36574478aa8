package biz

import (
	"context"

	"ReplyLane/internal/model"
)

// Collaborator contracts consumed by the pipeline. Following Kratos v2 DDD
// architecture, interfaces are defined in the biz layer and implemented in
// data (as HTTP clients to the external services).

// Preprocessor sanitizes one inbound message and prepares its context.
type Preprocessor interface {
	Process(ctx context.Context, message string, headers map[string]string) (*model.PreprocessResult, error)
}

// BusinessRulesEngine evaluates business rules against a message.
type BusinessRulesEngine interface {
	Evaluate(ctx context.Context, message string, pctx map[string]string, ruleTypes []string) (*model.RuleEvaluation, error)
}

// ConversationWorkflow advances the conversation state machine. Calls are
// awaited under a hard timeout by the orchestrator.
type ConversationWorkflow interface {
	ProcessMessage(ctx context.Context, phone, message, instance string) (*model.WorkflowReply, error)
}

// Postprocessor formats the response and delivers it to the provider.
type Postprocessor interface {
	Format(ctx context.Context, response, phone string, pctx map[string]string) (*model.FormattedMessage, error)
	Deliver(ctx context.Context, message *model.FormattedMessage, instance string) (*model.DeliveryResult, error)
}

// fallbackMessages holds the one canned reply per stage used when that stage
// fails. User-visible text only; internal errors never leak into replies.
var fallbackMessages = map[model.Stage]string{
	model.StagePreprocessing:  "We received your message but could not read it correctly. Could you rephrase it? If it is urgent, reply CALL and an agent will contact you.",
	model.StageBusinessRules:  "We cannot validate your request automatically right now. An agent will review it and get back to you shortly.",
	model.StageWorkflow:       "Our assistant is taking longer than expected. An agent will continue this conversation with you shortly.",
	model.StagePostprocessing: "We prepared an answer but could not format it for delivery. An agent will follow up with you directly.",
	model.StageDelivery:       "We could not deliver our reply through this channel. Please try again in a few minutes or reply CALL to be contacted.",
}

// ultimateFallback is the hardcoded last-resort reply guaranteeing every
// request yields some answer.
const ultimateFallback = "We are experiencing a temporary issue processing your message. An agent has been notified and will contact you as soon as possible."
