package model

// PreprocessResult is the outcome of the preprocessing collaborator.
// BusinessHoursResponse, when non-empty, short-circuits the pipeline with a
// canned after-hours reply.
type PreprocessResult struct {
	Success               bool              `json:"success"`
	SanitizedMessage      string            `json:"sanitized_message"`
	PreparedContext       map[string]string `json:"prepared_context,omitempty"`
	BusinessHoursResponse string            `json:"business_hours_response,omitempty"`
	Error                 string            `json:"error,omitempty"`
}

// RuleResult is the outcome of a single business rule.
type RuleResult struct {
	Passed  bool              `json:"passed"`
	Message string            `json:"message,omitempty"`
	Data    map[string]string `json:"data,omitempty"`
}

// RuleEvaluation is the outcome of the business-rules collaborator.
type RuleEvaluation struct {
	Results          map[string]RuleResult `json:"results,omitempty"`
	HandoffRequired  bool                  `json:"handoff_required"`
	ComplianceIssues []string              `json:"compliance_issues,omitempty"`
}

// HandoffResult records the human-escalation short-circuit: the composed
// message plus the contact details it was built from.
type HandoffResult struct {
	Message      string `json:"message"`
	ContactPhone string `json:"contact_phone"`
	Availability string `json:"availability"`
}

// WorkflowReply is the outcome of the conversation-workflow collaborator.
type WorkflowReply struct {
	ResponseText string            `json:"response_text"`
	Stage        string            `json:"stage,omitempty"`
	Step         string            `json:"step,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// FormattedMessage is the outcome of the response-formatting collaborator.
type FormattedMessage struct {
	Content          string `json:"content"`
	TemplateID       string `json:"template_id,omitempty"`
	CalendarEventID  string `json:"calendar_event_id,omitempty"`
	FormattingTimeMs int64  `json:"formatting_time_ms"`
}

// DeliveryResult is the outcome of the delivery collaborator.
type DeliveryResult struct {
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Status            string `json:"status,omitempty"`
	Error             string `json:"error,omitempty"`
}
