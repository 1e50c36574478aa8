package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ReplyLane/internal/conf"
	"ReplyLane/internal/model"
	pkgerrors "ReplyLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// userAgent identifies ReplyLane to collaborator services.
const userAgent = "ReplyLane/1.0"

// collabClient is a JSON-over-HTTP client for one external collaborator.
// Collaborators own their own retry and idempotency semantics; the pipeline
// deliberately performs no intra-execution retries, so neither does this
// client.
type collabClient struct {
	name    string
	baseURL string
	client  *http.Client
	logger  *log.Helper
}

func newCollabClient(name, baseURL string, timeout time.Duration, logger log.Logger) *collabClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &collabClient{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  log.NewHelper(logger),
	}
}

// post sends a JSON request to path and decodes the JSON response into out.
func (c *collabClient) post(ctx context.Context, path string, in, out interface{}) error {
	if c.baseURL == "" {
		return &pkgerrors.CollaboratorConfigError{
			Collaborator: c.name,
			Reason:       "base URL is not configured",
		}
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal request: %w", c.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", c.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d: %s", c.name, resp.StatusCode, truncate(string(body), 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", c.name, err)
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// PreprocessorClient calls the message preprocessing service.
type PreprocessorClient struct {
	*collabClient
}

// NewPreprocessorClient creates the preprocessor collaborator client.
func NewPreprocessorClient(c *conf.Pipeline, logger log.Logger) *PreprocessorClient {
	return &PreprocessorClient{
		collabClient: newCollabClient("preprocessor",
			c.Collaborators.PreprocessorUrl,
			c.Collaborators.Timeout.AsDuration(),
			logger),
	}
}

// Process sanitizes and contextualizes one inbound message.
func (c *PreprocessorClient) Process(ctx context.Context, message string, headers map[string]string) (*model.PreprocessResult, error) {
	req := struct {
		Message string            `json:"message"`
		Headers map[string]string `json:"headers,omitempty"`
	}{Message: message, Headers: headers}

	var result model.PreprocessResult
	if err := c.post(ctx, "/process", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BusinessRulesClient calls the business-rules evaluation service.
type BusinessRulesClient struct {
	*collabClient
}

// NewBusinessRulesClient creates the business-rules collaborator client.
func NewBusinessRulesClient(c *conf.Pipeline, logger log.Logger) *BusinessRulesClient {
	return &BusinessRulesClient{
		collabClient: newCollabClient("business_rules",
			c.Collaborators.RulesUrl,
			c.Collaborators.Timeout.AsDuration(),
			logger),
	}
}

// Evaluate runs the requested rule types against the message and context.
func (c *BusinessRulesClient) Evaluate(ctx context.Context, message string, pctx map[string]string, ruleTypes []string) (*model.RuleEvaluation, error) {
	req := struct {
		Message   string            `json:"message"`
		Context   map[string]string `json:"context,omitempty"`
		RuleTypes []string          `json:"rule_types,omitempty"`
	}{Message: message, Context: pctx, RuleTypes: ruleTypes}

	var result model.RuleEvaluation
	if err := c.post(ctx, "/evaluate", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// WorkflowClient calls the conversation-workflow engine.
type WorkflowClient struct {
	*collabClient
}

// NewWorkflowClient creates the workflow collaborator client.
func NewWorkflowClient(c *conf.Pipeline, logger log.Logger) *WorkflowClient {
	return &WorkflowClient{
		collabClient: newCollabClient("langgraph_workflow",
			c.Collaborators.WorkflowUrl,
			c.Collaborators.Timeout.AsDuration(),
			logger),
	}
}

// ProcessMessage advances the conversation for one phone number.
func (c *WorkflowClient) ProcessMessage(ctx context.Context, phone, message, instance string) (*model.WorkflowReply, error) {
	req := struct {
		Phone    string `json:"phone"`
		Message  string `json:"message"`
		Instance string `json:"instance,omitempty"`
	}{Phone: phone, Message: message, Instance: instance}

	var result model.WorkflowReply
	if err := c.post(ctx, "/process_message", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PostprocessorClient calls the response formatting and delivery service.
type PostprocessorClient struct {
	*collabClient
}

// NewPostprocessorClient creates the postprocessor collaborator client.
func NewPostprocessorClient(c *conf.Pipeline, logger log.Logger) *PostprocessorClient {
	return &PostprocessorClient{
		collabClient: newCollabClient("postprocessor",
			c.Collaborators.PostprocessorUrl,
			c.Collaborators.Timeout.AsDuration(),
			logger),
	}
}

// Format renders the response text into a deliverable message.
func (c *PostprocessorClient) Format(ctx context.Context, response, phone string, pctx map[string]string) (*model.FormattedMessage, error) {
	req := struct {
		Response string            `json:"response"`
		Phone    string            `json:"phone"`
		Context  map[string]string `json:"context,omitempty"`
	}{Response: response, Phone: phone, Context: pctx}

	var result model.FormattedMessage
	if err := c.post(ctx, "/format", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Deliver sends the formatted message through the provider instance.
func (c *PostprocessorClient) Deliver(ctx context.Context, message *model.FormattedMessage, instance string) (*model.DeliveryResult, error) {
	req := struct {
		Message  *model.FormattedMessage `json:"message"`
		Instance string                  `json:"instance,omitempty"`
	}{Message: message, Instance: instance}

	var result model.DeliveryResult
	if err := c.post(ctx, "/deliver", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
