package biz

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"ReplyLane/internal/conf"
	"ReplyLane/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

type fakePreprocessor struct {
	result *fakePreprocessorResult
	calls  int
}

type fakePreprocessorResult struct {
	res *model.PreprocessResult
	err error
}

func (f *fakePreprocessor) Process(_ context.Context, message string, _ map[string]string) (*model.PreprocessResult, error) {
	f.calls++
	if f.result != nil {
		return f.result.res, f.result.err
	}
	return &model.PreprocessResult{Success: true, SanitizedMessage: message}, nil
}

type fakeRulesEngine struct {
	eval  *model.RuleEvaluation
	err   error
	calls int
}

func (f *fakeRulesEngine) Evaluate(context.Context, string, map[string]string, []string) (*model.RuleEvaluation, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.eval != nil {
		return f.eval, nil
	}
	return &model.RuleEvaluation{}, nil
}

type fakeWorkflow struct {
	reply *model.WorkflowReply
	err   error
	delay time.Duration
	calls int
}

func (f *fakeWorkflow) ProcessMessage(context.Context, string, string, string) (*model.WorkflowReply, error) {
	f.calls++
	if f.delay > 0 {
		// Deliberately ignores the context to exercise the hard timeout
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.reply != nil {
		return f.reply, nil
	}
	return &model.WorkflowReply{ResponseText: "Thanks for reaching out, how can I help?"}, nil
}

type fakePostprocessor struct {
	formatErr  error
	deliverErr error
	deliverRes *model.DeliveryResult
}

func (f *fakePostprocessor) Format(_ context.Context, response, _ string, _ map[string]string) (*model.FormattedMessage, error) {
	if f.formatErr != nil {
		return nil, f.formatErr
	}
	return &model.FormattedMessage{Content: response}, nil
}

func (f *fakePostprocessor) Deliver(context.Context, *model.FormattedMessage, string) (*model.DeliveryResult, error) {
	if f.deliverErr != nil {
		return nil, f.deliverErr
	}
	if f.deliverRes != nil {
		return f.deliverRes, nil
	}
	return &model.DeliveryResult{Success: true, Status: "sent"}, nil
}

// memCache is an in-memory CacheClient for tests.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (c *memCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return errors.New("cache: key not found")
	}
	return json.Unmarshal(raw, dest)
}

func (c *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *memCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok, nil
}

func testPipelineConf() *conf.Pipeline {
	return &conf.Pipeline{
		WorkflowTimeout:    durationpb.New(100 * time.Millisecond),
		SlaTargetMs:        3000,
		PreprocessCacheTtl: durationpb.New(time.Minute),
		Handoff: &conf.Pipeline_Handoff{
			ContactPhone: "+5511999990000",
			Availability: "Mon-Fri 9:00-18:00",
		},
		Breakers: []*conf.Pipeline_Breaker{
			{Stage: "preprocessing", FailureThreshold: 5, RecoveryTimeout: durationpb.New(time.Minute)},
			{Stage: "business_rules", FailureThreshold: 3, RecoveryTimeout: durationpb.New(30 * time.Second)},
			{Stage: "langgraph_workflow", FailureThreshold: 3, RecoveryTimeout: durationpb.New(2 * time.Minute)},
			{Stage: "postprocessing", FailureThreshold: 5, RecoveryTimeout: durationpb.New(time.Minute)},
			{Stage: "delivery", FailureThreshold: 10, RecoveryTimeout: durationpb.New(30 * time.Second)},
		},
	}
}

type testDeps struct {
	pre   *fakePreprocessor
	rules *fakeRulesEngine
	wf    *fakeWorkflow
	post  *fakePostprocessor
	cache *memCache
}

func newTestOrchestrator(t *testing.T, deps *testDeps) *PipelineOrchestrator {
	t.Helper()

	logger := testLogger()
	metrics, cleanup := NewMetricsAggregator(testPipelineConf(), logger)
	t.Cleanup(cleanup)

	return NewPipelineOrchestrator(
		testPipelineConf(),
		newMemBreakerRepo(),
		deps.cache,
		deps.pre,
		deps.rules,
		deps.wf,
		deps.post,
		metrics,
		logger,
	)
}

func defaultDeps() *testDeps {
	return &testDeps{
		pre:   &fakePreprocessor{},
		rules: &fakeRulesEngine{},
		wf:    &fakeWorkflow{},
		post:  &fakePostprocessor{},
		cache: newMemCache(),
	}
}

func testRequest() *PipelineRequest {
	return &PipelineRequest{
		Message:     "hello, I need help with my order",
		PhoneNumber: "+5511888887777",
		Instance:    "primary",
	}
}

func TestExecutePipelineSuccess(t *testing.T) {
	deps := defaultDeps()
	p := newTestOrchestrator(t, deps)

	result := p.ExecutePipeline(context.Background(), testRequest())

	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, model.StatusCompleted, result.Status)
	assert.Equal(t, "Thanks for reaching out, how can I help?", result.Response)
	assert.NotEmpty(t, result.ExecutionID)
	assert.Nil(t, result.Error)
	assert.Len(t, result.StageDurations, 5, "all five stages should be timed")
	assert.Equal(t, 1, deps.wf.calls)
}

func TestExecutePipelineBusinessHoursShortCircuit(t *testing.T) {
	deps := defaultDeps()
	deps.pre.result = &fakePreprocessorResult{
		res: &model.PreprocessResult{
			Success:               true,
			BusinessHoursResponse: "We are closed right now, back Monday 9:00.",
		},
	}
	p := newTestOrchestrator(t, deps)

	result := p.ExecutePipeline(context.Background(), testRequest())

	assert.True(t, result.Success)
	assert.Equal(t, "We are closed right now, back Monday 9:00.", result.Response)
	assert.Equal(t, 0, deps.rules.calls, "rules must be skipped outside business hours")
	assert.Equal(t, 0, deps.wf.calls, "workflow must be skipped outside business hours")
	assert.Len(t, result.StageDurations, 1)
}

func TestExecutePipelineHandoffSkipsWorkflow(t *testing.T) {
	deps := defaultDeps()
	deps.rules.eval = &model.RuleEvaluation{HandoffRequired: true}
	p := newTestOrchestrator(t, deps)

	result := p.ExecutePipeline(context.Background(), testRequest())

	assert.True(t, result.Success)
	assert.Equal(t, 0, deps.wf.calls, "workflow must be skipped on handoff")
	assert.Contains(t, result.Response, "+5511999990000")
	assert.Contains(t, result.Response, "Mon-Fri 9:00-18:00")
}

func TestExecutePipelineWorkflowTimeout(t *testing.T) {
	deps := defaultDeps()
	deps.wf.delay = 400 * time.Millisecond
	p := newTestOrchestrator(t, deps)

	result := p.ExecutePipeline(context.Background(), testRequest())

	assert.False(t, result.Success)
	assert.Equal(t, model.StatusFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, model.StageWorkflow, result.Error.FailedStage)
	assert.Equal(t, "timeout", result.Error.Type)
	assert.Equal(t, fallbackMessages[model.StageWorkflow], result.Response)
}

func TestExecutePipelineWorkflowErrorUsesFallback(t *testing.T) {
	deps := defaultDeps()
	deps.wf.err = errors.New("workflow engine unavailable")
	p := newTestOrchestrator(t, deps)

	result := p.ExecutePipeline(context.Background(), testRequest())

	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, model.StageWorkflow, result.Error.FailedStage)
	assert.Equal(t, "stage_failure", result.Error.Type)
	assert.Equal(t, fallbackMessages[model.StageWorkflow], result.Response)
}

func TestExecutePipelineCircuitOpens(t *testing.T) {
	deps := defaultDeps()
	deps.rules.err = errors.New("rules service down")
	p := newTestOrchestrator(t, deps)
	ctx := context.Background()

	// The business_rules threshold is 3: each failed execution counts one
	for i := 0; i < 3; i++ {
		result := p.ExecutePipeline(ctx, testRequest())
		assert.Equal(t, model.StatusFailed, result.Status)
		assert.Equal(t, fallbackMessages[model.StageBusinessRules], result.Response)
	}

	result := p.ExecutePipeline(ctx, testRequest())
	assert.Equal(t, model.StatusCircuitBreakerOpen, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, "circuit_open", result.Error.Type)
	assert.Equal(t, model.StageBusinessRules, result.Error.FailedStage)
	assert.Equal(t, 3, deps.rules.calls, "open breaker must block the handler call")
	assert.NotEmpty(t, result.Response, "even a rejected execution yields a reply")
}

func TestExecutePipelineDeliveryFailure(t *testing.T) {
	deps := defaultDeps()
	deps.post.deliverRes = &model.DeliveryResult{Success: false, Error: "provider 503"}
	p := newTestOrchestrator(t, deps)

	result := p.ExecutePipeline(context.Background(), testRequest())

	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, model.StageDelivery, result.Error.FailedStage)
	assert.Equal(t, fallbackMessages[model.StageDelivery], result.Response)
}

func TestExecutePipelineSkipPreprocessing(t *testing.T) {
	deps := defaultDeps()
	p := newTestOrchestrator(t, deps)

	req := testRequest()
	req.SkipPreprocessing = true
	result := p.ExecutePipeline(context.Background(), req)

	assert.True(t, result.Success)
	assert.Equal(t, 0, deps.pre.calls)
	assert.Len(t, result.StageDurations, 4)
}

func TestExecutePipelinePreprocessCacheHit(t *testing.T) {
	deps := defaultDeps()
	p := newTestOrchestrator(t, deps)
	ctx := context.Background()

	first := p.ExecutePipeline(ctx, testRequest())
	require.True(t, first.Success)
	assert.Equal(t, 1, deps.pre.calls)
	assert.Zero(t, first.CacheHitRatio)

	// Identical message from the same number hits the cache
	second := p.ExecutePipeline(ctx, testRequest())
	require.True(t, second.Success)
	assert.Equal(t, 1, deps.pre.calls, "cache hit must skip the preprocessor call")
	assert.Equal(t, 1.0, second.CacheHitRatio)
}

func TestExecutePipelineAlwaysReturnsAReply(t *testing.T) {
	cases := []struct {
		name string
		deps func() *testDeps
	}{
		{"preprocessor error", func() *testDeps {
			d := defaultDeps()
			d.pre.result = &fakePreprocessorResult{err: errors.New("boom")}
			return d
		}},
		{"preprocessor rejection", func() *testDeps {
			d := defaultDeps()
			d.pre.result = &fakePreprocessorResult{res: &model.PreprocessResult{Success: false, Error: "bad payload"}}
			return d
		}},
		{"rules error", func() *testDeps {
			d := defaultDeps()
			d.rules.err = errors.New("boom")
			return d
		}},
		{"empty workflow reply", func() *testDeps {
			d := defaultDeps()
			d.wf.reply = &model.WorkflowReply{}
			return d
		}},
		{"format error", func() *testDeps {
			d := defaultDeps()
			d.post.formatErr = errors.New("boom")
			return d
		}},
		{"deliver error", func() *testDeps {
			d := defaultDeps()
			d.post.deliverErr = errors.New("boom")
			return d
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestOrchestrator(t, tc.deps())
			result := p.ExecutePipeline(context.Background(), testRequest())
			require.NotNil(t, result)
			assert.False(t, result.Success)
			assert.NotEmpty(t, result.Response)
			assert.NotNil(t, result.Error)
		})
	}
}

func TestGetPerformanceMetrics(t *testing.T) {
	p := newTestOrchestrator(t, defaultDeps())

	metrics := p.GetPerformanceMetrics()
	require.NotNil(t, metrics)
	assert.Equal(t, "healthy", metrics.Health, "a fresh service with no traffic is healthy")
	assert.Len(t, metrics.Breakers, 5)
	for stage, status := range metrics.Breakers {
		assert.False(t, status.IsOpen, "breaker %s should start closed", stage)
	}
}

func TestResetCircuitBreakers(t *testing.T) {
	deps := defaultDeps()
	deps.rules.err = errors.New("rules service down")
	p := newTestOrchestrator(t, deps)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p.ExecutePipeline(ctx, testRequest())
	}
	require.Equal(t, model.StatusCircuitBreakerOpen, p.ExecutePipeline(ctx, testRequest()).Status)

	require.NoError(t, p.ResetCircuitBreakers(ctx))

	deps.rules.err = nil
	result := p.ExecutePipeline(ctx, testRequest())
	assert.Equal(t, model.StatusCompleted, result.Status)
}

func TestGetActiveExecutions(t *testing.T) {
	deps := defaultDeps()
	deps.wf.delay = 200 * time.Millisecond
	p := newTestOrchestrator(t, deps)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.ExecutePipeline(context.Background(), testRequest())
	}()

	assert.Eventually(t, func() bool {
		active := p.GetActiveExecutions()
		return len(active) == 1 && active[0].Status == model.StatusRunning
	}, time.Second, 10*time.Millisecond)

	<-done
	assert.Empty(t, p.GetActiveExecutions())
}
