package biz

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"ReplyLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBreakerRepo is an in-memory BreakerStateRepo for tests.
type memBreakerRepo struct {
	mu     sync.Mutex
	states map[string]*model.CircuitBreakerState
}

func newMemBreakerRepo() *memBreakerRepo {
	return &memBreakerRepo{states: make(map[string]*model.CircuitBreakerState)}
}

func (r *memBreakerRepo) SaveState(_ context.Context, state *model.CircuitBreakerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *state
	r.states[state.Name] = &clone
	return nil
}

func (r *memBreakerRepo) LoadState(_ context.Context, name string) (*model.CircuitBreakerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[name]
	if !ok {
		return nil, nil
	}
	clone := *state
	return &clone, nil
}

func (r *memBreakerRepo) DeleteState(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, name)
	return nil
}

func testLogger() log.Logger {
	return log.NewStdLogger(io.Discard)
}

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("delivery", 3, time.Minute, nil, testLogger())

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	assert.True(t, cb.CanExecute(ctx), "breaker should stay closed below the threshold")

	cb.RecordFailure(ctx)
	assert.False(t, cb.CanExecute(ctx), "breaker should open at the threshold")

	snap := cb.Snapshot()
	assert.True(t, snap.IsOpen)
	assert.Equal(t, 3, snap.FailureCount)
}

func TestCircuitBreakerSuccessDecrementsFlooredAtZero(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("preprocessing", 5, time.Minute, nil, testLogger())

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	cb.RecordSuccess(ctx)
	assert.Equal(t, 1, cb.Snapshot().FailureCount)

	cb.RecordSuccess(ctx)
	cb.RecordSuccess(ctx)
	assert.Equal(t, 0, cb.Snapshot().FailureCount, "failure count must never go negative")
}

func TestCircuitBreakerSuccessNeverClosesOpenBreaker(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("business_rules", 2, time.Hour, nil, testLogger())

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	require.False(t, cb.CanExecute(ctx))

	// A stray success while open must not close it
	cb.RecordSuccess(ctx)
	assert.False(t, cb.CanExecute(ctx))
	assert.True(t, cb.Snapshot().IsOpen)
}

func TestCircuitBreakerRecoveryProbe(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("langgraph_workflow", 2, 30*time.Second, nil, testLogger())

	current := time.Now()
	cb.now = func() time.Time { return current }

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	require.False(t, cb.CanExecute(ctx))

	// Before the recovery timeout the breaker stays shut
	current = current.Add(29 * time.Second)
	assert.False(t, cb.CanExecute(ctx))

	// After the timeout one probe is let through and state resets
	current = current.Add(2 * time.Second)
	assert.True(t, cb.CanExecute(ctx))

	snap := cb.Snapshot()
	assert.False(t, snap.IsOpen)
	assert.Equal(t, 0, snap.FailureCount)

	// The probe's failures can reopen it
	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	assert.False(t, cb.CanExecute(ctx))
}

func TestCircuitBreakerPersistsAndRestoresState(t *testing.T) {
	ctx := context.Background()
	repo := newMemBreakerRepo()

	cb := NewCircuitBreaker("delivery", 3, time.Minute, repo, testLogger())
	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	require.False(t, cb.CanExecute(ctx))

	// A new breaker for the same stage restores the open state
	restored := NewCircuitBreaker("delivery", 3, time.Minute, repo, testLogger())
	assert.False(t, restored.CanExecute(ctx))
	assert.Equal(t, 3, restored.Snapshot().FailureCount)
}

func TestCircuitBreakerRestoreKeepsConfiguredPolicy(t *testing.T) {
	ctx := context.Background()
	repo := newMemBreakerRepo()

	cb := NewCircuitBreaker("delivery", 10, time.Minute, repo, testLogger())
	cb.RecordFailure(ctx)

	// Restore with a tighter configured threshold; the config wins
	restored := NewCircuitBreaker("delivery", 2, time.Minute, repo, testLogger())
	snap := restored.Snapshot()
	assert.Equal(t, 1, snap.FailureCount)
	assert.Equal(t, 2, snap.FailureThreshold)
}

func TestCircuitBreakerReset(t *testing.T) {
	ctx := context.Background()
	repo := newMemBreakerRepo()

	cb := NewCircuitBreaker("postprocessing", 2, time.Hour, repo, testLogger())
	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	require.False(t, cb.CanExecute(ctx))

	require.NoError(t, cb.Reset(ctx))
	assert.True(t, cb.CanExecute(ctx))
	assert.Equal(t, 0, cb.Snapshot().FailureCount)

	state, err := repo.LoadState(ctx, "postprocessing")
	require.NoError(t, err)
	assert.Nil(t, state, "persisted state should be deleted on reset")
}
