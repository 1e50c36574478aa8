package biz

import (
	"context"
	"sync"
	"time"

	"ReplyLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// BreakerStateRepo persists breaker state across process restarts.
// Following Kratos v2 DDD architecture, the interface is defined in the biz
// layer and implemented in data.
type BreakerStateRepo interface {
	SaveState(ctx context.Context, state *model.CircuitBreakerState) error
	LoadState(ctx context.Context, name string) (*model.CircuitBreakerState, error)
	DeleteState(ctx context.Context, name string) error
}

// CircuitBreaker gates calls to one repeatedly failing pipeline stage.
//
// State machine: CLOSED (failureCount < threshold) → OPEN (failureCount >=
// threshold, calls rejected) → implicit half-open probe once the recovery
// timeout has elapsed since the last failure: the next CanExecute resets the
// breaker optimistically and lets one call through. The probe's failure
// reopens the breaker immediately; its success keeps it closed.
//
// Breakers are intentionally shared across concurrent executions: a burst of
// concurrent failures opens the breaker faster than serialized failures
// would.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration

	mu              sync.Mutex
	failureCount    int
	lastFailureTime *time.Time
	isOpen          bool

	repo   BreakerStateRepo
	logger *log.Helper
	now    func() time.Time
}

// NewCircuitBreaker creates a breaker for one stage and restores any
// persisted state. A nil repo means in-memory state only.
func NewCircuitBreaker(name string, failureThreshold int, recoveryTimeout time.Duration, repo BreakerStateRepo, logger log.Logger) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		repo:             repo,
		logger:           log.NewHelper(logger),
		now:              time.Now,
	}

	cb.loadState()

	return cb
}

// loadState restores persisted state. Failures degrade to a clean closed
// breaker; persisted thresholds never override the configured policy.
func (cb *CircuitBreaker) loadState() {
	if cb.repo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	state, err := cb.repo.LoadState(ctx, cb.name)
	if err != nil {
		cb.logger.Warnw("failed to load breaker state, starting closed",
			"breaker", cb.name,
			"error", err)
		return
	}
	if state == nil {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = state.FailureCount
	cb.lastFailureTime = state.LastFailureTime
	cb.isOpen = state.IsOpen

	cb.logger.Infow("breaker state restored",
		"breaker", cb.name,
		"failure_count", cb.failureCount,
		"is_open", cb.isOpen)
}

// CanExecute reports whether a call may proceed. When the breaker is open
// and the recovery timeout has elapsed, it resets optimistically and allows
// a single half-open probe.
func (cb *CircuitBreaker) CanExecute(ctx context.Context) bool {
	cb.mu.Lock()

	if !cb.isOpen {
		cb.mu.Unlock()
		return true
	}

	if cb.lastFailureTime != nil && cb.now().Sub(*cb.lastFailureTime) > cb.recoveryTimeout {
		// Optimistic half-open probe: reset and let the next call through.
		// The probe's failure reopens the breaker via RecordFailure.
		cb.failureCount = 0
		cb.isOpen = false
		state := cb.snapshotLocked()
		cb.mu.Unlock()

		cb.logger.Infow("breaker allowing recovery probe",
			"breaker", cb.name,
			"recovery_timeout", cb.recoveryTimeout)
		cb.persist(ctx, state)
		return true
	}

	cb.mu.Unlock()
	return false
}

// RecordFailure counts one failure and opens the breaker at the threshold.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context) {
	cb.mu.Lock()

	now := cb.now()
	cb.failureCount++
	cb.lastFailureTime = &now

	opened := false
	if cb.failureCount >= cb.failureThreshold && !cb.isOpen {
		cb.isOpen = true
		opened = true
	}

	state := cb.snapshotLocked()
	count := cb.failureCount
	cb.mu.Unlock()

	if opened {
		cb.logger.Warnw("circuit breaker opened",
			"breaker", cb.name,
			"failure_count", count,
			"threshold", cb.failureThreshold)
	}

	cb.persist(ctx, state)
}

// RecordSuccess decrements the failure count, floored at 0. A success never
// closes an open breaker on its own; only the recovery timeout does that.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context) {
	cb.mu.Lock()

	if cb.failureCount > 0 {
		cb.failureCount--
	}

	state := cb.snapshotLocked()
	cb.mu.Unlock()

	cb.persist(ctx, state)
}

// Reset clears all breaker state, in memory and persisted.
func (cb *CircuitBreaker) Reset(ctx context.Context) error {
	cb.mu.Lock()
	cb.failureCount = 0
	cb.lastFailureTime = nil
	cb.isOpen = false
	cb.mu.Unlock()

	cb.logger.Infow("circuit breaker reset", "breaker", cb.name)

	if cb.repo == nil {
		return nil
	}
	return cb.repo.DeleteState(ctx, cb.name)
}

// Snapshot returns a copy of the current breaker state.
func (cb *CircuitBreaker) Snapshot() model.CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return *cb.snapshotLocked()
}

// snapshotLocked builds the state record. Callers must hold cb.mu.
func (cb *CircuitBreaker) snapshotLocked() *model.CircuitBreakerState {
	var lastFailure *time.Time
	if cb.lastFailureTime != nil {
		t := *cb.lastFailureTime
		lastFailure = &t
	}
	return &model.CircuitBreakerState{
		Version:          model.BreakerStateVersion,
		Name:             cb.name,
		FailureCount:     cb.failureCount,
		LastFailureTime:  lastFailure,
		IsOpen:           cb.isOpen,
		FailureThreshold: cb.failureThreshold,
		RecoveryTimeout:  cb.recoveryTimeout,
	}
}

// persist writes the state snapshot; persistence problems are logged, never
// allowed to affect the call path.
func (cb *CircuitBreaker) persist(ctx context.Context, state *model.CircuitBreakerState) {
	if cb.repo == nil {
		return
	}
	if err := cb.repo.SaveState(ctx, state); err != nil {
		cb.logger.Warnw("failed to persist breaker state",
			"breaker", cb.name,
			"error", err)
	}
}
