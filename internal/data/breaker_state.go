package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ReplyLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// BreakerStateRepo persists circuit breaker state to Redis so breakers
// survive process restarts. Writes are last-write-wins; the TTL bounds how
// stale a record can get.
type BreakerStateRepo struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewBreakerStateRepo creates a new breaker state repository.
func NewBreakerStateRepo(rdb *redis.Client, logger log.Logger) *BreakerStateRepo {
	return &BreakerStateRepo{
		rdb:    rdb,
		logger: log.NewHelper(logger),
	}
}

// SaveState serializes the breaker state under its per-stage key.
// Redis failure is logged, not propagated: losing a persisted snapshot must
// never fail the pipeline call that triggered it.
func (r *BreakerStateRepo) SaveState(ctx context.Context, state *model.CircuitBreakerState) error {
	if r.rdb == nil {
		return nil // degraded mode: in-memory state only
	}

	state.Version = model.BreakerStateVersion
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal breaker state %s: %w", state.Name, err)
	}

	key := BuildCacheKey(CacheKeyBreaker, state.Name)
	if err := r.rdb.Set(ctx, key, payload, TTLBreaker).Err(); err != nil {
		r.logger.Warnw("failed to persist breaker state (degraded mode)",
			"breaker", state.Name,
			"error", err)
		return nil
	}

	return nil
}

// LoadState retrieves the persisted state for one breaker.
// Returns (nil, nil) when no record exists or the record's version is
// unknown; the caller starts from a clean closed breaker.
func (r *BreakerStateRepo) LoadState(ctx context.Context, name string) (*model.CircuitBreakerState, error) {
	if r.rdb == nil {
		return nil, nil
	}

	key := BuildCacheKey(CacheKeyBreaker, name)
	payload, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load breaker state %s: %w", name, err)
	}

	var state model.CircuitBreakerState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal breaker state %s: %w", name, err)
	}

	if state.Version != model.BreakerStateVersion {
		r.logger.Warnw("discarding breaker state with unknown version",
			"breaker", name,
			"version", state.Version)
		return nil, nil
	}

	return &state, nil
}

// DeleteState removes the persisted state for one breaker.
func (r *BreakerStateRepo) DeleteState(ctx context.Context, name string) error {
	if r.rdb == nil {
		return nil
	}

	key := BuildCacheKey(CacheKeyBreaker, name)
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete breaker state %s: %w", name, err)
	}

	return nil
}
