package data

import (
	"context"
	"io"
	"testing"
	"time"

	"ReplyLane/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, rdb
}

func testLogger() log.Logger {
	return log.NewStdLogger(io.Discard)
}

func TestBreakerStateRepoRoundTrip(t *testing.T) {
	_, rdb := setupRedis(t)
	repo := NewBreakerStateRepo(rdb, testLogger())
	ctx := context.Background()

	lastFailure := time.Now().Truncate(time.Second)
	state := &model.CircuitBreakerState{
		Name:             "delivery",
		FailureCount:     7,
		LastFailureTime:  &lastFailure,
		IsOpen:           true,
		FailureThreshold: 10,
		RecoveryTimeout:  30 * time.Second,
	}

	require.NoError(t, repo.SaveState(ctx, state))

	loaded, err := repo.LoadState(ctx, "delivery")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, model.BreakerStateVersion, loaded.Version)
	assert.Equal(t, "delivery", loaded.Name)
	assert.Equal(t, 7, loaded.FailureCount)
	assert.True(t, loaded.IsOpen)
	require.NotNil(t, loaded.LastFailureTime)
	assert.True(t, lastFailure.Equal(*loaded.LastFailureTime))
}

func TestBreakerStateRepoMissingKey(t *testing.T) {
	_, rdb := setupRedis(t)
	repo := NewBreakerStateRepo(rdb, testLogger())

	state, err := repo.LoadState(context.Background(), "preprocessing")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestBreakerStateRepoDiscardsUnknownVersion(t *testing.T) {
	mr, rdb := setupRedis(t)
	repo := NewBreakerStateRepo(rdb, testLogger())

	require.NoError(t, mr.Set("breaker:delivery", `{"version":99,"name":"delivery","failure_count":3}`))

	state, err := repo.LoadState(context.Background(), "delivery")
	require.NoError(t, err)
	assert.Nil(t, state, "records with an unknown version start a clean breaker")
}

func TestBreakerStateRepoDelete(t *testing.T) {
	_, rdb := setupRedis(t)
	repo := NewBreakerStateRepo(rdb, testLogger())
	ctx := context.Background()

	require.NoError(t, repo.SaveState(ctx, &model.CircuitBreakerState{Name: "delivery", FailureCount: 1}))
	require.NoError(t, repo.DeleteState(ctx, "delivery"))

	state, err := repo.LoadState(ctx, "delivery")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestBreakerStateRepoSetsTTL(t *testing.T) {
	mr, rdb := setupRedis(t)
	repo := NewBreakerStateRepo(rdb, testLogger())

	require.NoError(t, repo.SaveState(context.Background(), &model.CircuitBreakerState{Name: "delivery"}))
	assert.Equal(t, TTLBreaker, mr.TTL("breaker:delivery"))
}

func TestBreakerStateRepoNilRedis(t *testing.T) {
	repo := NewBreakerStateRepo(nil, testLogger())
	ctx := context.Background()

	assert.NoError(t, repo.SaveState(ctx, &model.CircuitBreakerState{Name: "delivery"}))
	state, err := repo.LoadState(ctx, "delivery")
	assert.NoError(t, err)
	assert.Nil(t, state)
	assert.NoError(t, repo.DeleteState(ctx, "delivery"))
}

func TestBreakerStateRepoToleratesRedisDown(t *testing.T) {
	mr, rdb := setupRedis(t)
	repo := NewBreakerStateRepo(rdb, testLogger())
	mr.Close()

	// Save degrades silently; load surfaces the error to the caller
	assert.NoError(t, repo.SaveState(context.Background(), &model.CircuitBreakerState{Name: "delivery"}))
	_, err := repo.LoadState(context.Background(), "delivery")
	assert.Error(t, err)
}
