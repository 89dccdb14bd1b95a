package database

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zone-position-engine/internal/coordinator"
)

func record(key string, status coordinator.PlanStatus) *coordinator.PlanRecord {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &coordinator.PlanRecord{
		Key:            key,
		PlanID:         "plan-" + key,
		Kind:           coordinator.KindSupport,
		Status:         status,
		Zones:          []int{0, 1},
		Tickets:        []int64{1, 3, 4},
		ExpectedProfit: 5,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

func connectedStore(t *testing.T) (*RedisPlanStore, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	mock.ExpectPing().SetVal("PONG")
	s := NewRedisPlanStore(client, nil)
	require.True(t, s.IsRedisAvailable())
	return s, mock
}

// ===== TEST: memory-only mode =====

func TestPlanStoreMemoryOnly(t *testing.T) {
	s := NewRedisPlanStore(nil, nil)
	assert.False(t, s.IsRedisAvailable())
	ctx := context.Background()

	require.NoError(t, s.SavePlan(ctx, record("b", coordinator.StatusPlanned)))
	require.NoError(t, s.SavePlan(ctx, record("a", coordinator.StatusExecuting)))

	recs, err := s.LoadPlans(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].Key)
	assert.Equal(t, coordinator.StatusExecuting, recs[0].Status)

	require.NoError(t, s.DeletePlan(ctx, "a"))
	assert.Equal(t, 1, s.GetStats().InMemoryCacheSize)
	assert.Error(t, s.SavePlan(ctx, &coordinator.PlanRecord{}))
	assert.Error(t, s.CheckRedisConnection(ctx))
}

func TestPlanStoreFallsBackWhenPingFails(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectPing().SetErr(errors.New("connection refused"))

	s := NewRedisPlanStore(client, nil)
	assert.False(t, s.IsRedisAvailable())

	require.NoError(t, s.SavePlan(context.Background(), record("k", coordinator.StatusPlanned)))
	recs, err := s.LoadPlans(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ===== TEST: redis-backed mode =====

func TestPlanStoreSaveWritesPipeline(t *testing.T) {
	s, mock := connectedStore(t)
	rec := record("support:z:0:1:t:1:3:4", coordinator.StatusExecuting)
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectTxPipeline()
	mock.ExpectSet(planKey(rec.Key), data, PlanRecordTTL).SetVal("OK")
	mock.ExpectSAdd(PlanSetKey, rec.Key).SetVal(1)
	mock.ExpectExpire(PlanSetKey, PlanRecordTTL).SetVal(true)
	mock.ExpectTxPipelineExec()

	require.NoError(t, s.SavePlan(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.True(t, s.IsRedisAvailable())
}

func TestPlanStoreLoadSkipsExpiredRecords(t *testing.T) {
	s, mock := connectedStore(t)
	live := record("live", coordinator.StatusExecuting)
	data, err := json.Marshal(live)
	require.NoError(t, err)

	mock.ExpectSMembers(PlanSetKey).SetVal([]string{"live", "gone"})
	mock.ExpectGet(planKey("gone")).RedisNil()
	mock.ExpectGet(planKey("live")).SetVal(string(data))

	recs, err := s.LoadPlans(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, *live, *recs[0])
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1, s.GetStats().InMemoryCacheSize)
}

func TestPlanStoreReadErrorUsesCache(t *testing.T) {
	s, mock := connectedStore(t)
	s.updateCache(record("cached", coordinator.StatusPlanned))

	mock.ExpectSMembers(PlanSetKey).SetErr(errors.New("i/o timeout"))

	recs, err := s.LoadPlans(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "cached", recs[0].Key)
	assert.False(t, s.IsRedisAvailable())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanStoreDelete(t *testing.T) {
	s, mock := connectedStore(t)
	s.updateCache(record("k", coordinator.StatusCompleted))

	mock.ExpectTxPipeline()
	mock.ExpectDel(planKey("k")).SetVal(1)
	mock.ExpectSRem(PlanSetKey, "k").SetVal(1)
	mock.ExpectTxPipelineExec()

	require.NoError(t, s.DeletePlan(context.Background(), "k"))
	assert.Zero(t, s.GetStats().InMemoryCacheSize)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ===== TEST: registry integration =====

func TestRegistryRestoresFromStore(t *testing.T) {
	store := NewRedisPlanStore(nil, nil)
	first := coordinator.NewRegistry(store, 3, time.Hour, nil)
	require.NoError(t, first.Register(*record("k1", "")))
	require.NoError(t, first.Begin("k1"))

	second := coordinator.NewRegistry(store, 3, time.Hour, nil)
	n, err := second.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, second.IsExecuting("k1"))
}
