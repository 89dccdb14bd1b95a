// Package database provides the decision journal (PostgreSQL) and the shared plan
// registry mirror (Redis).
//
// The plan registry store keeps coordinator plan records in Redis so an EXECUTING
// plan stays visible across restarts and to a standby instance. When Redis is
// unavailable it falls back to an in-memory cache so decisions keep flowing.
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"zone-position-engine/internal/coordinator"
	"zone-position-engine/internal/logging"
)

// Redis keys for plan records
const (
	// PlanKeyPrefix is the prefix for individual plan records
	// Format: zone:plan:{planKey}
	PlanKeyPrefix = "zone:plan"

	// PlanSetKey lists every stored plan key
	PlanSetKey = "zone:plans"

	// PlanRecordTTL bounds how long an abandoned record survives
	PlanRecordTTL = 48 * time.Hour
)

// RedisPlanStore implements coordinator.Store on Redis with an in-memory fallback
type RedisPlanStore struct {
	client         redis.UniversalClient
	inMemoryCache  map[string]*coordinator.PlanRecord
	cacheMu        sync.RWMutex
	redisAvailable atomic.Bool
	logger         *logging.Logger
}

var _ coordinator.Store = (*RedisPlanStore)(nil)

// NewRedisPlanStore creates a store. If client is nil, it operates in memory-only mode.
func NewRedisPlanStore(client redis.UniversalClient, logger *logging.Logger) *RedisPlanStore {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &RedisPlanStore{
		client:        client,
		inMemoryCache: make(map[string]*coordinator.PlanRecord),
		logger:        logger.WithComponent("plan-store"),
	}

	// Check initial Redis availability
	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			s.logger.Warn("redis unavailable at startup, using in-memory cache", "error", err)
			s.redisAvailable.Store(false)
		} else {
			s.logger.Info("redis connected")
			s.redisAvailable.Store(true)
		}
	} else {
		s.logger.Info("no redis client provided, using in-memory cache only")
		s.redisAvailable.Store(false)
	}
	return s
}

// NewRedisClient builds a client from connection settings
func NewRedisClient(addr, password string, db, poolSize int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// planKey generates the Redis key for a plan record
func planKey(key string) string {
	return fmt.Sprintf("%s:%s", PlanKeyPrefix, key)
}

// SavePlan writes a record to Redis and the in-memory cache
func (s *RedisPlanStore) SavePlan(ctx context.Context, rec *coordinator.PlanRecord) error {
	if rec == nil || rec.Key == "" {
		return fmt.Errorf("cannot save plan record without key")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal plan record: %w", err)
	}

	// Always update in-memory cache
	s.updateCache(rec)

	if s.client == nil || !s.redisAvailable.Load() {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, planKey(rec.Key), data, PlanRecordTTL)
	pipe.SAdd(ctx, PlanSetKey, rec.Key)
	pipe.Expire(ctx, PlanSetKey, PlanRecordTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("failed to save plan to redis, using in-memory cache", "plan_id", rec.PlanID, "error", err)
		s.redisAvailable.Store(false)
		// in-memory cache is already updated
		return nil
	}

	s.logger.Debug("plan saved", "plan_id", rec.PlanID, "status", rec.Status)
	return nil
}

// DeletePlan removes a record from Redis and the in-memory cache
func (s *RedisPlanStore) DeletePlan(ctx context.Context, key string) error {
	s.removeFromCache(key)

	if s.client == nil || !s.redisAvailable.Load() {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, planKey(key))
	pipe.SRem(ctx, PlanSetKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("failed to delete plan from redis", "key", key, "error", err)
		s.redisAvailable.Store(false)
	}
	return nil
}

// LoadPlans returns every stored record. Keys whose record expired are skipped.
func (s *RedisPlanStore) LoadPlans(ctx context.Context) ([]*coordinator.PlanRecord, error) {
	if s.client == nil || !s.redisAvailable.Load() {
		return s.getAllFromCache(), nil
	}

	keys, err := s.client.SMembers(ctx, PlanSetKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Warn("redis read error, using in-memory cache", "error", err)
		s.redisAvailable.Store(false)
		return s.getAllFromCache(), nil
	}
	sort.Strings(keys)

	out := make([]*coordinator.PlanRecord, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, planKey(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			s.logger.Warn("redis read error, using in-memory cache", "key", key, "error", err)
			s.redisAvailable.Store(false)
			return s.getAllFromCache(), nil
		}
		var rec coordinator.PlanRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("skipping unreadable plan record", "key", key, "error", err)
			continue
		}
		s.updateCache(&rec)
		out = append(out, &rec)
	}

	if len(out) > 0 {
		s.logger.Info("loaded plans from redis", "plans", len(out))
	}
	return out, nil
}

// IsRedisAvailable returns whether Redis is currently available
func (s *RedisPlanStore) IsRedisAvailable() bool {
	return s.redisAvailable.Load()
}

// CheckRedisConnection performs a health check and pushes cached records back after
// a recovery
func (s *RedisPlanStore) CheckRedisConnection(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("no Redis client configured")
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.redisAvailable.Store(false)
		return fmt.Errorf("redis ping failed: %w", err)
	}

	wasUnavailable := !s.redisAvailable.Load()
	s.redisAvailable.Store(true)
	if wasUnavailable {
		s.logger.Info("redis connection recovered")
		return s.SyncCacheToRedis(ctx)
	}
	return nil
}

// SyncCacheToRedis writes every cached record to Redis
func (s *RedisPlanStore) SyncCacheToRedis(ctx context.Context) error {
	if s.client == nil || !s.redisAvailable.Load() {
		return fmt.Errorf("redis not available for sync")
	}

	synced := 0
	for _, rec := range s.getAllFromCache() {
		data, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		pipe := s.client.TxPipeline()
		pipe.Set(ctx, planKey(rec.Key), data, PlanRecordTTL)
		pipe.SAdd(ctx, PlanSetKey, rec.Key)
		pipe.Expire(ctx, PlanSetKey, PlanRecordTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			s.logger.Warn("failed to sync plan to redis", "key", rec.Key, "error", err)
			continue
		}
		synced++
	}
	if synced > 0 {
		s.logger.Info("synced cached plans to redis", "plans", synced)
	}
	return nil
}

// PlanStoreStats describes the store state
type PlanStoreStats struct {
	RedisAvailable    bool `json:"redis_available"`
	InMemoryCacheSize int  `json:"in_memory_cache_size"`
}

// GetStats returns statistics about the store
func (s *RedisPlanStore) GetStats() PlanStoreStats {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	return PlanStoreStats{
		RedisAvailable:    s.redisAvailable.Load(),
		InMemoryCacheSize: len(s.inMemoryCache),
	}
}

// --- In-memory cache operations ---

func (s *RedisPlanStore) updateCache(rec *coordinator.PlanRecord) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	cp := *rec
	cp.Zones = append([]int(nil), rec.Zones...)
	cp.Tickets = append([]int64(nil), rec.Tickets...)
	s.inMemoryCache[rec.Key] = &cp
}

func (s *RedisPlanStore) getAllFromCache() []*coordinator.PlanRecord {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	out := make([]*coordinator.PlanRecord, 0, len(s.inMemoryCache))
	for _, rec := range s.inMemoryCache {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *RedisPlanStore) removeFromCache(key string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	delete(s.inMemoryCache, key)
}
