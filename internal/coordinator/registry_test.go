package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	saved   map[string]PlanRecord
	deleted []string
	failing bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{saved: map[string]PlanRecord{}}
}

func (s *memoryStore) SavePlan(_ context.Context, rec *PlanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("store unavailable")
	}
	s.saved[rec.Key] = *rec
	return nil
}

func (s *memoryStore) DeletePlan(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *memoryStore) LoadPlans(context.Context) ([]*PlanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*PlanRecord
	for _, rec := range s.saved {
		r := rec
		out = append(out, &r)
	}
	return out, nil
}

// ===== TEST: status transitions =====

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to PlanStatus
		want     bool
	}{
		{StatusPlanned, StatusExecuting, true},
		{StatusExecuting, StatusCompleted, true},
		{StatusExecuting, StatusFailed, true},
		{StatusPlanned, StatusCompleted, false},
		{StatusPlanned, StatusFailed, false},
		{StatusCompleted, StatusExecuting, false},
		{StatusFailed, StatusPlanned, false},
		{StatusExecuting, StatusPlanned, false},
		{StatusCompleted, StatusFailed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
	assert.True(t, StatusCompleted.IsFinal())
	assert.True(t, StatusFailed.IsFinal())
	assert.False(t, StatusExecuting.IsFinal())
}

// ===== TEST: registry lifecycle =====

func TestRegistryLifecycle(t *testing.T) {
	store := newMemoryStore()
	r := NewRegistry(store, 3, time.Hour, nil)

	require.NoError(t, r.Register(PlanRecord{Key: "k1", PlanID: "p1", Kind: KindBalance}))
	status, ok := r.Status("k1")
	require.True(t, ok)
	assert.Equal(t, StatusPlanned, status)

	require.NoError(t, r.Begin("k1"))
	assert.True(t, r.IsExecuting("k1"))
	assert.Equal(t, 1, r.ExecutingCount())

	err := r.Begin("k1")
	assert.ErrorIs(t, err, ErrPlanExecuting)
	err = r.Register(PlanRecord{Key: "k1", PlanID: "p1-again"})
	assert.ErrorIs(t, err, ErrPlanExecuting)

	require.NoError(t, r.Finish("k1", StatusCompleted, 12.5))
	assert.False(t, r.IsExecuting("k1"))
	assert.ErrorIs(t, r.Finish("k1", StatusFailed, 0), ErrInvalidTransition)

	saved := store.saved["k1"]
	assert.Equal(t, StatusCompleted, saved.Status)
	assert.Equal(t, 12.5, saved.RealizedProfit)

	// a finished plan can be planned again
	require.NoError(t, r.Register(PlanRecord{Key: "k1", PlanID: "p2"}))
	status, _ = r.Status("k1")
	assert.Equal(t, StatusPlanned, status)
}

func TestRegistryRejectsUnknownAndSkippedTransitions(t *testing.T) {
	r := NewRegistry(nil, 0, 0, nil)
	assert.Error(t, r.Begin("missing"))
	assert.Error(t, r.Finish("missing", StatusCompleted, 0))

	require.NoError(t, r.Register(PlanRecord{Key: "k"}))
	assert.ErrorIs(t, r.Finish("k", StatusCompleted, 0), ErrInvalidTransition)
}

func TestRegistryMaxConcurrent(t *testing.T) {
	r := NewRegistry(nil, 2, time.Hour, nil)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, r.Register(PlanRecord{Key: k}))
	}
	require.NoError(t, r.Begin("a"))
	require.NoError(t, r.Begin("b"))
	assert.ErrorIs(t, r.Begin("c"), ErrTooManyPlans)

	require.NoError(t, r.Finish("a", StatusFailed, 0))
	assert.NoError(t, r.Begin("c"))
}

func TestRegistryPrune(t *testing.T) {
	store := newMemoryStore()
	r := NewRegistry(store, 0, time.Hour, nil)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return start }

	require.NoError(t, r.Register(PlanRecord{Key: "done"}))
	require.NoError(t, r.Begin("done"))
	require.NoError(t, r.Finish("done", StatusCompleted, 1))
	require.NoError(t, r.Register(PlanRecord{Key: "stuck"}))
	require.NoError(t, r.Begin("stuck"))
	require.NoError(t, r.Register(PlanRecord{Key: "waiting"}))

	r.now = func() time.Time { return start.Add(30 * time.Minute) }
	assert.Equal(t, 0, r.Prune(context.Background()))

	r.now = func() time.Time { return start.Add(2 * time.Hour) }
	assert.Equal(t, 1, r.Prune(context.Background()))

	_, ok := r.Status("done")
	assert.False(t, ok)
	status, ok := r.Status("stuck")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, status)
	status, _ = r.Status("waiting")
	assert.Equal(t, StatusPlanned, status)

	assert.Equal(t, []string{"done"}, store.deleted)
	assert.Equal(t, StatusFailed, store.saved["stuck"].Status)
}

func TestRegistryRestore(t *testing.T) {
	store := newMemoryStore()
	store.saved["k"] = PlanRecord{Key: "k", PlanID: "p", Status: StatusExecuting}
	store.saved[""] = PlanRecord{PlanID: "no key"}

	r := NewRegistry(store, 3, time.Hour, nil)
	_, err := r.Restore(context.Background())
	require.NoError(t, err)
	assert.True(t, r.IsExecuting("k"))
	assert.Len(t, r.Records(), 1)
}

func TestRegistryToleratesStoreFailure(t *testing.T) {
	store := newMemoryStore()
	store.failing = true
	r := NewRegistry(store, 3, time.Hour, nil)

	require.NoError(t, r.Register(PlanRecord{Key: "k"}))
	require.NoError(t, r.Begin("k"))
	assert.True(t, r.IsExecuting("k"))
}
