package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"zone-position-engine/internal/logging"
)

// PlanRecord is the registry's view of a plan
type PlanRecord struct {
	Key            string     `json:"key"`
	PlanID         string     `json:"plan_id"`
	Kind           PlanKind   `json:"kind"`
	Status         PlanStatus `json:"status"`
	Zones          []int      `json:"zones"`
	Tickets        []int64    `json:"tickets"`
	ExpectedProfit float64    `json:"expected_profit"`
	RealizedProfit float64    `json:"realized_profit"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Store mirrors registry records outside the process
type Store interface {
	SavePlan(ctx context.Context, rec *PlanRecord) error
	DeletePlan(ctx context.Context, key string) error
	LoadPlans(ctx context.Context) ([]*PlanRecord, error)
}

// Registry tracks plan status by content key so that a regenerated copy of an
// EXECUTING plan is never selected again. It is written by the decision loop only.
type Registry struct {
	mu            sync.RWMutex
	plans         map[string]*PlanRecord
	store         Store
	maxConcurrent int
	retention     time.Duration
	logger        *logging.Logger
	now           func() time.Time
}

// NewRegistry creates a registry. store may be nil.
func NewRegistry(store Store, maxConcurrent int, retention time.Duration, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{
		plans:         make(map[string]*PlanRecord),
		store:         store,
		maxConcurrent: maxConcurrent,
		retention:     retention,
		logger:        logger.WithComponent("plan-registry"),
		now:           time.Now,
	}
}

// Restore loads records from the store
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	recs, err := r.store.LoadPlans(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading plans: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		if rec == nil || rec.Key == "" {
			continue
		}
		r.plans[rec.Key] = rec
	}
	r.logger.Info("plan registry restored", "plans", len(recs))
	return len(recs), nil
}

// Register records a plan as PLANNED. A finished plan with the same key is replaced;
// an executing one is not.
func (r *Registry) Register(rec PlanRecord) error {
	r.mu.Lock()
	if cur, ok := r.plans[rec.Key]; ok && cur.Status == StatusExecuting {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPlanExecuting, cur.PlanID)
	}
	now := r.now()
	rec.Status = StatusPlanned
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	stored := rec
	r.plans[rec.Key] = &stored
	r.mu.Unlock()

	r.mirror(&stored)
	return nil
}

// Begin moves a registered plan to EXECUTING
func (r *Registry) Begin(key string) error {
	r.mu.Lock()
	rec, ok := r.plans[key]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("plan %s not registered", key)
	}
	if err := checkTransition(rec.Status, StatusExecuting); err != nil {
		r.mu.Unlock()
		if rec.Status == StatusExecuting {
			return fmt.Errorf("%w: %s", ErrPlanExecuting, rec.PlanID)
		}
		return err
	}
	if r.maxConcurrent > 0 && r.executingLocked() >= r.maxConcurrent {
		r.mu.Unlock()
		return ErrTooManyPlans
	}
	rec.Status = StatusExecuting
	rec.UpdatedAt = r.now()
	snapshot := *rec
	r.mu.Unlock()

	r.mirror(&snapshot)
	return nil
}

// Finish moves an executing plan to COMPLETED or FAILED
func (r *Registry) Finish(key string, status PlanStatus, realized float64) error {
	r.mu.Lock()
	rec, ok := r.plans[key]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("plan %s not registered", key)
	}
	if err := checkTransition(rec.Status, status); err != nil {
		r.mu.Unlock()
		return err
	}
	rec.Status = status
	rec.RealizedProfit = realized
	rec.UpdatedAt = r.now()
	snapshot := *rec
	r.mu.Unlock()

	r.mirror(&snapshot)
	return nil
}

// Status returns the status of the plan with the given key
func (r *Registry) Status(key string) (PlanStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.plans[key]
	if !ok {
		return "", false
	}
	return rec.Status, true
}

// IsExecuting reports whether the keyed plan is EXECUTING
func (r *Registry) IsExecuting(key string) bool {
	s, ok := r.Status(key)
	return ok && s == StatusExecuting
}

// ExecutingCount returns the number of EXECUTING plans
func (r *Registry) ExecutingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.executingLocked()
}

func (r *Registry) executingLocked() int {
	n := 0
	for _, rec := range r.plans {
		if rec.Status == StatusExecuting {
			n++
		}
	}
	return n
}

// Records returns copies of every record, most recently updated first
func (r *Registry) Records() []PlanRecord {
	r.mu.RLock()
	out := make([]PlanRecord, 0, len(r.plans))
	for _, rec := range r.plans {
		out = append(out, *rec)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Prune drops finished plans older than the retention window and fails plans stuck
// in EXECUTING for longer than that.
func (r *Registry) Prune(ctx context.Context) int {
	if r.retention <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.retention)

	var removed []string
	var stuck []PlanRecord
	r.mu.Lock()
	for key, rec := range r.plans {
		if !rec.UpdatedAt.Before(cutoff) {
			continue
		}
		switch {
		case rec.Status.IsFinal():
			delete(r.plans, key)
			removed = append(removed, key)
		case rec.Status == StatusExecuting:
			rec.Status = StatusFailed
			rec.UpdatedAt = r.now()
			stuck = append(stuck, *rec)
		}
	}
	r.mu.Unlock()

	for i := range stuck {
		r.logger.Warn("plan stuck in EXECUTING, marking failed", "plan_id", stuck[i].PlanID)
		r.mirror(&stuck[i])
	}
	if r.store != nil {
		for _, key := range removed {
			if err := r.store.DeletePlan(ctx, key); err != nil {
				r.logger.Warn("failed to delete plan from store", "key", key, "error", err)
			}
		}
	}
	return len(removed)
}

func (r *Registry) mirror(rec *PlanRecord) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.store.SavePlan(ctx, rec); err != nil {
		r.logger.Warn("failed to mirror plan", "plan_id", rec.PlanID, "status", rec.Status, "error", err)
	}
}
