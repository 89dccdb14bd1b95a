package coordinator

import (
	"time"

	"zone-position-engine/internal/analysis"
)

// Config holds the cross-zone support thresholds
type Config struct {
	MinSupportRatio    float64 `json:"min_support_ratio"`
	MaxConcurrentPlans int     `json:"max_concurrent_plans"`

	// One-to-one plans
	MaxHelperCloses int `json:"max_helper_closes"`

	// Many-to-one plans for large deficits
	LargeDeficit           float64 `json:"large_deficit"`
	MultiHelperMinPnL      float64 `json:"multi_helper_min_pnl"`
	MultiHelperMinShare    float64 `json:"multi_helper_min_share"` // contribution after decay
	MaxHelpers             int     `json:"max_helpers"`
	MaxClosesPerHelper     int     `json:"max_closes_per_helper"`
	MultiHelperMinCoverage float64 `json:"multi_helper_min_coverage"`

	SuccessThreshold float64 `json:"success_threshold"`

	// |helper id - troubled id| -> factor; larger distances use DecayBeyond
	DistanceDecay map[int]float64 `json:"distance_decay"`
	DecayBeyond   float64         `json:"decay_beyond"`

	PlanRetention   time.Duration `json:"plan_retention"`
	LedgerRetention time.Duration `json:"ledger_retention"`
}

// DefaultConfig returns the production support thresholds
func DefaultConfig() Config {
	return Config{
		MinSupportRatio:        1.0,
		MaxConcurrentPlans:     3,
		MaxHelperCloses:        3,
		LargeDeficit:           100,
		MultiHelperMinPnL:      20,
		MultiHelperMinShare:    10,
		MaxHelpers:             3,
		MaxClosesPerHelper:     2,
		MultiHelperMinCoverage: 0.7,
		SuccessThreshold:       0.7,
		DistanceDecay: map[int]float64{
			0: 1.0,
			1: 1.0,
			2: 0.9,
			3: 0.8,
			4: 0.7,
		},
		DecayBeyond:     0.5,
		PlanRetention:   time.Hour,
		LedgerRetention: 24 * time.Hour,
	}
}

// Decay returns the efficiency factor for collaboration across distance zones
func (c Config) Decay(distance int) float64 {
	if distance < 0 {
		distance = -distance
	}
	if f, ok := c.DistanceDecay[distance]; ok {
		return f
	}
	return c.DecayBeyond
}

// adjustPriority upgrades close collaboration and downgrades far collaboration
func adjustPriority(base analysis.Priority, distance int) analysis.Priority {
	if distance < 0 {
		distance = -distance
	}
	switch {
	case distance <= 1 && base == analysis.PriorityHigh:
		return analysis.PriorityUrgent
	case distance >= 3 && base == analysis.PriorityUrgent:
		return analysis.PriorityHigh
	default:
		return base
	}
}

func zoneDistance(a, b int) int {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}
