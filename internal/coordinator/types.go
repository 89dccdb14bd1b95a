package coordinator

import (
	"errors"
	"fmt"
	"time"

	"zone-position-engine/internal/analysis"
)

var (
	ErrInvalidTransition = errors.New("invalid plan status transition")
	ErrPlanExecuting     = errors.New("plan is already executing")
	ErrTooManyPlans      = errors.New("maximum concurrent plans executing")
	ErrEmptyPlan         = errors.New("plan has no actions")
)

// PlanStatus is the lifecycle state of a support or balance plan
type PlanStatus string

const (
	StatusPlanned   PlanStatus = "PLANNED"
	StatusExecuting PlanStatus = "EXECUTING"
	StatusCompleted PlanStatus = "COMPLETED"
	StatusFailed    PlanStatus = "FAILED"
)

var transitions = map[PlanStatus][]PlanStatus{
	StatusPlanned:   {StatusExecuting},
	StatusExecuting: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to PlanStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsFinal reports COMPLETED or FAILED
func (s PlanStatus) IsFinal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func checkTransition(from, to PlanStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ActionType is what a support action does
type ActionType string

const (
	ActionCloseProfitable ActionType = "CLOSE_PROFITABLE"
	ActionSupportRecovery ActionType = "SUPPORT_RECOVERY"
)

// PlanKind distinguishes registry entries
type PlanKind string

const (
	KindSupport PlanKind = "support"
	KindBalance PlanKind = "balance"
	KindDirect  PlanKind = "direct"
)

// SupportAction closes a set of positions in one zone
type SupportAction struct {
	Type           ActionType `json:"type"`
	ZoneID         int        `json:"zone_id"`
	Tickets        []int64    `json:"tickets"`
	ExpectedProfit float64    `json:"expected_profit"`
}

// SupportPlan pairs P&L-rich helper zones with a loss-heavy troubled zone
type SupportPlan struct {
	PlanID             string             `json:"plan_id"`
	HelperZones        []int              `json:"helper_zones"`
	TroubledZones      []int              `json:"troubled_zones"`
	TotalHelpAvailable float64            `json:"total_help_available"`
	TotalHelpNeeded    float64            `json:"total_help_needed"`
	SupportRatio       float64            `json:"support_ratio"`
	Actions            []SupportAction    `json:"actions"`
	Status             PlanStatus         `json:"status"`
	Confidence         float64            `json:"confidence"`
	Priority           analysis.Priority  `json:"priority"`
	ExpectedProfit     float64            `json:"expected_profit"` // net of every action, discounted by distance
	ExpectedOutcome    map[string]float64 `json:"expected_outcome,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}

// GrossProfit is what the plan's actions book at current prices, before any distance discount
func (p *SupportPlan) GrossProfit() float64 {
	total := 0.0
	for _, a := range p.Actions {
		total += a.ExpectedProfit
	}
	return total
}

// Tickets returns every ticket the plan closes, in action order
func (p *SupportPlan) Tickets() []int64 {
	var out []int64
	for _, a := range p.Actions {
		out = append(out, a.Tickets...)
	}
	return out
}

// Zones returns helper zones followed by troubled zones
func (p *SupportPlan) Zones() []int {
	out := append([]int(nil), p.HelperZones...)
	return append(out, p.TroubledZones...)
}

// Key identifies the plan by content
func (p *SupportPlan) Key() string {
	return analysis.PlanKey(string(KindSupport), p.Zones(), p.Tickets())
}

// ExecutionResult reports what executing a plan actually achieved
type ExecutionResult struct {
	PlanID            string          `json:"plan_id"`
	PlanKey           string          `json:"plan_key"`
	Kind              PlanKind        `json:"kind"`
	Status            PlanStatus      `json:"status"`
	Success           bool            `json:"success"`
	ActionsAttempted  int             `json:"actions_attempted"`
	ActionsSucceeded  int             `json:"actions_succeeded"`
	PositionsClosed   int             `json:"positions_closed"`
	ClosedTickets     []int64         `json:"closed_tickets"`
	SkippedTickets    []int64         `json:"skipped_tickets,omitempty"` // closed by an earlier execution
	RealizedProfit    float64         `json:"realized_profit"`
	HealthImprovement map[int]float64 `json:"health_improvement"`
	Errors            []string        `json:"errors,omitempty"`
	Duration          time.Duration   `json:"duration"`
}

// SuccessRate is succeeded / attempted, 1 when nothing had to be attempted
func (r *ExecutionResult) SuccessRate() float64 {
	if r.ActionsAttempted == 0 {
		return 1
	}
	return float64(r.ActionsSucceeded) / float64(r.ActionsAttempted)
}

// Summary aggregates plan outcomes held in the registry
type Summary struct {
	ActivePlans     int     `json:"active_plans"`
	PlannedPlans    int     `json:"planned_plans"`
	CompletedPlans  int     `json:"completed_plans"`
	FailedPlans     int     `json:"failed_plans"`
	SuccessRate     float64 `json:"success_rate"`
	TotalRealized   float64 `json:"total_realized"`
	TicketsInLedger int     `json:"tickets_in_ledger"`
}
