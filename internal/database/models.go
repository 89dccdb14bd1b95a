package database

import (
	"encoding/json"
	"time"

	"zone-position-engine/internal/coordinator"
	"zone-position-engine/internal/orchestrator"
)

// DecisionRecord is one journaled close decision
type DecisionRecord struct {
	DecisionID     string          `json:"decision_id"`
	ShouldClose    bool            `json:"should_close"`
	Method         string          `json:"method"`
	Reason         string          `json:"reason"`
	Tickets        []int64         `json:"tickets"`
	ZoneIDs        []int32         `json:"zone_ids"`
	ExpectedPnL    float64         `json:"expected_pnl"`
	Price          float64         `json:"price"`
	GateCode       *string         `json:"gate_code,omitempty"`
	GateRejections int             `json:"gate_rejections"`
	PlanID         *string         `json:"plan_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	DecidedAt      time.Time       `json:"decided_at"`
}

// ExecutionRecord is one journaled plan execution
type ExecutionRecord struct {
	ID               int64     `json:"id"`
	DecisionID       string    `json:"decision_id"`
	PlanID           string    `json:"plan_id"`
	PlanKey          string    `json:"plan_key"`
	Kind             string    `json:"kind"`
	Status           string    `json:"status"`
	ActionsAttempted int       `json:"actions_attempted"`
	ActionsSucceeded int       `json:"actions_succeeded"`
	ClosedTickets    []int64   `json:"closed_tickets"`
	SkippedTickets   []int64   `json:"skipped_tickets"`
	RealizedProfit   float64   `json:"realized_profit"`
	Errors           []string  `json:"errors"`
	Error            *string   `json:"error,omitempty"`
	DurationMs       int64     `json:"duration_ms"`
	ExecutedAt       time.Time `json:"executed_at"`
}

// MethodStats aggregates journaled decisions per method
type MethodStats struct {
	Method      string  `json:"method"`
	Decisions   int     `json:"decisions"`
	Closes      int     `json:"closes"`
	ExpectedPnL float64 `json:"expected_pnl"`
}

// NewDecisionRecord converts a decision for the journal. Plans and the diagnostic
// report are kept in the JSON payload.
func NewDecisionRecord(d orchestrator.CloseDecision) DecisionRecord {
	rec := DecisionRecord{
		DecisionID:     d.DecisionID,
		ShouldClose:    d.ShouldClose,
		Method:         string(d.Method),
		Reason:         d.Reason,
		Tickets:        append([]int64{}, d.Tickets...),
		ZoneIDs:        make([]int32, 0, len(d.ZoneIDs)),
		ExpectedPnL:    d.ExpectedPnL,
		Price:          d.Price,
		GateRejections: d.GateRejections,
		DecidedAt:      d.DecidedAt,
	}
	for _, id := range d.ZoneIDs {
		rec.ZoneIDs = append(rec.ZoneIDs, int32(id))
	}
	if d.Gate != nil {
		code := string(d.Gate.Code)
		if code == "" {
			code = "SAFE"
		}
		rec.GateCode = &code
	}
	switch {
	case d.BalancePlan != nil:
		rec.PlanID = &d.BalancePlan.PlanID
	case d.SupportPlan != nil:
		rec.PlanID = &d.SupportPlan.PlanID
	}

	payload := struct {
		Balance interface{} `json:"balance_plan,omitempty"`
		Support interface{} `json:"support_plan,omitempty"`
		Report  interface{} `json:"report,omitempty"`
	}{}
	if d.BalancePlan != nil {
		payload.Balance = d.BalancePlan
	}
	if d.SupportPlan != nil {
		payload.Support = d.SupportPlan
	}
	if d.Report != nil {
		payload.Report = d.Report
	}
	if payload.Balance != nil || payload.Support != nil || payload.Report != nil {
		if data, err := json.Marshal(payload); err == nil {
			rec.Payload = data
		}
	}
	return rec
}

// NewExecutionRecord converts an execution outcome for the journal. A nil result
// (the plan could not start) is recorded as FAILED with the error.
func NewExecutionRecord(decisionID string, res *coordinator.ExecutionResult, execErr error, at time.Time) ExecutionRecord {
	rec := ExecutionRecord{
		DecisionID:     decisionID,
		Status:         string(coordinator.StatusFailed),
		ClosedTickets:  []int64{},
		SkippedTickets: []int64{},
		Errors:         []string{},
		ExecutedAt:     at,
	}
	if execErr != nil {
		msg := execErr.Error()
		rec.Error = &msg
	}
	if res == nil {
		rec.PlanID = decisionID
		return rec
	}
	rec.PlanID = res.PlanID
	rec.PlanKey = res.PlanKey
	rec.Kind = string(res.Kind)
	rec.Status = string(res.Status)
	rec.ActionsAttempted = res.ActionsAttempted
	rec.ActionsSucceeded = res.ActionsSucceeded
	rec.ClosedTickets = append(rec.ClosedTickets, res.ClosedTickets...)
	rec.SkippedTickets = append(rec.SkippedTickets, res.SkippedTickets...)
	rec.RealizedProfit = res.RealizedProfit
	rec.Errors = append(rec.Errors, res.Errors...)
	rec.DurationMs = res.Duration.Milliseconds()
	return rec
}
