package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"zone-position-engine/internal/analysis"
	"zone-position-engine/internal/logging"
	"zone-position-engine/internal/zone"
)

const unknownZone = math.MinInt32

// unit is one independently judged piece of a plan: a support action, or the
// positions of one zone in a balance plan
type unit struct {
	zoneID    int
	tickets   []int64
	perTicket bool
}

// ExecuteSupportPlan runs the plan's actions in order against the gateway. The plan
// is COMPLETED when at least SuccessThreshold of the attempted actions succeed.
func (c *Coordinator) ExecuteSupportPlan(ctx context.Context, plan *SupportPlan) (*ExecutionResult, error) {
	if plan == nil || len(plan.Actions) == 0 {
		return nil, ErrEmptyPlan
	}
	units := make([]unit, 0, len(plan.Actions))
	for _, a := range plan.Actions {
		units = append(units, unit{zoneID: a.ZoneID, tickets: a.Tickets})
	}
	rec := PlanRecord{
		Key:            plan.Key(),
		PlanID:         plan.PlanID,
		Kind:           KindSupport,
		Zones:          plan.Zones(),
		Tickets:        plan.Tickets(),
		ExpectedProfit: plan.ExpectedProfit,
		CreatedAt:      plan.CreatedAt,
	}

	plan.Status = StatusExecuting
	res, err := c.execute(ctx, rec, units)
	if err != nil {
		plan.Status = StatusPlanned
		return nil, err
	}
	plan.Status = res.Status
	return res, nil
}

// ExecuteBalanceRecoveryPlan closes the plan's positions zone by zone. Success is
// judged per position. Positions closed by an earlier execution are skipped and
// neither re-closed nor counted again.
func (c *Coordinator) ExecuteBalanceRecoveryPlan(ctx context.Context, plan *analysis.CrossZoneBalancePlan) (*ExecutionResult, error) {
	if plan == nil || len(plan.PositionsToClose) == 0 {
		return nil, ErrEmptyPlan
	}

	byZone := map[int][]int64{}
	var order []int
	for _, cp := range plan.PositionsToClose {
		if _, ok := byZone[cp.ZoneID]; !ok {
			order = append(order, cp.ZoneID)
		}
		byZone[cp.ZoneID] = append(byZone[cp.ZoneID], cp.Position.Ticket)
	}
	units := make([]unit, 0, len(order))
	for _, id := range order {
		units = append(units, unit{zoneID: id, tickets: byZone[id], perTicket: true})
	}

	rec := PlanRecord{
		Key:            plan.Key(),
		PlanID:         plan.PlanID,
		Kind:           KindBalance,
		Zones:          []int{plan.PrimaryZone, plan.PartnerZone},
		Tickets:        plan.Tickets(),
		ExpectedProfit: plan.ExpectedProfit,
		CreatedAt:      plan.CreatedAt,
	}
	return c.execute(ctx, rec, units)
}

// ExecuteClose closes tickets chosen outside a plan (trend, single-zone and emergency
// decisions) with the same ledger and registry bookkeeping as plans.
func (c *Coordinator) ExecuteClose(ctx context.Context, decisionID string, tickets []int64) (*ExecutionResult, error) {
	if len(tickets) == 0 {
		return nil, ErrEmptyPlan
	}

	byZone := map[int][]int64{}
	var order []int
	for _, t := range tickets {
		id := unknownZone
		if c.zones != nil {
			if zid, ok := c.zones.ZoneOfTicket(t); ok {
				id = zid
			}
		}
		if _, seen := byZone[id]; !seen {
			order = append(order, id)
		}
		byZone[id] = append(byZone[id], t)
	}
	units := make([]unit, 0, len(order))
	var zones []int
	for _, id := range order {
		units = append(units, unit{zoneID: id, tickets: byZone[id], perTicket: true})
		if id != unknownZone {
			zones = append(zones, id)
		}
	}

	rec := PlanRecord{
		Key:     analysis.PlanKey(string(KindDirect), zones, tickets),
		PlanID:  decisionID,
		Kind:    KindDirect,
		Zones:   zones,
		Tickets: tickets,
	}
	return c.execute(ctx, rec, units)
}

func (c *Coordinator) execute(ctx context.Context, rec PlanRecord, units []unit) (*ExecutionResult, error) {
	if c.gateway == nil {
		return nil, errors.New("no execution gateway configured")
	}
	log := logging.PlanContext(c.logger, rec.PlanID, string(rec.Kind))

	if err := c.registry.Register(rec); err != nil {
		return nil, err
	}
	if err := c.registry.Begin(rec.Key); err != nil {
		return nil, err
	}

	start := c.now()
	before := c.healthOf(rec.Zones)
	result := &ExecutionResult{
		PlanID:  rec.PlanID,
		PlanKey: rec.Key,
		Kind:    rec.Kind,
	}
	realized := decimal.Zero
	closedNow := map[int64]bool{}
	var gatewayErr error

	for i, u := range units {
		pending := make([]int64, 0, len(u.tickets))
		for _, t := range u.tickets {
			if c.IsClosed(t) {
				result.SkippedTickets = append(result.SkippedTickets, t)
				continue
			}
			pending = append(pending, t)
		}
		if len(pending) == 0 {
			continue
		}

		weight := 1
		if u.perTicket {
			weight = len(pending)
		}
		result.ActionsAttempted += weight

		if gatewayErr != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("step %d (zone %d) not run after gateway failure", i+1, u.zoneID))
			continue
		}

		res, err := c.gateway.ClosePositions(ctx, pending)
		if err != nil {
			gatewayErr = err
			result.Errors = append(result.Errors, fmt.Sprintf("step %d (zone %d): %v", i+1, u.zoneID, err))
			log.Warn("close request failed", "zone_id", u.zoneID, "tickets", len(pending), "error", err)
			continue
		}

		closedSet := res.ClosedSet()
		succeeded := 0
		for _, t := range pending {
			if closedSet[t] {
				succeeded++
				closedNow[t] = true
				result.ClosedTickets = append(result.ClosedTickets, t)
			}
		}
		c.markClosed(result.ClosedTickets[len(result.ClosedTickets)-succeeded:])
		realized = realized.Add(decimal.NewFromFloat(res.TotalProfit))

		if u.perTicket {
			result.ActionsSucceeded += succeeded
		} else if res.Success && succeeded == len(pending) {
			result.ActionsSucceeded++
		}
		if !res.Success && res.ErrorMessage != "" {
			result.Errors = append(result.Errors, fmt.Sprintf("step %d (zone %d): %s", i+1, u.zoneID, res.ErrorMessage))
		}
	}

	result.PositionsClosed = len(result.ClosedTickets)
	result.RealizedProfit, _ = realized.Float64()
	result.HealthImprovement = c.healthDelta(rec.Zones, before, closedNow)
	result.Success = result.SuccessRate() >= c.cfg.SuccessThreshold
	result.Status = StatusFailed
	if result.Success {
		result.Status = StatusCompleted
	}
	result.Duration = c.now().Sub(start)

	c.mu.Lock()
	c.realized = c.realized.Add(realized)
	c.mu.Unlock()

	if err := c.registry.Finish(rec.Key, result.Status, result.RealizedProfit); err != nil {
		log.Error("failed to finish plan", "error", err)
	}

	log.Info("plan executed",
		"status", result.Status,
		"attempted", result.ActionsAttempted,
		"succeeded", result.ActionsSucceeded,
		"closed", result.PositionsClosed,
		"skipped", len(result.SkippedTickets),
		"realized", result.RealizedProfit)
	return result, nil
}

func (c *Coordinator) healthOf(ids []int) map[int]float64 {
	out := make(map[int]float64, len(ids))
	if c.zones == nil {
		return out
	}
	for _, id := range ids {
		if z, ok := c.zones.Zone(id); ok {
			out[id] = z.HealthScore
		}
	}
	return out
}

// healthDelta rescores each zone without the positions closed by this execution.
// A zone closed out entirely counts as fully healthy.
func (c *Coordinator) healthDelta(ids []int, before map[int]float64, closed map[int64]bool) map[int]float64 {
	out := make(map[int]float64, len(ids))
	if c.zones == nil {
		return out
	}
	for _, id := range ids {
		z, ok := c.zones.Zone(id)
		if !ok {
			continue
		}
		after := z.Clone()
		after.BuyPositions = withoutTickets(after.BuyPositions, closed)
		after.SellPositions = withoutTickets(after.SellPositions, closed)
		zone.Recompute(after)

		score := 100.0
		if after.PositionCount() > 0 {
			c.zones.Scorer().Score(after)
			score = after.HealthScore
		}
		out[id] = score - before[id]
	}
	return out
}

func withoutTickets(positions []zone.Position, drop map[int64]bool) []zone.Position {
	out := positions[:0]
	for _, p := range positions {
		if !drop[p.Ticket] {
			out = append(out, p)
		}
	}
	return out
}

func (c *Coordinator) markClosed(tickets []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for _, t := range tickets {
		c.closed[t] = now
	}
}

// IsClosed reports whether the coordinator has already closed the ticket
func (c *Coordinator) IsClosed(ticket int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.closed[ticket]
	return ok
}

// MarkClosed records tickets closed outside plan execution
func (c *Coordinator) MarkClosed(tickets []int64) {
	c.markClosed(tickets)
}

// Prune drops old ledger entries and finished plans
func (c *Coordinator) Prune(ctx context.Context) {
	removed := c.registry.Prune(ctx)

	forgotten := 0
	if c.cfg.LedgerRetention > 0 {
		cutoff := c.now().Add(-c.cfg.LedgerRetention)
		c.mu.Lock()
		for t, at := range c.closed {
			if at.Before(cutoff) {
				delete(c.closed, t)
				forgotten++
			}
		}
		c.mu.Unlock()
	}
	if removed > 0 || forgotten > 0 {
		c.logger.Debug("coordinator housekeeping", "plans_removed", removed, "tickets_forgotten", forgotten)
	}
}

// Summary aggregates plan outcomes
func (c *Coordinator) Summary() Summary {
	var s Summary
	for _, rec := range c.registry.Records() {
		switch rec.Status {
		case StatusExecuting:
			s.ActivePlans++
		case StatusPlanned:
			s.PlannedPlans++
		case StatusCompleted:
			s.CompletedPlans++
		case StatusFailed:
			s.FailedPlans++
		}
	}
	if finished := s.CompletedPlans + s.FailedPlans; finished > 0 {
		s.SuccessRate = float64(s.CompletedPlans) / float64(finished)
	}

	c.mu.Lock()
	s.TotalRealized, _ = c.realized.Float64()
	s.TicketsInLedger = len(c.closed)
	c.mu.Unlock()
	return s
}
