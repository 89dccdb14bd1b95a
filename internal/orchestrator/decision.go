package orchestrator

import (
	"fmt"
	"sort"

	"zone-position-engine/internal/analysis"
	"zone-position-engine/internal/zone"
)

// healthThreshold relaxes the single-zone health requirement when the portfolio is deep in loss
func (o *Orchestrator) healthThreshold(portfolio float64) float64 {
	switch {
	case portfolio < o.cfg.DeepRelaxBelow:
		return o.cfg.ZoneHealthDeep
	case portfolio < o.cfg.RelaxBelowPortfolio:
		return o.cfg.ZoneHealthRelaxed
	default:
		return o.cfg.ZoneHealth
	}
}

// checkSingleZone closes a whole healthy profitable zone (gated) or liquidates a
// critical one (not gated)
func (o *Orchestrator) checkSingleZone(c *cycle) (CloseDecision, bool) {
	analyses := analysis.SortedAnalyses(c.analyses)
	threshold := o.healthThreshold(c.portfolio)

	byProfit := append([]*analysis.ZoneAnalysis(nil), analyses...)
	sort.SliceStable(byProfit, func(i, j int) bool { return byProfit[i].TotalPnL > byProfit[j].TotalPnL })

	for _, za := range byProfit {
		if za.HealthScore < threshold || za.TotalPnL < o.cfg.ZoneMinProfit || za.RiskLevel.IsElevated() {
			continue
		}
		z, ok := o.zones.Zone(za.ZoneID)
		if !ok {
			continue
		}
		tickets := zoneTickets(z)
		gate, ok := o.passGate(c, MethodSingleZoneProfit, za.TotalPnL, len(tickets))
		if !ok {
			continue
		}
		return CloseDecision{
			Reason: fmt.Sprintf("profitable zone %d [%.2f-%.2f]: $%.2f, health %.0f (threshold %.0f)",
				z.ID, z.PriceMin, z.PriceMax, za.TotalPnL, za.HealthScore, threshold),
			Method:      MethodSingleZoneProfit,
			Tickets:     tickets,
			ExpectedPnL: za.TotalPnL,
			ZoneIDs:     []int{z.ID},
			Gate:        &gate,
		}, true
	}

	// most negative first
	for i := len(byProfit) - 1; i >= 0; i-- {
		za := byProfit[i]
		if !za.RiskLevel.IsElevated() || za.TotalPnL >= o.cfg.CriticalZoneLoss || za.HealthScore >= o.cfg.CriticalZoneMaxHealth {
			continue
		}
		z, ok := o.zones.Zone(za.ZoneID)
		if !ok {
			continue
		}
		return CloseDecision{
			Reason: fmt.Sprintf("critical zone %d [%.2f-%.2f]: %s risk, $%.2f, health %.0f",
				z.ID, z.PriceMin, z.PriceMax, za.RiskLevel, za.TotalPnL, za.HealthScore),
			Method:      MethodSingleZoneRisk,
			Tickets:     zoneTickets(z),
			ExpectedPnL: za.TotalPnL,
			ZoneIDs:     []int{z.ID},
		}, true
	}
	return CloseDecision{}, false
}

// checkBalanceRecovery accepts the top-ranked balance plan that is not already executing.
// Acceptance uses the distance-adjusted plan; the gate sees what the close actually books.
func (o *Orchestrator) checkBalanceRecovery(c *cycle) (CloseDecision, bool) {
	var plans []*analysis.CrossZoneBalancePlan
	if o.coordinator != nil {
		plans = o.coordinator.AnalyzeBalanceRecoveryOpportunities(c.snap.Price)
	} else {
		plans = o.analyzer.FindCrossZoneBalancePairs(o.analyzer.DetectBalanceRecoveryOpportunities(c.snap.Price))
	}
	if len(plans) == 0 {
		return CloseDecision{}, false
	}
	best := plans[0]
	if best.ConfidenceScore < o.cfg.BalanceMinConfidence ||
		best.ExpectedProfit < o.cfg.BalanceMinProfit ||
		!best.ExecutionPriority.AtLeast(analysis.PriorityHigh) {
		c.log.Debug("top balance plan below acceptance",
			"plan_id", best.PlanID,
			"confidence", best.ConfidenceScore,
			"expected_profit", best.ExpectedProfit,
			"priority", best.ExecutionPriority)
		return CloseDecision{}, false
	}

	tickets := best.Tickets()
	gate, ok := o.passGate(c, MethodBalanceRecovery, best.GrossProfit(), len(tickets))
	if !ok {
		return CloseDecision{}, false
	}
	return CloseDecision{
		Reason: fmt.Sprintf("balance recovery: zone %d <-> zone %d ($%.2f, %s, confidence %.2f)",
			best.PrimaryZone, best.PartnerZone, best.ExpectedProfit, best.ExecutionPriority, best.ConfidenceScore),
		Method:      MethodBalanceRecovery,
		Tickets:     tickets,
		ExpectedPnL: best.GrossProfit(),
		ZoneIDs:     []int{best.PrimaryZone, best.PartnerZone},
		Gate:        &gate,
		BalancePlan: best,
	}, true
}

// checkCrossZoneSupport accepts the top-ranked support plan
func (o *Orchestrator) checkCrossZoneSupport(c *cycle) (CloseDecision, bool) {
	if o.coordinator == nil {
		return CloseDecision{}, false
	}
	plans := o.coordinator.AnalyzeSupportOpportunities(c.snap.Price)
	if len(plans) == 0 {
		return CloseDecision{}, false
	}
	best := plans[0]
	if best.Confidence < o.cfg.SupportMinConfidence || best.SupportRatio < o.cfg.SupportMinRatio {
		c.log.Debug("top support plan below acceptance",
			"plan_id", best.PlanID,
			"confidence", best.Confidence,
			"support_ratio", best.SupportRatio)
		return CloseDecision{}, false
	}

	tickets := best.Tickets()
	gate, ok := o.passGate(c, MethodCrossZoneSupport, best.GrossProfit(), len(tickets))
	if !ok {
		return CloseDecision{}, false
	}
	return CloseDecision{
		Reason: fmt.Sprintf("cross-zone support: zones %v helping %v (ratio %.2f, confidence %.2f)",
			best.HelperZones, best.TroubledZones, best.SupportRatio, best.Confidence),
		Method:      MethodCrossZoneSupport,
		Tickets:     tickets,
		ExpectedPnL: best.GrossProfit(),
		ZoneIDs:     best.Zones(),
		Gate:        &gate,
		SupportPlan: best,
	}, true
}

func zoneTickets(z *zone.Zone) []int64 {
	positions := z.Positions()
	out := make([]int64, 0, len(positions))
	for _, p := range positions {
		out = append(out, p.Ticket)
	}
	return out
}
