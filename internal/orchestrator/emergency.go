package orchestrator

import (
	"fmt"
	"math"
	"sort"

	"zone-position-engine/internal/analysis"
	"zone-position-engine/internal/zone"
)

// checkEmergency handles the single most critical zone. Strong helpers that cover
// enough of its loss release profit (gated); with no helpers at all a bounded loss
// is cut by closing the whole zone (not gated).
func (o *Orchestrator) checkEmergency(c *cycle) (CloseDecision, bool) {
	var critical *analysis.ZoneAnalysis
	for _, za := range analysis.SortedAnalyses(c.analyses) {
		if za.Status != zone.StatusCritical {
			continue
		}
		if critical == nil || za.TotalPnL < critical.TotalPnL {
			critical = za
		}
	}
	if critical == nil {
		return CloseDecision{}, false
	}

	var helpers []*analysis.ZoneAnalysis
	available := 0.0
	for _, za := range c.analyses {
		if za.ZoneID == critical.ZoneID || za.TotalPnL <= o.cfg.EmergencyHelperMinPnL || za.RiskLevel != analysis.RiskLow {
			continue
		}
		helpers = append(helpers, za)
		available += za.AvailableProfit
	}
	sort.SliceStable(helpers, func(i, j int) bool {
		if helpers[i].TotalPnL != helpers[j].TotalPnL {
			return helpers[i].TotalPnL > helpers[j].TotalPnL
		}
		return helpers[i].ZoneID < helpers[j].ZoneID
	})

	log := c.log.WithField("critical_zone", critical.ZoneID)
	need := math.Abs(critical.TotalPnL)

	if len(helpers) > 0 {
		if available < need*o.cfg.EmergencyCoverage {
			log.Debug("helpers cannot cover critical zone", "available", available, "need", need, "helpers", len(helpers))
			return CloseDecision{}, false
		}

		var tickets []int64
		var zoneIDs []int
		expected := 0.0
		for i, h := range helpers {
			if i >= o.cfg.EmergencyMaxHelpers {
				break
			}
			z, ok := o.zones.Zone(h.ZoneID)
			if !ok {
				continue
			}
			positions := z.Positions()
			zone.SortByProfitDesc(positions)
			taken := 0
			for _, p := range positions {
				if p.Profit <= 0 || taken >= o.cfg.EmergencyClosesPerHelper {
					break
				}
				tickets = append(tickets, p.Ticket)
				expected += p.Profit
				taken++
			}
			if taken > 0 {
				zoneIDs = append(zoneIDs, z.ID)
			}
		}
		if len(tickets) == 0 {
			return CloseDecision{}, false
		}
		gate, ok := o.passGate(c, MethodEmergencyRecovery, expected, len(tickets))
		if !ok {
			return CloseDecision{}, false
		}
		return CloseDecision{
			Reason: fmt.Sprintf("emergency recovery for critical zone %d ($%.2f): $%.2f released from zones %v",
				critical.ZoneID, critical.TotalPnL, expected, zoneIDs),
			Method:      MethodEmergencyRecovery,
			Tickets:     tickets,
			ExpectedPnL: expected,
			ZoneIDs:     zoneIDs,
			Gate:        &gate,
		}, true
	}

	if critical.TotalPnL <= o.cfg.EmergencyMaxLoss {
		log.Warn("critical zone loss too deep for damage control, holding", "pnl", critical.TotalPnL)
		return CloseDecision{}, false
	}
	z, ok := o.zones.Zone(critical.ZoneID)
	if !ok {
		return CloseDecision{}, false
	}
	return CloseDecision{
		Reason:      fmt.Sprintf("emergency closure of critical zone %d ($%.2f), no helpers available", z.ID, critical.TotalPnL),
		Method:      MethodEmergencyClosure,
		Tickets:     zoneTickets(z),
		ExpectedPnL: critical.TotalPnL,
		ZoneIDs:     []int{z.ID},
	}, true
}
