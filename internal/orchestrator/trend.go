package orchestrator

import (
	"fmt"
	"sort"

	"zone-position-engine/internal/zone"
)

// checkTrend pairs the best trend-aligned winner with the largest counter-trend loser it
// can carry; a pair the gate refuses moves on to the next smaller loser. Without an
// acceptable pair it takes the single most profitable position.
// Losers are never closed on their own here.
func (o *Orchestrator) checkTrend(c *cycle) (CloseDecision, bool) {
	trend := c.snap.Trend.Normalized()
	if !trend.IsDirectional(o.cfg.TrendMinStrength) {
		return CloseDecision{}, false
	}
	aligned, _ := trend.AlignedSide()

	var winners, losers []zone.Position
	for _, p := range c.candidate {
		switch {
		case p.Side == aligned && p.Profit > 0:
			winners = append(winners, p)
		case p.Side != aligned && p.Profit < 0:
			losers = append(losers, p)
		}
	}
	zone.SortByProfitDesc(winners)
	sort.SliceStable(losers, func(i, j int) bool { return losers[i].Profit < losers[j].Profit })

	if len(winners) > 0 && winners[0].Profit > o.cfg.TrendMinProfit {
		w := winners[0]
		for _, l := range losers {
			net := w.Profit + l.Profit
			if net < o.cfg.TrendMinNet {
				continue
			}
			gate, ok := o.passGate(c, MethodTrendPair, net, 2)
			if !ok {
				continue
			}
			return CloseDecision{
				Reason: fmt.Sprintf("%s trend (strength %.0f): pair #%d $%.2f with counter-trend #%d $%.2f",
					trend.Direction, trend.Strength, w.Ticket, w.Profit, l.Ticket, l.Profit),
				Method:      MethodTrendPair,
				Tickets:     []int64{w.Ticket, l.Ticket},
				ExpectedPnL: net,
				ZoneIDs:     o.zoneIDs(w.Ticket, l.Ticket),
				Gate:        &gate,
			}, true
		}
	}

	best, ok := mostProfitable(c.candidate)
	if !ok || best.Profit < o.cfg.MinProfitClose {
		return CloseDecision{}, false
	}
	gate, ok := o.passGate(c, MethodTrendSingle, best.Profit, 1)
	if !ok {
		return CloseDecision{}, false
	}
	return CloseDecision{
		Reason:      fmt.Sprintf("%s trend (strength %.0f): take profit on #%d $%.2f", trend.Direction, trend.Strength, best.Ticket, best.Profit),
		Method:      MethodTrendSingle,
		Tickets:     []int64{best.Ticket},
		ExpectedPnL: best.Profit,
		ZoneIDs:     o.zoneIDs(best.Ticket),
		Gate:        &gate,
	}, true
}

func mostProfitable(positions []zone.Position) (zone.Position, bool) {
	var best zone.Position
	found := false
	for _, p := range positions {
		if !found || p.Profit > best.Profit {
			best = p
			found = true
		}
	}
	return best, found
}

func (o *Orchestrator) zoneIDs(tickets ...int64) []int {
	seen := map[int]bool{}
	var ids []int
	for _, t := range tickets {
		id, ok := o.zones.ZoneOfTicket(t)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
