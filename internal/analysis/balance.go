package analysis

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"zone-position-engine/internal/logging"
	"zone-position-engine/internal/zone"
)

// DetectBalanceRecoveryOpportunities flags zones whose volume-weighted buy ratio is
// outside [SellHeavyRatio, BuyHeavyRatio]. Results are ordered by health improvement.
func (a *Analyzer) DetectBalanceRecoveryOpportunities(currentPrice float64) []*BalanceRecoveryAnalysis {
	analyses := a.AnalyzeAllZones(currentPrice)

	var out []*BalanceRecoveryAnalysis
	for _, z := range a.zones.Zones() {
		za, ok := analyses[z.ID]
		if !ok {
			continue
		}
		opp, err := a.safeBalanceAnalysis(z, za)
		if err != nil {
			logging.ZoneContext(a.logger, z.ID).Warn("balance analysis failed, skipping", "error", err)
			continue
		}
		if opp != nil {
			out = append(out, opp)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].HealthImprovementScore != out[j].HealthImprovementScore {
			return out[i].HealthImprovementScore > out[j].HealthImprovementScore
		}
		return out[i].ZoneID < out[j].ZoneID
	})
	return out
}

func (a *Analyzer) safeBalanceAnalysis(z *zone.Zone, za *ZoneAnalysis) (opp *BalanceRecoveryAnalysis, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("zone %d: %v", z.ID, r)
		}
	}()
	return a.balanceAnalysis(z, za), nil
}

func (a *Analyzer) balanceAnalysis(z *zone.Zone, za *ZoneAnalysis) *BalanceRecoveryAnalysis {
	if z.PositionCount() < a.cfg.MinBalancePositions {
		return nil
	}

	var kind ImbalanceType
	switch {
	case z.BalanceRatio > a.cfg.BuyHeavyRatio:
		kind = BuyHeavy
	case z.BalanceRatio < a.cfg.SellHeavyRatio:
		kind = SellHeavy
	default:
		return nil
	}

	side := kind.ExcessSide()
	candidates := append([]zone.Position(nil), z.SidePositions(side)...)
	if len(candidates) == 0 {
		return nil
	}
	zone.SortByProfitDesc(candidates)

	skew := math.Abs(z.BalanceRatio-0.5) * 2
	diff := z.BuyCount - z.SellCount
	if diff < 0 {
		diff = -diff
	}
	excess := int(math.Round(float64(diff) * skew))
	if excess < 1 {
		excess = 1
	}
	if excess > len(candidates) {
		excess = len(candidates)
	}

	return &BalanceRecoveryAnalysis{
		ZoneID:                 z.ID,
		ImbalanceType:          kind,
		BalanceRatio:           z.BalanceRatio,
		ExcessPositions:        excess,
		HealthImprovementScore: a.projectedImprovement(z, side, candidates[:excess]),
		CooperationReadiness:   a.readiness(z, za, skew),
		Confidence:             za.Confidence,
		AvailableProfit:        z.AvailableProfit,
		TotalPnL:               z.TotalPnL,
		Candidates:             candidates,
	}
}

// projectedImprovement estimates the gain from closing the given excess-side positions
func (a *Analyzer) projectedImprovement(z *zone.Zone, side zone.Side, closing []zone.Position) float64 {
	after := z.Clone()
	drop := make(map[int64]bool, len(closing))
	released, loss := 0.0, 0.0
	for _, p := range closing {
		drop[p.Ticket] = true
		if p.Profit > 0 {
			released += p.Profit
		} else {
			loss += -p.Profit
		}
	}

	kept := make([]zone.Position, 0, len(z.SidePositions(side)))
	for _, p := range z.SidePositions(side) {
		if !drop[p.Ticket] {
			kept = append(kept, p)
		}
	}
	if side == zone.SideBuy {
		after.BuyPositions = kept
	} else {
		after.SellPositions = kept
	}
	zone.Recompute(after)

	balanceBefore := BalanceScore(z.BalanceRatio)
	balanceAfter := BalanceScore(after.BalanceRatio)
	if after.PositionCount() == 0 {
		balanceAfter = balanceBefore
	}

	score := 0.4*(balanceAfter-balanceBefore) + 0.4*math.Min(50, released) + 0.2*math.Min(30, 0.5*loss)
	return math.Max(0, score)
}

func (a *Analyzer) readiness(z *zone.Zone, za *ZoneAnalysis, imbalance float64) float64 {
	r := 0.0
	if a.cfg.ReadinessProfitScale > 0 {
		r += 0.4 * math.Min(1, z.AvailableProfit/a.cfg.ReadinessProfitScale)
	}
	r += 0.3 * imbalance
	r += 0.2 * za.Confidence
	if n := z.PositionCount(); n > 0 && z.TotalPnL/float64(n) > 0 {
		r += 0.1
	}
	return clampFinite(r, 0, 1)
}

type pairCandidate struct {
	p, q   *BalanceRecoveryAnalysis
	score  float64
	profit float64
	count  int
}

// FindCrossZoneBalancePairs matches BUY-heavy zones with SELL-heavy zones. Pairs are
// taken greedily by (hi_p + hi_q) x combined confidence, ties broken by expected
// profit; a zone joins at most one plan. Plans that would realise a loss are dropped.
func (a *Analyzer) FindCrossZoneBalancePairs(opps []*BalanceRecoveryAnalysis) []*CrossZoneBalancePlan {
	var buys, sells []*BalanceRecoveryAnalysis
	for _, o := range opps {
		if o == nil || o.ExcessPositions <= 0 {
			continue
		}
		if o.ImbalanceType == BuyHeavy {
			buys = append(buys, o)
		} else {
			sells = append(sells, o)
		}
	}

	var candidates []pairCandidate
	for _, p := range buys {
		for _, q := range sells {
			if p.ZoneID == q.ZoneID {
				continue
			}
			n := minInt(p.ExcessPositions, q.ExcessPositions)
			if a.cfg.MaxPairCloses > 0 {
				n = minInt(n, a.cfg.MaxPairCloses)
			}
			n = minInt(n, minInt(len(p.Candidates), len(q.Candidates)))
			if n <= 0 {
				continue
			}
			profit := 0.0
			for i := 0; i < n; i++ {
				profit += p.Candidates[i].Profit + q.Candidates[i].Profit
			}
			candidates = append(candidates, pairCandidate{
				p:      p,
				q:      q,
				score:  (p.HealthImprovementScore + q.HealthImprovementScore) * (p.Confidence * q.Confidence),
				profit: profit,
				count:  n,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].profit > candidates[j].profit
	})

	used := make(map[int]bool)
	var plans []*CrossZoneBalancePlan
	for _, c := range candidates {
		if used[c.p.ZoneID] || used[c.q.ZoneID] {
			continue
		}
		if c.profit <= 0 {
			a.logger.Debug("balance pair skipped, would realise a loss",
				"primary_zone", c.p.ZoneID, "partner_zone", c.q.ZoneID, "expected_profit", c.profit)
			continue
		}
		used[c.p.ZoneID] = true
		used[c.q.ZoneID] = true
		plans = append(plans, a.buildBalancePlan(c))
	}

	SortBalancePlans(plans)
	return plans
}

// SortBalancePlans orders plans by priority, then confidence, then expected profit
func SortBalancePlans(plans []*CrossZoneBalancePlan) {
	sort.SliceStable(plans, func(i, j int) bool {
		if plans[i].ExecutionPriority.Rank() != plans[j].ExecutionPriority.Rank() {
			return plans[i].ExecutionPriority.Rank() > plans[j].ExecutionPriority.Rank()
		}
		if plans[i].ConfidenceScore != plans[j].ConfidenceScore {
			return plans[i].ConfidenceScore > plans[j].ConfidenceScore
		}
		return plans[i].ExpectedProfit > plans[j].ExpectedProfit
	})
}

func (a *Analyzer) buildBalancePlan(c pairCandidate) *CrossZoneBalancePlan {
	closing := make([]ClosingPosition, 0, 2*c.count)
	for i := 0; i < c.count; i++ {
		closing = append(closing, ClosingPosition{ZoneID: c.p.ZoneID, Position: c.p.Candidates[i]})
	}
	for i := 0; i < c.count; i++ {
		closing = append(closing, ClosingPosition{ZoneID: c.q.ZoneID, Position: c.q.Candidates[i]})
	}

	avgHI := (c.p.HealthImprovementScore + c.q.HealthImprovementScore) / 2
	avgReadiness := (c.p.CooperationReadiness + c.q.CooperationReadiness) / 2
	confidence := 0.3*math.Min(1, math.Max(0, c.profit)/100) +
		0.4*math.Min(1, math.Max(0, avgHI)/100) +
		0.3*avgReadiness

	plan := &CrossZoneBalancePlan{
		PlanID:           uuid.NewString(),
		PrimaryZone:      c.p.ZoneID,
		PartnerZone:      c.q.ZoneID,
		PositionsToClose: closing,
		ExpectedProfit:   c.profit,
		ConfidenceScore:  clampFinite(confidence, 0, 1),
		HealthImprovement: map[int]float64{
			c.p.ZoneID: c.p.HealthImprovementScore,
			c.q.ZoneID: c.q.HealthImprovementScore,
		},
		CreatedAt: a.now(),
	}
	plan.ExecutionPriority = a.balancePriority(plan.ExpectedProfit, plan.ConfidenceScore)
	return plan
}

func (a *Analyzer) balancePriority(profit, confidence float64) Priority {
	switch {
	case profit >= a.cfg.UrgentProfit && confidence >= a.cfg.UrgentConfidence:
		return PriorityUrgent
	case profit >= a.cfg.HighProfit && confidence >= a.cfg.HighConfidence:
		return PriorityHigh
	case profit >= a.cfg.MediumProfit || confidence >= a.cfg.MediumConfidence:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// FindCooperationOpportunities scores every BUY-heavy x SELL-heavy combination for the
// diagnostic report, whether or not it becomes a plan.
func (a *Analyzer) FindCooperationOpportunities(opps []*BalanceRecoveryAnalysis) []CooperationOpportunity {
	var out []CooperationOpportunity
	for _, p := range opps {
		if p.ImbalanceType != BuyHeavy {
			continue
		}
		for _, q := range opps {
			if q.ImbalanceType != SellHeavy {
				continue
			}
			skewP := math.Abs(p.BalanceRatio-0.5) * 2
			skewQ := math.Abs(q.BalanceRatio-0.5) * 2
			complement := 1 - math.Abs(skewP-skewQ)
			combined := p.AvailableProfit + q.AvailableProfit
			synergy := 0.4*complement +
				0.3*math.Min(1, math.Max(0, combined)/100) +
				0.3*(p.CooperationReadiness+q.CooperationReadiness)/2

			distance := p.ZoneID - q.ZoneID
			if distance < 0 {
				distance = -distance
			}
			if distance <= 2 {
				synergy += 0.1
			}

			out = append(out, CooperationOpportunity{
				ZoneA:           p.ZoneID,
				ZoneB:           q.ZoneID,
				Distance:        distance,
				Complementarity: complement,
				CombinedProfit:  combined,
				SynergyScore:    clampFinite(synergy, 0, 1),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SynergyScore > out[j].SynergyScore })
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
