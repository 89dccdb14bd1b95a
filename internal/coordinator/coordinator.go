// Package coordinator builds and executes cross-zone support plans, where zones with
// spare profit fund the recovery of loss-heavy zones, and executes balance plans
// produced by the analyzer.
package coordinator

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"zone-position-engine/internal/analysis"
	"zone-position-engine/internal/gateway"
	"zone-position-engine/internal/logging"
	"zone-position-engine/internal/zone"
)

// Coordinator owns the plan registry and the ledger of tickets it has closed
type Coordinator struct {
	cfg      Config
	zones    *zone.Manager
	analyzer *analysis.Analyzer
	gateway  gateway.Gateway
	registry *Registry
	logger   *logging.Logger
	now      func() time.Time

	mu       sync.Mutex
	closed   map[int64]time.Time
	realized decimal.Decimal
}

// New creates a coordinator. A nil registry gets an in-memory one.
func New(cfg Config, zones *zone.Manager, analyzer *analysis.Analyzer, gw gateway.Gateway, registry *Registry, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Nop()
	}
	if registry == nil {
		registry = NewRegistry(nil, cfg.MaxConcurrentPlans, cfg.PlanRetention, logger)
	}
	return &Coordinator{
		cfg:      cfg,
		zones:    zones,
		analyzer: analyzer,
		gateway:  gw,
		registry: registry,
		logger:   logger.WithComponent("zone-coordinator"),
		now:      time.Now,
		closed:   make(map[int64]time.Time),
	}
}

// Config returns the support thresholds
func (c *Coordinator) Config() Config {
	return c.cfg
}

// Registry returns the plan registry
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// AnalyzeSupportOpportunities pairs helper zones (profitable, LOW/MEDIUM risk) with
// troubled zones (losing or HIGH/CRITICAL risk). Plans below MinSupportRatio and
// plans already executing are never returned.
func (c *Coordinator) AnalyzeSupportOpportunities(currentPrice float64) []*SupportPlan {
	analyses := c.analyzer.AnalyzeAllZones(currentPrice)
	if len(analyses) == 0 {
		return nil
	}

	var helpers, troubled []*analysis.ZoneAnalysis
	for _, za := range analysis.SortedAnalyses(analyses) {
		switch {
		case za.TotalPnL > 0 && (za.RiskLevel == analysis.RiskLow || za.RiskLevel == analysis.RiskMedium):
			helpers = append(helpers, za)
		case za.TotalPnL < 0 || za.RiskLevel.IsElevated():
			troubled = append(troubled, za)
		}
	}
	if len(helpers) == 0 || len(troubled) == 0 {
		c.logger.Debug("no support opportunities", "helpers", len(helpers), "troubled", len(troubled))
		return nil
	}

	var plans []*SupportPlan
	keep := func(plan *SupportPlan) {
		if plan == nil || plan.SupportRatio < c.cfg.MinSupportRatio {
			return
		}
		if c.registry.IsExecuting(plan.Key()) {
			logging.PlanContext(c.logger, plan.PlanID, string(KindSupport)).Debug("plan already executing, not re-selected")
			return
		}
		plans = append(plans, plan)
	}

	for _, h := range helpers {
		for _, t := range troubled {
			keep(c.safePlan(t.ZoneID, func() *SupportPlan { return c.singlePlan(h, t) }))
		}
	}
	for _, t := range troubled {
		if t.HelpNeeded > c.cfg.LargeDeficit {
			keep(c.safePlan(t.ZoneID, func() *SupportPlan { return c.multiPlan(helpers, t) }))
		}
	}

	sort.SliceStable(plans, func(i, j int) bool {
		if plans[i].Confidence != plans[j].Confidence {
			return plans[i].Confidence > plans[j].Confidence
		}
		return plans[i].SupportRatio > plans[j].SupportRatio
	})
	if c.cfg.MaxConcurrentPlans > 0 && len(plans) > c.cfg.MaxConcurrentPlans {
		plans = plans[:c.cfg.MaxConcurrentPlans]
	}
	return plans
}

// AnalyzeBalanceRecoveryOpportunities pairs oppositely imbalanced zones through the
// analyzer and applies the distance between the two zones: expected profit and
// confidence are scaled by the decay factor and the priority is adjusted. Plans
// already executing are dropped.
func (c *Coordinator) AnalyzeBalanceRecoveryOpportunities(currentPrice float64) []*analysis.CrossZoneBalancePlan {
	opps := c.analyzer.DetectBalanceRecoveryOpportunities(currentPrice)
	plans := c.analyzer.FindCrossZoneBalancePairs(opps)

	out := make([]*analysis.CrossZoneBalancePlan, 0, len(plans))
	for _, p := range plans {
		if c.registry.IsExecuting(p.Key()) {
			logging.PlanContext(c.logger, p.PlanID, string(KindBalance)).Debug("plan already executing, not re-selected")
			continue
		}
		c.applyDistance(p)
		out = append(out, p)
	}
	analysis.SortBalancePlans(out)
	return out
}

func (c *Coordinator) applyDistance(p *analysis.CrossZoneBalancePlan) {
	distance := zoneDistance(p.PrimaryZone, p.PartnerZone)
	decay := c.cfg.Decay(distance)

	p.DistanceFactor = decay
	p.ExpectedProfit *= decay
	p.ConfidenceScore *= decay
	p.ExecutionPriority = adjustPriority(p.ExecutionPriority, distance)
}

func (c *Coordinator) safePlan(troubledID int, build func() *SupportPlan) (plan *SupportPlan) {
	defer func() {
		if r := recover(); r != nil {
			logging.ZoneContext(c.logger, troubledID).Warn("support plan failed, skipping", "error", fmt.Sprint(r))
			plan = nil
		}
	}()
	return build()
}

func (c *Coordinator) singlePlan(h, t *analysis.ZoneAnalysis) *SupportPlan {
	distance := zoneDistance(h.ZoneID, t.ZoneID)
	decay := c.cfg.Decay(distance)

	available := h.AvailableProfit * decay
	need := t.HelpNeeded
	if available <= 0 || need <= 0 {
		return nil
	}
	ratio := available / need

	helperZone, ok := c.zones.Zone(h.ZoneID)
	if !ok {
		return nil
	}
	troubledZone, ok := c.zones.Zone(t.ZoneID)
	if !ok {
		return nil
	}

	closeAction := c.profitableAction(helperZone, c.cfg.MaxHelperCloses, need)
	if closeAction == nil {
		return nil
	}
	actions := []SupportAction{*closeAction}
	if rec := c.recoveryAction(troubledZone, closeAction.ExpectedProfit); rec != nil {
		actions = append(actions, *rec)
	}

	plan := &SupportPlan{
		PlanID:             uuid.NewString(),
		HelperZones:        []int{h.ZoneID},
		TroubledZones:      []int{t.ZoneID},
		TotalHelpAvailable: available,
		TotalHelpNeeded:    need,
		SupportRatio:       ratio,
		Actions:            actions,
		Status:             StatusPlanned,
		Confidence:         math.Min(0.9, decay*math.Min(ratio, 1.5)*0.6+0.1*h.Confidence),
		Priority:           adjustPriority(t.Priority, distance),
		CreatedAt:          c.now(),
	}
	c.finishPlan(plan, need, decay)
	return plan
}

func (c *Coordinator) multiPlan(helpers []*analysis.ZoneAnalysis, t *analysis.ZoneAnalysis) *SupportPlan {
	need := t.HelpNeeded

	var candidates []*analysis.ZoneAnalysis
	for _, h := range helpers {
		if h.TotalPnL > c.cfg.MultiHelperMinPnL {
			candidates = append(candidates, h)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].AvailableProfit > candidates[j].AvailableProfit })

	type share struct {
		za        *analysis.ZoneAnalysis
		available float64
	}
	var selected []share
	total, undiscounted := 0.0, 0.0
	nearest := math.MaxInt32
	for _, h := range candidates {
		if len(selected) >= c.cfg.MaxHelpers {
			break
		}
		d := zoneDistance(h.ZoneID, t.ZoneID)
		available := h.AvailableProfit * c.cfg.Decay(d)
		if available <= c.cfg.MultiHelperMinShare {
			continue
		}
		selected = append(selected, share{za: h, available: available})
		total += available
		undiscounted += h.AvailableProfit
		if d < nearest {
			nearest = d
		}
		if total >= need {
			break
		}
	}
	// a single sufficient helper is already covered by the one-to-one plan
	if len(selected) < 2 || total < need*c.cfg.MultiHelperMinCoverage {
		return nil
	}

	troubledZone, ok := c.zones.Zone(t.ZoneID)
	if !ok {
		return nil
	}

	var actions []SupportAction
	var helperIDs []int
	funded := 0.0
	for _, s := range selected {
		z, ok := c.zones.Zone(s.za.ZoneID)
		if !ok {
			continue
		}
		a := c.profitableAction(z, c.cfg.MaxClosesPerHelper, math.Inf(1))
		if a == nil {
			continue
		}
		actions = append(actions, *a)
		helperIDs = append(helperIDs, s.za.ZoneID)
		funded += a.ExpectedProfit
	}
	if len(actions) == 0 {
		return nil
	}
	if rec := c.recoveryAction(troubledZone, funded); rec != nil {
		actions = append(actions, *rec)
	}

	ratio := total / need
	plan := &SupportPlan{
		PlanID:             uuid.NewString(),
		HelperZones:        helperIDs,
		TroubledZones:      []int{t.ZoneID},
		TotalHelpAvailable: total,
		TotalHelpNeeded:    need,
		SupportRatio:       ratio,
		Actions:            actions,
		Status:             StatusPlanned,
		Confidence:         math.Min(0.85, math.Min(ratio, 1.2)*0.7),
		Priority:           adjustPriority(t.Priority, nearest),
		CreatedAt:          c.now(),
	}
	// helpers at different distances: the overall efficiency is their weighted decay
	c.finishPlan(plan, need, total/undiscounted)
	return plan
}

// profitableAction closes up to limit profitable positions of z, most profitable first,
// stopping once target is covered
func (c *Coordinator) profitableAction(z *zone.Zone, limit int, target float64) *SupportAction {
	positions := z.Positions()
	zone.SortByProfitDesc(positions)

	a := &SupportAction{Type: ActionCloseProfitable, ZoneID: z.ID}
	for _, p := range positions {
		if p.Profit <= 0 || len(a.Tickets) >= limit || a.ExpectedProfit >= target {
			break
		}
		if c.IsClosed(p.Ticket) {
			continue
		}
		a.Tickets = append(a.Tickets, p.Ticket)
		a.ExpectedProfit += p.Profit
	}
	if len(a.Tickets) == 0 {
		return nil
	}
	return a
}

// recoveryAction closes the troubled zone's losers, smallest loss first, while the
// accumulated loss stays within budget
func (c *Coordinator) recoveryAction(z *zone.Zone, budget float64) *SupportAction {
	positions := z.Positions()
	zone.SortByProfitDesc(positions)

	a := &SupportAction{Type: ActionSupportRecovery, ZoneID: z.ID}
	loss := 0.0
	for _, p := range positions {
		if p.Profit >= 0 || c.IsClosed(p.Ticket) {
			continue
		}
		if loss-p.Profit > budget {
			break
		}
		loss -= p.Profit
		a.Tickets = append(a.Tickets, p.Ticket)
		a.ExpectedProfit += p.Profit
	}
	if len(a.Tickets) == 0 {
		return nil
	}
	return a
}

// finishPlan sets the plan's expected profit, discounted by the distance efficiency
func (c *Coordinator) finishPlan(plan *SupportPlan, need, efficiency float64) {
	recovered := 0.0
	for _, a := range plan.Actions {
		if a.Type == ActionSupportRecovery {
			recovered -= a.ExpectedProfit
		}
	}
	gross := plan.GrossProfit()
	plan.ExpectedProfit = gross * efficiency
	plan.ExpectedOutcome = map[string]float64{
		"gross_profit":    gross,
		"distance_factor": efficiency,
		"help_applied":    math.Min(plan.TotalHelpAvailable, need),
		"risk_reduction":  recovered,
		"zones_improved":  float64(len(plan.HelperZones) + len(plan.TroubledZones)),
	}
}
