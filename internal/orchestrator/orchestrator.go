// Package orchestrator runs the ordered, first-match-wins closing policy over the
// zone engine each cycle and hands the chosen tickets to the coordinator for execution.
package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"zone-position-engine/internal/analysis"
	"zone-position-engine/internal/coordinator"
	"zone-position-engine/internal/logging"
	"zone-position-engine/internal/risk"
	"zone-position-engine/internal/zone"
)

// Method names the policy branch that produced a decision
type Method string

const (
	MethodNone              Method = "none"
	MethodTrendPair         Method = "trend_pair"
	MethodTrendSingle       Method = "trend_single"
	MethodSingleZoneProfit  Method = "single_zone_profit"
	MethodSingleZoneRisk    Method = "single_zone_risk"
	MethodBalanceRecovery   Method = "balance_recovery"
	MethodCrossZoneSupport  Method = "cross_zone_support"
	MethodEmergencyRecovery Method = "emergency_recovery"
	MethodEmergencyClosure  Method = "emergency_closure"
)

// Config holds the decision thresholds
type Config struct {
	MinPositions int `json:"min_positions"`

	// Trend-aware closing
	TrendMinStrength float64 `json:"trend_min_strength"`
	TrendMinNet      float64 `json:"trend_min_net"`    // pair net P&L floor
	TrendMinProfit   float64 `json:"trend_min_profit"` // aligned winner must exceed this
	MinProfitClose   float64 `json:"min_profit_close"` // single-position fallback

	// Single-zone closing
	ZoneHealth            float64 `json:"zone_health"`
	ZoneHealthRelaxed     float64 `json:"zone_health_relaxed"`
	ZoneHealthDeep        float64 `json:"zone_health_deep"`
	RelaxBelowPortfolio   float64 `json:"relax_below_portfolio"`
	DeepRelaxBelow        float64 `json:"deep_relax_below"`
	ZoneMinProfit         float64 `json:"zone_min_profit"`
	CriticalZoneLoss      float64 `json:"critical_zone_loss"`
	CriticalZoneMaxHealth float64 `json:"critical_zone_max_health"`

	// Plan acceptance
	BalanceMinConfidence float64 `json:"balance_min_confidence"`
	BalanceMinProfit     float64 `json:"balance_min_profit"`
	SupportMinConfidence float64 `json:"support_min_confidence"`
	SupportMinRatio      float64 `json:"support_min_ratio"`

	// Emergency recovery
	EmergencyHelperMinPnL    float64 `json:"emergency_helper_min_pnl"`
	EmergencyCoverage        float64 `json:"emergency_coverage"`
	EmergencyMaxHelpers      int     `json:"emergency_max_helpers"`
	EmergencyClosesPerHelper int     `json:"emergency_closes_per_helper"`
	EmergencyMaxLoss         float64 `json:"emergency_max_loss"` // whole-zone closure only above this

	HistorySize int `json:"history_size"`
}

// DefaultConfig returns the production decision thresholds
func DefaultConfig() Config {
	return Config{
		MinPositions: 2,

		TrendMinStrength: 30,
		TrendMinNet:      -5,
		TrendMinProfit:   10,
		MinProfitClose:   10,

		ZoneHealth:            75,
		ZoneHealthRelaxed:     70,
		ZoneHealthDeep:        65,
		RelaxBelowPortfolio:   -100,
		DeepRelaxBelow:        -300,
		ZoneMinProfit:         5,
		CriticalZoneLoss:      -50,
		CriticalZoneMaxHealth: 40,

		BalanceMinConfidence: 0.6,
		BalanceMinProfit:     10,
		SupportMinConfidence: 0.7,
		SupportMinRatio:      1.0,

		EmergencyHelperMinPnL:    50,
		EmergencyCoverage:        0.7,
		EmergencyMaxHelpers:      2,
		EmergencyClosesPerHelper: 2,
		EmergencyMaxLoss:         -300,

		HistorySize: 200,
	}
}

// Snapshot is one cycle's read-only input
type Snapshot struct {
	Positions []zone.Position      `json:"positions" yaml:"positions"`
	Trend     analysis.TrendSignal `json:"trend" yaml:"trend"`
	Price     float64              `json:"price" yaml:"price"`
	// Protected tickets (hedge guards and the like) are never selected for closing
	Protected []int64 `json:"protected,omitempty" yaml:"protected,omitempty"`
}

// CloseDecision is the outcome of one policy evaluation
type CloseDecision struct {
	DecisionID  string                         `json:"decision_id"`
	ShouldClose bool                           `json:"should_close"`
	Reason      string                         `json:"reason"`
	Method      Method                         `json:"method"`
	Tickets     []int64                        `json:"tickets"`
	Positions   []zone.Position                `json:"positions,omitempty"`
	ExpectedPnL float64                        `json:"expected_pnl"`
	ZoneIDs     []int                          `json:"zone_ids,omitempty"`
	Gate        *risk.GateDecision             `json:"gate,omitempty"`
	BalancePlan *analysis.CrossZoneBalancePlan `json:"balance_plan,omitempty"`
	SupportPlan *coordinator.SupportPlan       `json:"support_plan,omitempty"`
	Report      *Report                        `json:"report,omitempty"`
	Price       float64                        `json:"price"`
	DecidedAt   time.Time                      `json:"decided_at"`

	// candidates the portfolio gate refused during this cycle
	GateRejections int `json:"gate_rejections,omitempty"`
}

// Orchestrator evaluates the closing policy. ShouldClosePositions and Execute are
// called by a single decision loop.
type Orchestrator struct {
	cfg         Config
	zones       *zone.Manager
	analyzer    *analysis.Analyzer
	coordinator *coordinator.Coordinator
	gate        *risk.PolicyGate
	logger      *logging.Logger
	now         func() time.Time

	mu        sync.RWMutex
	decisions []*CloseDecision
	stats     Stats
}

// Stats counts decisions by outcome
type Stats struct {
	Cycles         int            `json:"cycles"`
	Closes         int            `json:"closes"`
	GateRejections int            `json:"gate_rejections"`
	ByMethod       map[Method]int `json:"by_method"`
	LastDecisionAt time.Time      `json:"last_decision_at"`
}

// New creates an orchestrator over an already wired zone engine
func New(cfg Config, zones *zone.Manager, analyzer *analysis.Analyzer, coord *coordinator.Coordinator, gate *risk.PolicyGate, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Nop()
	}
	if gate == nil {
		gate = risk.NewPolicyGate(risk.DefaultGateConfig())
	}
	return &Orchestrator{
		cfg:         cfg,
		zones:       zones,
		analyzer:    analyzer,
		coordinator: coord,
		gate:        gate,
		logger:      logger.WithComponent("orchestrator"),
		now:         time.Now,
		stats:       Stats{ByMethod: map[Method]int{}},
	}
}

// cycle carries one evaluation's derived state between the policy branches
type cycle struct {
	snap      Snapshot
	log       *logging.Logger
	candidate []zone.Position // closable positions (protected removed)
	byTicket  map[int64]zone.Position
	portfolio float64 // P&L of every open position, protected included
	open      int
	analyses  map[int]*analysis.ZoneAnalysis
	gateSkips int
}

// ShouldClosePositions rebuilds zones from the snapshot and runs the policy branches in
// order: trend, single zone, balance recovery, support, emergency. It never panics; an
// internal failure yields a no-action decision carrying the reason.
func (o *Orchestrator) ShouldClosePositions(ctx context.Context, snap Snapshot) (decision CloseDecision) {
	decisionID := uuid.NewString()
	log := logging.CycleContext(o.logger, decisionID, snap.Price, len(snap.Positions))

	defer func() {
		if r := recover(); r != nil {
			log.Error("decision cycle panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			decision = o.noAction(decisionID, snap.Price, fmt.Sprintf("zone analysis error: %v", r))
		}
		o.record(&decision)
	}()

	if err := ctx.Err(); err != nil {
		return o.noAction(decisionID, snap.Price, fmt.Sprintf("cycle cancelled: %v", err))
	}

	// counted after dropping tickets this engine already closed
	c := o.prepare(snap, log)
	if c.open < o.cfg.MinPositions {
		return o.noAction(decisionID, snap.Price, fmt.Sprintf("need at least %d positions for zone analysis", o.cfg.MinPositions))
	}
	if len(c.candidate) == 0 {
		return o.noAction(decisionID, snap.Price, "every position is protected")
	}

	o.zones.UpdateZonesFromPositions(c.candidate, snap.Price)
	c.analyses = o.analyzer.AnalyzeAllZones(snap.Price)
	if len(c.analyses) == 0 {
		return o.noAction(decisionID, snap.Price, "no zones to analyze")
	}

	branches := []func(*cycle) (CloseDecision, bool){
		o.checkTrend,
		o.checkSingleZone,
		o.checkBalanceRecovery,
		o.checkCrossZoneSupport,
		o.checkEmergency,
	}
	for _, branch := range branches {
		if d, ok := branch(c); ok {
			d.DecisionID = decisionID
			d.ShouldClose = true
			d.Price = snap.Price
			d.DecidedAt = o.now()
			d.Positions = c.positions(d.Tickets)
			d.GateRejections = c.gateSkips
			log.Info("close decision",
				"method", d.Method,
				"tickets", len(d.Tickets),
				"expected_pnl", d.ExpectedPnL,
				"reason", d.Reason)
			return d
		}
	}

	d := o.noAction(decisionID, snap.Price, "no suitable zone-based closing opportunities")
	d.GateRejections = c.gateSkips
	if c.gateSkips > 0 {
		d.Reason = fmt.Sprintf("%s (%d candidates rejected by the portfolio gate)", d.Reason, c.gateSkips)
	}
	d.Report = o.buildReport(c)
	log.Debug("no action", "zones", len(c.analyses), "gate_rejections", c.gateSkips)
	return d
}

func (o *Orchestrator) prepare(snap Snapshot, log *logging.Logger) *cycle {
	protected := make(map[int64]bool, len(snap.Protected))
	for _, t := range snap.Protected {
		protected[t] = true
	}

	c := &cycle{
		snap:     snap,
		log:      log,
		byTicket: make(map[int64]zone.Position, len(snap.Positions)),
	}
	positions := append([]zone.Position(nil), snap.Positions...)
	if touched := zone.Sanitize(positions); touched > 0 {
		log.Warn("malformed position fields defaulted", "positions", touched)
	}
	for _, p := range positions {
		// the snapshot can lag behind closes this engine already made
		if o.coordinator != nil && o.coordinator.IsClosed(p.Ticket) {
			continue
		}
		c.portfolio += p.Profit
		c.open++
		if protected[p.Ticket] {
			continue
		}
		c.candidate = append(c.candidate, p)
		c.byTicket[p.Ticket] = p
	}
	return c
}

func (c *cycle) positions(tickets []int64) []zone.Position {
	out := make([]zone.Position, 0, len(tickets))
	for _, t := range tickets {
		if p, ok := c.byTicket[t]; ok {
			out = append(out, p)
		}
	}
	return out
}

// passGate evaluates a profit-taking close against the whole portfolio
func (o *Orchestrator) passGate(c *cycle, method Method, realized float64, closing int) (risk.GateDecision, bool) {
	g := o.gate.Evaluate(risk.GateContext{
		PortfolioPnL:     c.portfolio,
		RealizedPnL:      realized,
		OpenPositions:    c.open,
		ClosingPositions: closing,
	})
	if !g.Safe {
		c.gateSkips++
		c.log.Debug("close rejected by portfolio gate", "method", method, "code", g.Code, "reason", g.Reason)
		o.mu.Lock()
		o.stats.GateRejections++
		o.mu.Unlock()
	}
	return g, g.Safe
}

func (o *Orchestrator) noAction(decisionID string, price float64, reason string) CloseDecision {
	return CloseDecision{
		DecisionID: decisionID,
		Reason:     reason,
		Method:     MethodNone,
		Price:      price,
		DecidedAt:  o.now(),
	}
}

func (o *Orchestrator) record(d *CloseDecision) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stats.Cycles++
	o.stats.ByMethod[d.Method]++
	o.stats.LastDecisionAt = d.DecidedAt
	if d.ShouldClose {
		o.stats.Closes++
	}

	o.decisions = append(o.decisions, d)
	if limit := o.cfg.HistorySize; limit > 0 && len(o.decisions) > limit {
		o.decisions = o.decisions[len(o.decisions)-limit:]
	}
}

// Execute carries out a close decision: plans go through the coordinator's plan
// execution, other decisions are closed as one direct batch.
func (o *Orchestrator) Execute(ctx context.Context, d CloseDecision) (*coordinator.ExecutionResult, error) {
	if !d.ShouldClose {
		return nil, fmt.Errorf("decision %s does not close positions", d.DecisionID)
	}
	switch {
	case d.BalancePlan != nil:
		return o.coordinator.ExecuteBalanceRecoveryPlan(ctx, d.BalancePlan)
	case d.SupportPlan != nil:
		return o.coordinator.ExecuteSupportPlan(ctx, d.SupportPlan)
	default:
		return o.coordinator.ExecuteClose(ctx, d.DecisionID, d.Tickets)
	}
}

// LastDecision returns the most recent decision
func (o *Orchestrator) LastDecision() (*CloseDecision, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.decisions) == 0 {
		return nil, false
	}
	return o.decisions[len(o.decisions)-1], true
}

// GetRecentDecisions returns up to limit decisions, oldest first
func (o *Orchestrator) GetRecentDecisions(limit int) []*CloseDecision {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if limit <= 0 || len(o.decisions) <= limit {
		return append([]*CloseDecision(nil), o.decisions...)
	}
	return append([]*CloseDecision(nil), o.decisions[len(o.decisions)-limit:]...)
}

// GetStats returns a copy of the decision counters
func (o *Orchestrator) GetStats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()

	s := o.stats
	s.ByMethod = make(map[Method]int, len(o.stats.ByMethod))
	for k, v := range o.stats.ByMethod {
		s.ByMethod[k] = v
	}
	return s
}

// Coordinator returns the plan coordinator
func (o *Orchestrator) Coordinator() *coordinator.Coordinator {
	return o.coordinator
}

// Zones returns the zone manager
func (o *Orchestrator) Zones() *zone.Manager {
	return o.zones
}

// Analyzer returns the zone analyzer
func (o *Orchestrator) Analyzer() *analysis.Analyzer {
	return o.analyzer
}
