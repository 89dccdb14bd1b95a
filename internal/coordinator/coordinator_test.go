package coordinator

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zone-position-engine/internal/analysis"
	"zone-position-engine/internal/gateway"
	"zone-position-engine/internal/zone"
)

type fixture struct {
	zones    *zone.Manager
	analyzer *analysis.Analyzer
	paper    *gateway.PaperGateway
	coord    *Coordinator
}

func newFixture(t *testing.T, positions []zone.Position, price float64) *fixture {
	t.Helper()
	m, err := zone.NewManager(zone.DefaultConfig(), nil, nil)
	require.NoError(t, err)
	m.UpdateZonesFromPositions(positions, price)

	a := analysis.NewAnalyzer(analysis.DefaultConfig(), m, nil)
	paper := gateway.NewPaperGateway(nil)
	paper.SetPositions(positions)

	return &fixture{
		zones:    m,
		analyzer: a,
		paper:    paper,
		coord:    New(DefaultConfig(), m, a, paper, nil, nil),
	}
}

func pos(ticket int64, side zone.Side, open, profit float64) zone.Position {
	return zone.Position{Ticket: ticket, Side: side, Volume: 0.01, PriceOpen: open, PriceCurrent: open, Profit: profit}
}

// helper zone at 2000 (+50), troubled zone at 2003 (-25)
func helperAndTroubled() []zone.Position {
	return []zone.Position{
		pos(1, zone.SideBuy, 2000.0, 30),
		pos(2, zone.SideSell, 2000.5, 20),
		pos(3, zone.SideBuy, 2003.0, -15),
		pos(4, zone.SideSell, 2003.5, -10),
	}
}

// ===== TEST: distance decay and priority =====

func TestDistanceDecay(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		distance int
		want     float64
	}{
		{0, 1.0}, {1, 1.0}, {-1, 1.0}, {2, 0.9}, {3, 0.8}, {4, 0.7}, {5, 0.5}, {40, 0.5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.Decay(tt.distance), "distance %d", tt.distance)
	}
}

func TestAdjustPriority(t *testing.T) {
	assert.Equal(t, analysis.PriorityUrgent, adjustPriority(analysis.PriorityHigh, 1))
	assert.Equal(t, analysis.PriorityHigh, adjustPriority(analysis.PriorityHigh, 2))
	assert.Equal(t, analysis.PriorityHigh, adjustPriority(analysis.PriorityUrgent, 3))
	assert.Equal(t, analysis.PriorityUrgent, adjustPriority(analysis.PriorityUrgent, 2))
	assert.Equal(t, analysis.PriorityMedium, adjustPriority(analysis.PriorityMedium, 0))
}

// ===== TEST: support opportunities =====

func TestAnalyzeSupportOpportunitiesOneToOne(t *testing.T) {
	f := newFixture(t, helperAndTroubled(), 2002)

	plans := f.coord.AnalyzeSupportOpportunities(2002)
	require.Len(t, plans, 1)

	p := plans[0]
	assert.Equal(t, []int{0}, p.HelperZones)
	assert.Equal(t, []int{1}, p.TroubledZones)
	assert.InDelta(t, 40, p.TotalHelpAvailable, 1e-9)
	assert.InDelta(t, 25, p.TotalHelpNeeded, 1e-9)
	assert.InDelta(t, 1.6, p.SupportRatio, 1e-9)
	assert.InDelta(t, 0.9, p.Confidence, 1e-9)
	assert.Equal(t, StatusPlanned, p.Status)

	require.Len(t, p.Actions, 2)
	assert.Equal(t, ActionCloseProfitable, p.Actions[0].Type)
	assert.Equal(t, []int64{1}, p.Actions[0].Tickets)
	assert.Equal(t, ActionSupportRecovery, p.Actions[1].Type)
	assert.Equal(t, []int64{4, 3}, p.Actions[1].Tickets)
	assert.InDelta(t, 5, p.ExpectedProfit, 1e-9)
}

func TestAnalyzeSupportOpportunitiesFarZonesDecay(t *testing.T) {
	positions := []zone.Position{
		pos(1, zone.SideBuy, 2000.0, 30),
		pos(2, zone.SideSell, 2000.5, 20),
		pos(3, zone.SideBuy, 2015.0, -15), // 5 zones away
		pos(4, zone.SideSell, 2015.5, -10),
	}
	f := newFixture(t, positions, 2005)

	// 40 x 0.5 covers only 80% of the 25 needed
	assert.Empty(t, f.coord.AnalyzeSupportOpportunities(2005))

	cfg := DefaultConfig()
	cfg.MinSupportRatio = 0.5
	c := New(cfg, f.zones, f.analyzer, f.paper, nil, nil)
	plans := c.AnalyzeSupportOpportunities(2005)
	require.Len(t, plans, 1)
	assert.InDelta(t, 20, plans[0].TotalHelpAvailable, 1e-9)
	assert.InDelta(t, 0.8, plans[0].SupportRatio, 1e-9)
	assert.Less(t, plans[0].Confidence, 0.5)

	// closes +30 and both losers: 5 booked, half of it credited at this distance
	assert.InDelta(t, 5, plans[0].GrossProfit(), 1e-9)
	assert.InDelta(t, 2.5, plans[0].ExpectedProfit, 1e-9)
	assert.InDelta(t, 0.5, plans[0].ExpectedOutcome["distance_factor"], 1e-9)
}

func TestSupportExpectedProfitFollowsDistance(t *testing.T) {
	tests := []struct {
		name         string
		troubledOpen float64
		wantFactor   float64
		wantExpected float64
	}{
		{"adjacent zones", 2003.0, 1.0, 5},
		{"two zones apart", 2006.0, 0.9, 4.5},
		{"ten zones apart", 2030.0, 0.5, 2.5},
	}

	var confidences []float64
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			positions := []zone.Position{
				pos(1, zone.SideBuy, 2000.0, 30),
				pos(2, zone.SideSell, 2000.5, 20),
				pos(3, zone.SideBuy, tt.troubledOpen, -15),
				pos(4, zone.SideSell, tt.troubledOpen+0.5, -10),
			}
			f := newFixture(t, positions, 2010)
			cfg := DefaultConfig()
			cfg.MinSupportRatio = 0.1
			c := New(cfg, f.zones, f.analyzer, f.paper, nil, nil)

			plans := c.AnalyzeSupportOpportunities(2010)
			require.Len(t, plans, 1)
			p := plans[0]
			assert.InDelta(t, 5, p.GrossProfit(), 1e-9)
			assert.InDelta(t, tt.wantExpected, p.ExpectedProfit, 1e-9)
			assert.InDelta(t, 5, p.ExpectedOutcome["gross_profit"], 1e-9)
			assert.InDelta(t, tt.wantFactor, p.ExpectedOutcome["distance_factor"], 1e-9)
			confidences = append(confidences, p.Confidence)
		})
	}

	require.Len(t, confidences, len(tests))
	assert.Greater(t, confidences[0], confidences[1])
	assert.Greater(t, confidences[1], confidences[2])
}

func TestAnalyzeSupportOpportunitiesNeedsHelpersAndTroubled(t *testing.T) {
	f := newFixture(t, []zone.Position{
		pos(1, zone.SideBuy, 2000.0, 5),
		pos(2, zone.SideSell, 2003.0, 5),
	}, 2001)
	assert.Empty(t, f.coord.AnalyzeSupportOpportunities(2001))
}

func TestAnalyzeSupportOpportunitiesMultiHelper(t *testing.T) {
	positions := []zone.Position{
		pos(1, zone.SideBuy, 2000.0, -75), // troubled zone 0, need 150
		pos(2, zone.SideSell, 2000.5, -75),
		pos(3, zone.SideBuy, 1996.5, 40), // zone -1
		pos(4, zone.SideSell, 1997.0, 40),
		pos(5, zone.SideBuy, 2002.0, 40), // zone 1
		pos(6, zone.SideSell, 2002.5, 40),
		pos(7, zone.SideBuy, 2005.0, 40), // zone 2
		pos(8, zone.SideSell, 2005.5, 40),
	}
	f := newFixture(t, positions, 2001)

	plans := f.coord.AnalyzeSupportOpportunities(2001)
	require.Len(t, plans, 1)

	p := plans[0]
	assert.Equal(t, []int{-1, 1, 2}, p.HelperZones)
	assert.Equal(t, []int{0}, p.TroubledZones)
	assert.InDelta(t, 185.6, p.TotalHelpAvailable, 1e-6)
	assert.InDelta(t, 0.84, p.Confidence, 1e-9)
	require.Len(t, p.Actions, 4)
	assert.Equal(t, ActionSupportRecovery, p.Actions[3].Type)
	assert.ElementsMatch(t, []int64{1, 2}, p.Actions[3].Tickets)

	// 240 closed against 150 recovered; helpers at distances 1, 1 and 2 weight it by 185.6/192
	assert.InDelta(t, 90, p.GrossProfit(), 1e-9)
	assert.InDelta(t, 90, p.ExpectedOutcome["gross_profit"], 1e-9)
	assert.InDelta(t, 87, p.ExpectedProfit, 1e-9)
}

func TestSupportRatioNeverBelowMinimum(t *testing.T) {
	for _, minRatio := range []float64{1.0, 1.5} {
		rng := rand.New(rand.NewSource(11))
		for round := 0; round < 200; round++ {
			var positions []zone.Position
			n := 2 + rng.Intn(14)
			for i := 0; i < n; i++ {
				side := zone.SideBuy
				if rng.Intn(2) == 0 {
					side = zone.SideSell
				}
				positions = append(positions, pos(int64(i+1), side, 2000+rng.Float64()*30, (rng.Float64()-0.45)*120))
			}

			m, err := zone.NewManager(zone.DefaultConfig(), nil, nil)
			require.NoError(t, err)
			m.UpdateZonesFromPositions(positions, 2015)
			cfg := DefaultConfig()
			cfg.MinSupportRatio = minRatio
			c := New(cfg, m, analysis.NewAnalyzer(analysis.DefaultConfig(), m, nil), nil, nil, nil)

			for _, p := range c.AnalyzeSupportOpportunities(2015) {
				assert.GreaterOrEqual(t, p.SupportRatio, minRatio)
				assert.True(t, p.Confidence >= 0 && p.Confidence <= 0.9)
				assert.GreaterOrEqual(t, p.ExpectedProfit, 0.0)
			}
		}
	}
}

// ===== TEST: balance coordination =====

// balancePair builds a BUY-heavy zone at 2000 and a SELL-heavy zone at partnerOpen
func balancePair(partnerOpen float64) []zone.Position {
	var positions []zone.Position
	for i := 0; i < 6; i++ {
		positions = append(positions, pos(int64(1+i), zone.SideBuy, 2000.0+0.1*float64(i), 20))
	}
	positions = append(positions, pos(7, zone.SideSell, 2000.7, 20))
	for i := 0; i < 6; i++ {
		positions = append(positions, pos(int64(11+i), zone.SideSell, partnerOpen+0.1*float64(i), 20))
	}
	return append(positions, pos(17, zone.SideBuy, partnerOpen+0.7, 20))
}

func TestAnalyzeBalanceRecoveryOpportunitiesAppliesDistance(t *testing.T) {
	tests := []struct {
		name         string
		partnerOpen  float64
		wantPartner  int
		wantFactor   float64
		wantPriority func(analysis.Priority) analysis.Priority
	}{
		{"adjacent zones", 2003.0, 1, 1.0, func(p analysis.Priority) analysis.Priority { return adjustPriority(p, 1) }},
		{"ten zones apart", 2030.0, 10, 0.5, func(p analysis.Priority) analysis.Priority { return adjustPriority(p, 10) }},
	}

	var coordinated []*analysis.CrossZoneBalancePlan
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, balancePair(tt.partnerOpen), 2015)

			raw := f.analyzer.FindCrossZoneBalancePairs(f.analyzer.DetectBalanceRecoveryOpportunities(2015))
			require.Len(t, raw, 1)
			assert.Zero(t, raw[0].DistanceFactor)

			plans := f.coord.AnalyzeBalanceRecoveryOpportunities(2015)
			require.Len(t, plans, 1)
			p := plans[0]
			assert.Equal(t, 0, p.PrimaryZone)
			assert.Equal(t, tt.wantPartner, p.PartnerZone)
			assert.InDelta(t, tt.wantFactor, p.DistanceFactor, 1e-9)
			assert.InDelta(t, raw[0].ExpectedProfit*tt.wantFactor, p.ExpectedProfit, 1e-9)
			assert.InDelta(t, raw[0].ConfidenceScore*tt.wantFactor, p.ConfidenceScore, 1e-9)
			assert.Equal(t, tt.wantPriority(raw[0].ExecutionPriority), p.ExecutionPriority)
			assert.InDelta(t, raw[0].GrossProfit(), p.GrossProfit(), 1e-9)
			coordinated = append(coordinated, p)
		})
	}

	require.Len(t, coordinated, 2)
	near, far := coordinated[0], coordinated[1]
	assert.InDelta(t, near.GrossProfit(), far.GrossProfit(), 1e-9)
	assert.Greater(t, near.ExpectedProfit, far.ExpectedProfit)
	assert.Greater(t, near.ConfidenceScore, far.ConfidenceScore)
	assert.GreaterOrEqual(t, near.ExecutionPriority.Rank(), far.ExecutionPriority.Rank())
}

func TestExecutingBalancePlanIsNotReselected(t *testing.T) {
	f := newFixture(t, balancePair(2003.0), 2015)
	plans := f.coord.AnalyzeBalanceRecoveryOpportunities(2015)
	require.Len(t, plans, 1)

	key := plans[0].Key()
	reg := f.coord.Registry()
	require.NoError(t, reg.Register(PlanRecord{Key: key, PlanID: plans[0].PlanID, Kind: KindBalance}))
	require.NoError(t, reg.Begin(key))

	assert.Empty(t, f.coord.AnalyzeBalanceRecoveryOpportunities(2015))
}

// ===== TEST: plan execution =====

func TestExecuteSupportPlan(t *testing.T) {
	f := newFixture(t, helperAndTroubled(), 2002)
	plans := f.coord.AnalyzeSupportOpportunities(2002)
	require.Len(t, plans, 1)

	res, err := f.coord.ExecuteSupportPlan(context.Background(), plans[0])
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.ActionsAttempted)
	assert.Equal(t, 2, res.ActionsSucceeded)
	assert.Equal(t, 3, res.PositionsClosed)
	assert.InDelta(t, 5, res.RealizedProfit, 1e-9)
	assert.InDelta(t, 56, res.HealthImprovement[1], 1e-9) // troubled zone closed out
	assert.InDelta(t, -5, res.HealthImprovement[0], 1e-9)
	assert.Equal(t, StatusCompleted, plans[0].Status)

	status, ok := f.coord.Registry().Status(plans[0].Key())
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, status)

	// executing the same plan again closes nothing more
	res, err = f.coord.ExecuteSupportPlan(context.Background(), plans[0])
	require.NoError(t, err)
	assert.Zero(t, res.PositionsClosed)
	assert.Zero(t, res.RealizedProfit)
	assert.Len(t, res.SkippedTickets, 3)

	s := f.coord.Summary()
	assert.Equal(t, 1, s.CompletedPlans)
	assert.InDelta(t, 5, s.TotalRealized, 1e-9)
	assert.Equal(t, 3, s.TicketsInLedger)
}

func TestExecuteBalanceRecoveryPlanIsIdempotent(t *testing.T) {
	positions := []zone.Position{
		pos(1, zone.SideBuy, 2000.0, 2.5),
		pos(2, zone.SideBuy, 2000.2, 2.5),
		pos(3, zone.SideBuy, 2000.4, 2.5),
		pos(4, zone.SideBuy, 2000.6, 2.5),
		pos(5, zone.SideSell, 2000.8, -2),
		pos(11, zone.SideBuy, 2010.0, -2),
		pos(12, zone.SideSell, 2010.2, 3.5),
		pos(13, zone.SideSell, 2010.4, 3.5),
		pos(14, zone.SideSell, 2010.6, 3.5),
		pos(15, zone.SideSell, 2010.8, 3.5),
	}
	f := newFixture(t, positions, 2005)
	plans := f.analyzer.FindCrossZoneBalancePairs(f.analyzer.DetectBalanceRecoveryOpportunities(2005))
	require.Len(t, plans, 1)

	first, err := f.coord.ExecuteBalanceRecoveryPlan(context.Background(), plans[0])
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, first.Status)
	assert.Equal(t, 4, first.PositionsClosed)
	assert.InDelta(t, 12, first.RealizedProfit, 1e-9)

	second, err := f.coord.ExecuteBalanceRecoveryPlan(context.Background(), plans[0])
	require.NoError(t, err)
	assert.Zero(t, second.PositionsClosed)
	assert.Zero(t, second.ActionsAttempted)
	assert.Zero(t, second.RealizedProfit)
	assert.Len(t, second.SkippedTickets, 4)
	assert.InDelta(t, 12, f.coord.Summary().TotalRealized, 1e-9)
}

func TestExecuteBalancePlanPartialFailure(t *testing.T) {
	m, err := zone.NewManager(zone.DefaultConfig(), nil, nil)
	require.NoError(t, err)

	// closes only the first ticket of every request
	gw := gateway.GatewayFunc(func(_ context.Context, tickets []int64) (gateway.CloseResult, error) {
		return gateway.CloseResult{Success: false, ClosedTickets: tickets[:1], TotalProfit: 1, ErrorMessage: "off quotes"}, nil
	})
	c := New(DefaultConfig(), m, nil, gw, nil, nil)

	plan := &analysis.CrossZoneBalancePlan{
		PlanID:      "p1",
		PrimaryZone: 0,
		PartnerZone: 3,
		PositionsToClose: []analysis.ClosingPosition{
			{ZoneID: 0, Position: pos(1, zone.SideBuy, 2000, 1)},
			{ZoneID: 0, Position: pos(2, zone.SideBuy, 2000, 1)},
			{ZoneID: 3, Position: pos(3, zone.SideSell, 2010, 1)},
			{ZoneID: 3, Position: pos(4, zone.SideSell, 2010, 1)},
		},
	}

	res, err := c.ExecuteBalanceRecoveryPlan(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 4, res.ActionsAttempted)
	assert.Equal(t, 2, res.ActionsSucceeded)
	assert.Equal(t, StatusFailed, res.Status)
	assert.InDelta(t, 2, res.RealizedProfit, 1e-9)
	assert.Len(t, res.Errors, 2)
}

func TestExecuteStopsAfterGatewayError(t *testing.T) {
	m, err := zone.NewManager(zone.DefaultConfig(), nil, nil)
	require.NoError(t, err)

	calls := 0
	gw := gateway.GatewayFunc(func(context.Context, []int64) (gateway.CloseResult, error) {
		calls++
		return gateway.CloseResult{}, errors.New("broker offline")
	})
	c := New(DefaultConfig(), m, nil, gw, nil, nil)

	plan := &SupportPlan{
		PlanID:        "sp",
		HelperZones:   []int{0},
		TroubledZones: []int{1},
		Actions: []SupportAction{
			{Type: ActionCloseProfitable, ZoneID: 0, Tickets: []int64{1}},
			{Type: ActionSupportRecovery, ZoneID: 1, Tickets: []int64{2}},
		},
	}
	res, err := c.ExecuteSupportPlan(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, res.ActionsAttempted)
	assert.Zero(t, res.ActionsSucceeded)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StatusFailed, plan.Status)
}

func TestExecuteRejectsEmptyPlan(t *testing.T) {
	c := New(DefaultConfig(), nil, nil, nil, nil, nil)
	_, err := c.ExecuteSupportPlan(context.Background(), &SupportPlan{})
	assert.ErrorIs(t, err, ErrEmptyPlan)
	_, err = c.ExecuteBalanceRecoveryPlan(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyPlan)
}

func TestExecutingPlanIsNotReselected(t *testing.T) {
	f := newFixture(t, helperAndTroubled(), 2002)
	plans := f.coord.AnalyzeSupportOpportunities(2002)
	require.Len(t, plans, 1)

	key := plans[0].Key()
	reg := f.coord.Registry()
	require.NoError(t, reg.Register(PlanRecord{Key: key, PlanID: plans[0].PlanID, Kind: KindSupport}))
	require.NoError(t, reg.Begin(key))

	assert.Empty(t, f.coord.AnalyzeSupportOpportunities(2002))

	_, err := f.coord.ExecuteSupportPlan(context.Background(), plans[0])
	assert.ErrorIs(t, err, ErrPlanExecuting)
}
