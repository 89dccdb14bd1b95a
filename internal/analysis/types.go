package analysis

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"zone-position-engine/internal/zone"
)

// RiskLevel is the coarse severity of a zone
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

var riskRank = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2, RiskCritical: 3}

// Rank orders risk levels from LOW (0) to CRITICAL (3)
func (r RiskLevel) Rank() int {
	return riskRank[r]
}

// Bump raises the risk level by one step, saturating at CRITICAL
func (r RiskLevel) Bump() RiskLevel {
	switch r {
	case RiskLow:
		return RiskMedium
	case RiskMedium:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// IsElevated reports HIGH or CRITICAL
func (r RiskLevel) IsElevated() bool {
	return r == RiskHigh || r == RiskCritical
}

// Action is the recommended handling of a zone
type Action string

const (
	ActionHold      Action = "HOLD"
	ActionRebalance Action = "REBALANCE"
	ActionClose     Action = "CLOSE"
	ActionRecover   Action = "RECOVER"
)

// Priority ranks plans and recommendations
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

var priorityRank = map[Priority]int{PriorityLow: 0, PriorityMedium: 1, PriorityHigh: 2, PriorityUrgent: 3}

// Rank orders priorities from LOW (0) to URGENT (3)
func (p Priority) Rank() int {
	return priorityRank[p]
}

// AtLeast reports whether p is at or above other
func (p Priority) AtLeast(other Priority) bool {
	return p.Rank() >= other.Rank()
}

// ImbalanceType names the over-weighted side of a zone
type ImbalanceType string

const (
	BuyHeavy  ImbalanceType = "BUY_HEAVY"
	SellHeavy ImbalanceType = "SELL_HEAVY"
)

// ExcessSide returns the side carrying the surplus
func (t ImbalanceType) ExcessSide() zone.Side {
	if t == BuyHeavy {
		return zone.SideBuy
	}
	return zone.SideSell
}

// ZoneAnalysis is a derived, read-only view of one zone
type ZoneAnalysis struct {
	ZoneID            int         `json:"zone_id"`
	TotalPnL          float64     `json:"total_pnl"`
	HealthScore       float64     `json:"health_score"`
	Status            zone.Status `json:"status"`
	RiskLevel         RiskLevel   `json:"risk_level"`
	BalanceScore      float64     `json:"balance_score"`
	BalanceRatio      float64     `json:"balance_ratio"`
	Confidence        float64     `json:"confidence"`
	ActionNeeded      Action      `json:"action_needed"`
	Priority          Priority    `json:"priority"`
	PositionCount     int         `json:"position_count"`
	AvailableProfit   float64     `json:"available_profit"`
	HelpNeeded        float64     `json:"help_needed"`
	PriceCenter       float64     `json:"price_center"`
	DistanceFromPrice float64     `json:"distance_from_price"`
	Generation        uint64      `json:"generation"`
	AnalyzedAt        time.Time   `json:"analyzed_at"`
}

// BalanceRecoveryAnalysis describes a side-imbalanced zone and what neutralising it would gain
type BalanceRecoveryAnalysis struct {
	ZoneID                 int             `json:"zone_id"`
	ImbalanceType          ImbalanceType   `json:"imbalance_type"`
	BalanceRatio           float64         `json:"balance_ratio"`
	ExcessPositions        int             `json:"excess_positions"`
	HealthImprovementScore float64         `json:"health_improvement_score"`
	CooperationReadiness   float64         `json:"cooperation_readiness"`
	Confidence             float64         `json:"confidence"`
	AvailableProfit        float64         `json:"available_profit"`
	TotalPnL               float64         `json:"total_pnl"`
	Candidates             []zone.Position `json:"candidates"` // excess-side positions, most profitable first
}

// ClosingPosition is a position selected for closing together with its zone
type ClosingPosition struct {
	ZoneID   int           `json:"zone_id"`
	Position zone.Position `json:"position"`
}

// CrossZoneBalancePlan pairs two oppositely imbalanced zones
type CrossZoneBalancePlan struct {
	PlanID            string            `json:"plan_id"`
	PrimaryZone       int               `json:"primary_zone"`
	PartnerZone       int               `json:"partner_zone"`
	PositionsToClose  []ClosingPosition `json:"positions_to_close"`
	ExpectedProfit    float64           `json:"expected_profit"`
	ConfidenceScore   float64           `json:"confidence_score"`
	ExecutionPriority Priority          `json:"execution_priority"`
	HealthImprovement map[int]float64   `json:"health_improvement"`

	// DistanceFactor is the efficiency applied to ExpectedProfit and ConfidenceScore
	// for the distance between the two zones; zero until the coordinator applies it
	DistanceFactor float64   `json:"distance_factor,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Tickets returns the tickets of the plan in closing order
func (p *CrossZoneBalancePlan) Tickets() []int64 {
	out := make([]int64, 0, len(p.PositionsToClose))
	for _, c := range p.PositionsToClose {
		out = append(out, c.Position.Ticket)
	}
	return out
}

// GrossProfit is what closing the plan's positions books at current prices
func (p *CrossZoneBalancePlan) GrossProfit() float64 {
	total := 0.0
	for _, c := range p.PositionsToClose {
		total += c.Position.Profit
	}
	return total
}

// Key identifies the plan by content so that regenerated copies of the same plan collide
func (p *CrossZoneBalancePlan) Key() string {
	return PlanKey("balance", []int{p.PrimaryZone, p.PartnerZone}, p.Tickets())
}

// PlanKey builds a content key from the plan kind, zones and tickets
func PlanKey(kind string, zones []int, tickets []int64) string {
	zs := append([]int(nil), zones...)
	sort.Ints(zs)
	ts := append([]int64(nil), tickets...)
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })

	var b strings.Builder
	b.WriteString(kind)
	b.WriteString(":z")
	for _, z := range zs {
		b.WriteString(":")
		b.WriteString(strconv.Itoa(z))
	}
	b.WriteString(":t")
	for _, t := range ts {
		b.WriteString(":")
		b.WriteString(strconv.FormatInt(t, 10))
	}
	return b.String()
}

// CooperationOpportunity scores how well two oppositely imbalanced zones complement each other
type CooperationOpportunity struct {
	ZoneA           int     `json:"zone_a"`
	ZoneB           int     `json:"zone_b"`
	Distance        int     `json:"distance"`
	Complementarity float64 `json:"complementarity"`
	CombinedProfit  float64 `json:"combined_profit"`
	SynergyScore    float64 `json:"synergy_score"`
}
