package analysis

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"zone-position-engine/internal/logging"
	"zone-position-engine/internal/zone"
)

// Config holds the zone analysis thresholds
type Config struct {
	// Risk level by zone P&L
	RiskLowFloor    float64 `json:"risk_low_floor"`    // pnl >= this is LOW
	RiskMediumFloor float64 `json:"risk_medium_floor"` // pnl >= this is MEDIUM
	RiskHighFloor   float64 `json:"risk_high_floor"`   // pnl >= this is HIGH, below is CRITICAL
	LowHealthBump   float64 `json:"low_health_bump"`   // health below this raises LOW to MEDIUM

	SevereImbalanceLow  float64 `json:"severe_imbalance_low"`
	SevereImbalanceHigh float64 `json:"severe_imbalance_high"`
	RebalanceLow        float64 `json:"rebalance_low"`
	RebalanceHigh       float64 `json:"rebalance_high"`

	HoldStrongHealth float64 `json:"hold_strong_health"`
	HoldHealth       float64 `json:"hold_health"`
	RecoverLoss      float64 `json:"recover_loss"`
	CloseProfit      float64 `json:"close_profit"`

	ConfidenceBase        float64 `json:"confidence_base"`
	ConfidencePerPosition float64 `json:"confidence_per_position"`
	ConfidencePositionCap float64 `json:"confidence_position_cap"`
	RecencyBonus          float64 `json:"recency_bonus"`

	// Balance recovery
	BuyHeavyRatio        float64 `json:"buy_heavy_ratio"`
	SellHeavyRatio       float64 `json:"sell_heavy_ratio"`
	MinBalancePositions  int     `json:"min_balance_positions"`
	ReadinessProfitScale float64 `json:"readiness_profit_scale"`
	MaxPairCloses        int     `json:"max_pair_closes"`

	// Balance plan priority thresholds
	UrgentProfit     float64 `json:"urgent_profit"`
	UrgentConfidence float64 `json:"urgent_confidence"`
	HighProfit       float64 `json:"high_profit"`
	HighConfidence   float64 `json:"high_confidence"`
	MediumProfit     float64 `json:"medium_profit"`
	MediumConfidence float64 `json:"medium_confidence"`
}

// DefaultConfig returns the production analysis thresholds
func DefaultConfig() Config {
	return Config{
		RiskLowFloor:    -50,
		RiskMediumFloor: -100,
		RiskHighFloor:   -200,
		LowHealthBump:   30,

		SevereImbalanceLow:  0.2,
		SevereImbalanceHigh: 0.8,
		RebalanceLow:        0.3,
		RebalanceHigh:       0.7,

		HoldStrongHealth: 70,
		HoldHealth:       50,
		RecoverLoss:      -200,
		CloseProfit:      100,

		ConfidenceBase:        0.5,
		ConfidencePerPosition: 0.06,
		ConfidencePositionCap: 0.3,
		RecencyBonus:          0.2,

		BuyHeavyRatio:        0.65,
		SellHeavyRatio:       0.35,
		MinBalancePositions:  2,
		ReadinessProfitScale: 50,
		MaxPairCloses:        3,

		UrgentProfit:     100,
		UrgentConfidence: 0.8,
		HighProfit:       20,
		HighConfidence:   0.6,
		MediumProfit:     5,
		MediumConfidence: 0.5,
	}
}

// Analyzer turns scored zones into analyses, balance-recovery opportunities and
// cross-zone balance plans. Its cache lives until the zone manager's position set changes.
type Analyzer struct {
	cfg    Config
	zones  *zone.Manager
	logger *logging.Logger
	now    func() time.Time

	mu         sync.Mutex
	cache      map[int]*ZoneAnalysis
	cacheValid bool
	cacheFP    uint64
	cacheGen   uint64
}

// NewAnalyzer creates an analyzer over the given zone manager
func NewAnalyzer(cfg Config, zones *zone.Manager, logger *logging.Logger) *Analyzer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Analyzer{
		cfg:    cfg,
		zones:  zones,
		logger: logger.WithComponent("zone-analyzer"),
		now:    time.Now,
	}
}

// Config returns the analysis thresholds
func (a *Analyzer) Config() Config {
	return a.cfg
}

// Invalidate drops the cached analyses
func (a *Analyzer) Invalidate() {
	a.mu.Lock()
	a.cacheValid = false
	a.cache = nil
	a.mu.Unlock()
}

// AnalyzeAllZones returns an analysis for every active zone. A zone that fails to
// analyze is logged and left out.
func (a *Analyzer) AnalyzeAllZones(currentPrice float64) map[int]*ZoneAnalysis {
	a.mu.Lock()
	defer a.mu.Unlock()

	gen := a.zones.Generation()
	fp := a.zones.Fingerprint()

	// an unchanged book is still current: refresh the generation, keep full recency
	if a.cacheValid && a.cacheFP == fp {
		a.cacheGen = gen
		return a.copyCache(currentPrice)
	}

	result := make(map[int]*ZoneAnalysis)
	for _, z := range a.zones.Zones() {
		za, err := a.safeAnalyzeZone(z, currentPrice)
		if err != nil {
			logging.ZoneContext(a.logger, z.ID).Warn("zone analysis failed, skipping", "error", err)
			continue
		}
		za.Generation = gen
		result[z.ID] = za
	}

	a.cache = result
	a.cacheValid = true
	a.cacheFP = fp
	a.cacheGen = gen

	return a.copyCache(currentPrice)
}

func (a *Analyzer) copyCache(currentPrice float64) map[int]*ZoneAnalysis {
	out := make(map[int]*ZoneAnalysis, len(a.cache))
	for id, za := range a.cache {
		c := *za
		c.Generation = a.cacheGen
		if currentPrice > 0 {
			c.DistanceFromPrice = currentPrice - c.PriceCenter
		}
		out[id] = &c
	}
	return out
}

func (a *Analyzer) safeAnalyzeZone(z *zone.Zone, currentPrice float64) (za *ZoneAnalysis, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("zone %d: %v", z.ID, r)
		}
	}()
	return a.analyzeZone(z, currentPrice), nil
}

func (a *Analyzer) analyzeZone(z *zone.Zone, currentPrice float64) *ZoneAnalysis {
	risk := a.RiskLevel(z)
	balance := BalanceScore(z.BalanceRatio)
	action, priority := a.recommend(z, risk)

	za := &ZoneAnalysis{
		ZoneID:          z.ID,
		TotalPnL:        z.TotalPnL,
		HealthScore:     z.HealthScore,
		Status:          z.Status,
		RiskLevel:       risk,
		BalanceScore:    balance,
		BalanceRatio:    z.BalanceRatio,
		Confidence:      a.confidence(z.PositionCount()),
		ActionNeeded:    action,
		Priority:        priority,
		PositionCount:   z.PositionCount(),
		AvailableProfit: z.AvailableProfit,
		HelpNeeded:      z.HelpNeeded,
		PriceCenter:     z.PriceCenter,
		AnalyzedAt:      a.now(),
	}
	if currentPrice > 0 {
		za.DistanceFromPrice = currentPrice - z.PriceCenter
	}
	return za
}

// RiskLevel classifies a zone by loss magnitude, raised by poor health or severe imbalance
func (a *Analyzer) RiskLevel(z *zone.Zone) RiskLevel {
	var risk RiskLevel
	switch {
	case z.TotalPnL >= a.cfg.RiskLowFloor:
		risk = RiskLow
	case z.TotalPnL >= a.cfg.RiskMediumFloor:
		risk = RiskMedium
	case z.TotalPnL >= a.cfg.RiskHighFloor:
		risk = RiskHigh
	default:
		risk = RiskCritical
	}

	if risk == RiskLow && z.HealthScore < a.cfg.LowHealthBump {
		risk = RiskMedium
	}

	if z.BalanceRatio < a.cfg.SevereImbalanceLow || z.BalanceRatio > a.cfg.SevereImbalanceHigh {
		if risk == RiskLow || risk == RiskMedium {
			risk = risk.Bump()
		}
	}
	return risk
}

// BalanceScore maps a buy ratio to 0-100, 100 being perfectly balanced
func BalanceScore(buyRatio float64) float64 {
	return math.Max(0, 100-math.Abs(buyRatio-0.5)*200)
}

func (a *Analyzer) recommend(z *zone.Zone, risk RiskLevel) (Action, Priority) {
	switch {
	case z.HealthScore >= a.cfg.HoldStrongHealth && risk == RiskLow:
		return ActionHold, PriorityLow
	case z.HealthScore >= a.cfg.HoldHealth && (risk == RiskLow || risk == RiskMedium):
		return ActionHold, PriorityMedium
	case z.BalanceRatio < a.cfg.RebalanceLow || z.BalanceRatio > a.cfg.RebalanceHigh:
		return ActionRebalance, PriorityHigh
	case risk == RiskCritical || z.TotalPnL < a.cfg.RecoverLoss:
		return ActionRecover, PriorityUrgent
	case z.TotalPnL > a.cfg.CloseProfit:
		return ActionClose, PriorityMedium
	default:
		return ActionHold, PriorityMedium
	}
}

func (a *Analyzer) confidence(positions int) float64 {
	c := a.cfg.ConfidenceBase
	c += math.Min(a.cfg.ConfidencePositionCap, a.cfg.ConfidencePerPosition*float64(positions))
	c += a.cfg.RecencyBonus
	return clampFinite(c, 0, 1)
}

// SortedAnalyses returns analyses ordered by zone id
func SortedAnalyses(analyses map[int]*ZoneAnalysis) []*ZoneAnalysis {
	out := make([]*ZoneAnalysis, 0, len(analyses))
	for _, za := range analyses {
		out = append(out, za)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ZoneID < out[j].ZoneID })
	return out
}
