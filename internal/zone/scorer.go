package zone

import "math"

// ScoringConfig holds the weights and thresholds of the zone health model
type ScoringConfig struct {
	BaseScore        float64 `json:"base_score"`
	PnLWeight        float64 `json:"pnl_weight"`         // +-points at full scale
	PnLFullScale     float64 `json:"pnl_full_scale"`     // zone P&L (USD) that earns the full weight
	BalanceWeight    float64 `json:"balance_weight"`     // bonus when both sides are present
	OneSidedPenalty  float64 `json:"one_sided_penalty"`  // subtracted when only one side is present
	ModerateBandLow  float64 `json:"moderate_band_low"`  // buy ratio band keeping the full bonus
	ModerateBandHigh float64 `json:"moderate_band_high"` //
	ModerateFactor   float64 `json:"moderate_factor"`    // bonus share outside the moderate band
	WideBandLow      float64 `json:"wide_band_low"`
	WideBandHigh     float64 `json:"wide_band_high"`
	WideFactor       float64 `json:"wide_factor"` // bonus share outside the wide band
	QualityWeight    float64 `json:"quality_weight"`
	CountBonusStep   float64 `json:"count_bonus_step"`
	CountBonusCap    float64 `json:"count_bonus_cap"`

	HelperMinHealth   float64 `json:"helper_min_health"`
	TroubledMaxHealth float64 `json:"troubled_max_health"`
	TroubledLoss      float64 `json:"troubled_loss"` // P&L below this is TROUBLED
	CriticalLoss      float64 `json:"critical_loss"` // P&L below this is CRITICAL
	ProfitReserve     float64 `json:"profit_reserve"`
}

// DefaultScoringConfig returns the production scoring model
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		BaseScore:        50,
		PnLWeight:        40,
		PnLFullScale:     10,
		BalanceWeight:    30,
		OneSidedPenalty:  15,
		ModerateBandLow:  0.3,
		ModerateBandHigh: 0.7,
		ModerateFactor:   0.7,
		WideBandLow:      0.2,
		WideBandHigh:     0.8,
		WideFactor:       0.5,
		QualityWeight:    20,
		CountBonusStep:   2,
		CountBonusCap:    10,

		HelperMinHealth:   70,
		TroubledMaxHealth: 30,
		TroubledLoss:      -50,
		CriticalLoss:      -100,
		ProfitReserve:     0.2,
	}
}

// Scorer computes health, status and support capacity for zones
type Scorer struct {
	cfg ScoringConfig
}

// NewScorer creates a scorer
func NewScorer(cfg ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Config returns the scoring configuration
func (s *Scorer) Config() ScoringConfig {
	return s.cfg
}

// Score fills HealthScore, Status, AvailableProfit and HelpNeeded on z
func (s *Scorer) Score(z *Zone) {
	z.HealthScore = s.HealthScore(z)
	z.Status = s.Status(z.HealthScore, z.TotalPnL)

	z.AvailableProfit = 0
	z.HelpNeeded = 0
	if z.TotalPnL > 0 {
		z.AvailableProfit = z.TotalPnL * (1 - s.cfg.ProfitReserve)
	} else if z.TotalPnL < 0 {
		z.HelpNeeded = math.Abs(z.TotalPnL)
	}
}

// HealthScore returns the 0-100 composite health of z. Empty zones score the base value.
func (s *Scorer) HealthScore(z *Zone) float64 {
	n := z.PositionCount()
	if n == 0 {
		return clamp(s.cfg.BaseScore, 0, 100)
	}

	score := s.cfg.BaseScore

	if s.cfg.PnLFullScale > 0 {
		score += clamp(z.TotalPnL/s.cfg.PnLFullScale*s.cfg.PnLWeight, -s.cfg.PnLWeight, s.cfg.PnLWeight)
	}

	score += s.BalanceComponent(z.BuyCount, z.SellCount, z.BalanceRatio)

	score += s.cfg.QualityWeight * float64(z.ProfitableCount) / float64(n)

	if n >= 2 {
		score += math.Min(s.cfg.CountBonusStep*float64(n), s.cfg.CountBonusCap)
	}

	return clamp(score, 0, 100)
}

// BalanceComponent returns the side-balance contribution for the given counts and buy ratio
func (s *Scorer) BalanceComponent(buyCount, sellCount int, buyRatio float64) float64 {
	if buyCount == 0 || sellCount == 0 {
		return -s.cfg.OneSidedPenalty
	}
	switch {
	case buyRatio < s.cfg.WideBandLow || buyRatio > s.cfg.WideBandHigh:
		return s.cfg.BalanceWeight * s.cfg.WideFactor
	case buyRatio < s.cfg.ModerateBandLow || buyRatio > s.cfg.ModerateBandHigh:
		return s.cfg.BalanceWeight * s.cfg.ModerateFactor
	default:
		return s.cfg.BalanceWeight
	}
}

// Status maps (health, pnl) to a zone status. CRITICAL takes precedence.
func (s *Scorer) Status(health, pnl float64) Status {
	switch {
	case pnl < s.cfg.CriticalLoss:
		return StatusCritical
	case health >= s.cfg.HelperMinHealth && pnl > 0:
		return StatusHelper
	case health <= s.cfg.TroubledMaxHealth || pnl < s.cfg.TroubledLoss:
		return StatusTroubled
	default:
		return StatusNeutral
	}
}

// ClassifyStatus applies the default status table
func ClassifyStatus(health, pnl float64) Status {
	return NewScorer(DefaultScoringConfig()).Status(health, pnl)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
