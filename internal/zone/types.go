package zone

import "sort"

// Side is the direction of an open position
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Status classifies a zone's role in cross-zone support
type Status string

const (
	StatusHelper   Status = "HELPER"
	StatusTroubled Status = "TROUBLED"
	StatusCritical Status = "CRITICAL"
	StatusNeutral  Status = "NEUTRAL"
)

// Position is one open position from the broker snapshot. Inside a zone it is the
// zone-owned member record; it lives for exactly one rebuild.
type Position struct {
	Ticket       int64   `json:"ticket" yaml:"ticket"`
	Side         Side    `json:"side" yaml:"side"`
	Volume       float64 `json:"volume" yaml:"volume"`
	PriceOpen    float64 `json:"price_open" yaml:"price_open"`
	PriceCurrent float64 `json:"price_current" yaml:"price_current"`
	Profit       float64 `json:"profit" yaml:"profit"`

	// Warnings collects field-level decoding problems. Offending fields are zeroed.
	Warnings []string `json:"-" yaml:"-"`
}

// Zone is a fixed-width price bucket holding every position opened inside it.
type Zone struct {
	ID          int     `json:"zone_id"`
	PriceMin    float64 `json:"price_min"`
	PriceMax    float64 `json:"price_max"`
	PriceCenter float64 `json:"price_center"`

	BuyPositions  []Position `json:"buy_positions"`
	SellPositions []Position `json:"sell_positions"`

	BuyCount        int     `json:"buy_count"`
	SellCount       int     `json:"sell_count"`
	BuyVolume       float64 `json:"buy_volume"`
	SellVolume      float64 `json:"sell_volume"`
	TotalVolume     float64 `json:"total_volume"`
	TotalPnL        float64 `json:"total_pnl"`
	ProfitableCount int     `json:"profitable_count"`

	HealthScore     float64 `json:"health_score"`
	BalanceRatio    float64 `json:"balance_ratio"`
	Status          Status  `json:"status"`
	AvailableProfit float64 `json:"available_profit"`
	HelpNeeded      float64 `json:"help_needed"`
}

// PositionCount returns the number of member positions
func (z *Zone) PositionCount() int {
	return z.BuyCount + z.SellCount
}

// HasBothSides reports whether the zone holds BUY and SELL exposure
func (z *Zone) HasBothSides() bool {
	return z.BuyCount > 0 && z.SellCount > 0
}

// Positions returns all member positions, BUY side first
func (z *Zone) Positions() []Position {
	out := make([]Position, 0, z.PositionCount())
	out = append(out, z.BuyPositions...)
	out = append(out, z.SellPositions...)
	return out
}

// SidePositions returns the member positions on one side
func (z *Zone) SidePositions(side Side) []Position {
	if side == SideBuy {
		return z.BuyPositions
	}
	return z.SellPositions
}

// Clone returns a deep copy so callers cannot mutate manager state
func (z *Zone) Clone() *Zone {
	c := *z
	c.BuyPositions = append([]Position(nil), z.BuyPositions...)
	c.SellPositions = append([]Position(nil), z.SellPositions...)
	return &c
}

// SortByProfitDesc orders positions most profitable first, ticket as tie breaker
func SortByProfitDesc(positions []Position) {
	sort.SliceStable(positions, func(i, j int) bool {
		if positions[i].Profit != positions[j].Profit {
			return positions[i].Profit > positions[j].Profit
		}
		return positions[i].Ticket < positions[j].Ticket
	})
}

// Summary is a compact view over the active zone set
type Summary struct {
	TotalZones     int     `json:"total_zones"`
	ActiveZones    int     `json:"active_zones"`
	TotalPositions int     `json:"total_positions"`
	HelperZones    int     `json:"helper_zones"`
	TroubledZones  int     `json:"troubled_zones"`
	CriticalZones  int     `json:"critical_zones"`
	NeutralZones   int     `json:"neutral_zones"`
	TotalPnL       float64 `json:"total_pnl"`
	ZoneWidth      float64 `json:"zone_width"`
	BasePrice      float64 `json:"base_price"`
	LowestZoneID   int     `json:"lowest_zone_id"`
	HighestZoneID  int     `json:"highest_zone_id"`
	Generation     uint64  `json:"generation"`
}
