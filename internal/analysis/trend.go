package analysis

import (
	"math"
	"strings"

	"zone-position-engine/internal/zone"
)

// TrendDirection represents market trend as reported by the external trend detector
type TrendDirection string

const (
	TrendBullish  TrendDirection = "BULLISH"
	TrendBearish  TrendDirection = "BEARISH"
	TrendSideways TrendDirection = "SIDEWAYS"
)

// ParseTrendDirection accepts the detector's spellings (UP/DOWN included). Unknown values are SIDEWAYS.
func ParseTrendDirection(s string) TrendDirection {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BULLISH", "UP", "BULL":
		return TrendBullish
	case "BEARISH", "DOWN", "BEAR":
		return TrendBearish
	default:
		return TrendSideways
	}
}

// TrendSignal is the external market-direction classification consumed each cycle
type TrendSignal struct {
	Direction  TrendDirection `json:"direction" yaml:"direction"`
	Strength   float64        `json:"strength" yaml:"strength"`     // 0-100
	Confidence float64        `json:"confidence" yaml:"confidence"` // 0-100
}

// Normalized returns a copy with a known direction and strength/confidence clamped to [0,100]
func (t TrendSignal) Normalized() TrendSignal {
	t.Direction = ParseTrendDirection(string(t.Direction))
	t.Strength = clampFinite(t.Strength, 0, 100)
	t.Confidence = clampFinite(t.Confidence, 0, 100)
	return t
}

// IsDirectional reports whether the signal is a non-sideways trend of at least minStrength
func (t TrendSignal) IsDirectional(minStrength float64) bool {
	return t.Direction != TrendSideways && t.Strength >= minStrength
}

// AlignedSide returns the position side that profits from the trend
func (t TrendSignal) AlignedSide() (zone.Side, bool) {
	switch t.Direction {
	case TrendBullish:
		return zone.SideBuy, true
	case TrendBearish:
		return zone.SideSell, true
	default:
		return "", false
	}
}

func clampFinite(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
