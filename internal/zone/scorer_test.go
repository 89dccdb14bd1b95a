package zone

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func zoneOf(positions ...Position) *Zone {
	z := &Zone{}
	for _, p := range positions {
		if p.Side == SideSell {
			z.SellPositions = append(z.SellPositions, p)
		} else {
			z.BuyPositions = append(z.BuyPositions, p)
		}
	}
	Recompute(z)
	return z
}

func TestHealthScoreComponents(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())

	tests := []struct {
		name string
		zone *Zone
		want float64
	}{
		{
			// 50 + 20 (pnl 5*4) + 30 (balanced) + 20 (2/2 profitable) + 4 (2 positions) = 124 -> 100
			name: "balanced profitable pair clamps high",
			zone: zoneOf(pos(1, SideBuy, 2000, 2.5), pos(2, SideSell, 2000, 2.5)),
			want: 100,
		},
		{
			// 50 - 40 - 15 + 0 + 6 = 1
			name: "one sided losing trio",
			zone: zoneOf(pos(1, SideBuy, 2000, -10), pos(2, SideBuy, 2000, -10), pos(3, SideBuy, 2000, -10)),
			want: 1,
		},
		{
			// 50 + 0 - 15 + 0 = 35, single position earns no count bonus
			name: "single flat position",
			zone: zoneOf(pos(1, SideSell, 2000, 0)),
			want: 35,
		},
		{
			// 50 - 8 (pnl -2) + 30*0.7 (ratio 0.75) + 20*2/4 + 8 = 81
			name: "moderate imbalance keeps 70 percent of bonus",
			zone: zoneOf(pos(1, SideBuy, 2000, 1), pos(2, SideBuy, 2000, 1), pos(3, SideBuy, 2000, -2), pos(4, SideSell, 2000, -2)),
			want: 81,
		},
		{
			// 50 - 40 + 30*0.5 (ratio 5/6) + 0 + 10 = 35
			name: "severe imbalance keeps half the bonus",
			zone: zoneOf(
				pos(1, SideBuy, 2000, -5), pos(2, SideBuy, 2000, -5), pos(3, SideBuy, 2000, -5),
				pos(4, SideBuy, 2000, -5), pos(5, SideBuy, 2000, -5), pos(6, SideSell, 2000, -5),
			),
			want: 35,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.HealthScore(tt.zone), 1e-9)
		})
	}
}

func TestHealthScoreAlwaysInRange(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())
	rng := rand.New(rand.NewSource(3))

	for i := 0; i < 2000; i++ {
		var positions []Position
		n := rng.Intn(12)
		for j := 0; j < n; j++ {
			side := SideBuy
			if rng.Intn(2) == 0 {
				side = SideSell
			}
			positions = append(positions, Position{
				Ticket: int64(j), Side: side, Volume: rng.Float64(),
				Profit: (rng.Float64() - 0.5) * 1000,
			})
		}
		h := s.HealthScore(zoneOf(positions...))
		assert.True(t, h >= 0 && h <= 100, "health %v out of range", h)
	}
}

func TestStatusTable(t *testing.T) {
	tests := []struct {
		health, pnl float64
		want        Status
	}{
		{80, 10, StatusHelper},
		{70, 0.01, StatusHelper},
		{69.9, 10, StatusNeutral},
		{80, 0, StatusNeutral},
		{30, 5, StatusTroubled},
		{60, -50.01, StatusTroubled},
		{60, -50, StatusNeutral},
		{90, -100.01, StatusCritical},
		{10, -500, StatusCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyStatus(tt.health, tt.pnl), "health=%v pnl=%v", tt.health, tt.pnl)
	}
}

func TestScoreSupportCapacity(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())

	z := zoneOf(pos(1, SideBuy, 2000, 30), pos(2, SideSell, 2000, 20))
	s.Score(z)
	assert.InDelta(t, 40, z.AvailableProfit, 1e-9)
	assert.Zero(t, z.HelpNeeded)
	assert.Equal(t, StatusHelper, z.Status)

	z = zoneOf(pos(1, SideBuy, 2000, -70), pos(2, SideSell, 2000, -50))
	s.Score(z)
	assert.Zero(t, z.AvailableProfit)
	assert.InDelta(t, 120, z.HelpNeeded, 1e-9)
	assert.Equal(t, StatusCritical, z.Status)
}
