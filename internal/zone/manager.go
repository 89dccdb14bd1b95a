package zone

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"zone-position-engine/internal/logging"
)

// ErrInvalidZoneWidth is returned when the configured zone width is not positive
var ErrInvalidZoneWidth = errors.New("zone width must be positive")

// Config controls zone partitioning
type Config struct {
	ZoneWidth     float64 `json:"zone_width"`      // price units per zone
	RebaseBelowID int     `json:"rebase_below_id"` // re-align the base when ids would drop below this
}

// DefaultConfig returns the default partitioning (3.0 price units per zone)
func DefaultConfig() Config {
	return Config{
		ZoneWidth:     3.0,
		RebaseBelowID: -5,
	}
}

// Validate checks the partitioning settings
func (c Config) Validate() error {
	if c.ZoneWidth <= 0 || math.IsNaN(c.ZoneWidth) || math.IsInf(c.ZoneWidth, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidZoneWidth, c.ZoneWidth)
	}
	return nil
}

// Manager partitions positions into zones by opening price and owns the
// self-aligning base price. Zones are rebuilt wholesale on every update.
type Manager struct {
	config Config
	scorer *Scorer
	logger *logging.Logger

	mu          sync.RWMutex
	basePrice   float64
	baseSet     bool
	zones       map[int]*Zone
	generation  uint64
	fingerprint uint64
	lastPrice   float64
}

// NewManager creates a zone manager
func NewManager(cfg Config, scorer *Scorer, logger *logging.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if scorer == nil {
		scorer = NewScorer(DefaultScoringConfig())
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		config: cfg,
		scorer: scorer,
		logger: logger.WithComponent("zone-manager"),
		zones:  make(map[int]*Zone),
	}, nil
}

// Scorer returns the scorer used for zone health
func (m *Manager) Scorer() *Scorer {
	return m.scorer
}

// Config returns the partitioning configuration
func (m *Manager) Config() Config {
	return m.config
}

// BasePrice returns the current zone origin and whether it has been aligned yet
func (m *Manager) BasePrice() (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.basePrice, m.baseSet
}

// CalculateZoneID returns the zone index for price. The first call aligns the base
// price to the zone grid.
func (m *Manager) CalculateZoneID(price float64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alignBase(price)
	return m.zoneID(price)
}

// GetZonePriceRange returns the half-open range [min, max) covered by zone id
func (m *Manager) GetZonePriceRange(zoneID int) (float64, float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.priceRange(zoneID)
}

func (m *Manager) alignBase(price float64) {
	if m.baseSet {
		return
	}
	m.basePrice = math.Floor(price/m.config.ZoneWidth) * m.config.ZoneWidth
	m.baseSet = true
	m.logger.Debug("zone base aligned", "base_price", m.basePrice, "zone_width", m.config.ZoneWidth)
}

func (m *Manager) zoneID(price float64) int {
	id := int(math.Floor((price - m.basePrice) / m.config.ZoneWidth))
	// float rounding can land one bucket off at exact boundaries
	if lo, _ := m.priceRange(id); price < lo {
		id--
	} else if _, hi := m.priceRange(id); price >= hi {
		id++
	}
	return id
}

func (m *Manager) priceRange(zoneID int) (float64, float64) {
	lo := m.basePrice + float64(zoneID)*m.config.ZoneWidth
	return lo, lo + m.config.ZoneWidth
}

// UpdateZonesFromPositions discards all zone state and rebuilds it from positions.
// Positions are bucketed by opening price. Empty zones never appear in the result.
func (m *Manager) UpdateZonesFromPositions(positions []Position, currentPrice float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastPrice = currentPrice
	m.zones = make(map[int]*Zone)
	m.generation++
	m.fingerprint = Fingerprint(positions)

	if len(positions) == 0 {
		m.logger.Debug("no positions, zone set cleared", "generation", m.generation)
		return
	}

	m.alignBase(positions[0].PriceOpen)

	minOpen := positions[0].PriceOpen
	for _, p := range positions[1:] {
		minOpen = math.Min(minOpen, p.PriceOpen)
	}
	if m.zoneID(minOpen) < m.config.RebaseBelowID {
		old := m.basePrice
		m.basePrice = math.Floor(minOpen/m.config.ZoneWidth) * m.config.ZoneWidth
		m.logger.Info("zone base re-aligned", "old_base", old, "new_base", m.basePrice)
	}

	for _, p := range positions {
		id := m.zoneID(p.PriceOpen)
		z, ok := m.zones[id]
		if !ok {
			lo, hi := m.priceRange(id)
			z = &Zone{ID: id, PriceMin: lo, PriceMax: hi, PriceCenter: (lo + hi) / 2}
			m.zones[id] = z
		}
		if p.Side == SideSell {
			z.SellPositions = append(z.SellPositions, p)
		} else {
			z.BuyPositions = append(z.BuyPositions, p)
		}
	}

	for id, z := range m.zones {
		Recompute(z)
		if z.PositionCount() == 0 {
			delete(m.zones, id)
			continue
		}
		m.scorer.Score(z)
	}

	m.logger.Debug("zones rebuilt",
		"generation", m.generation,
		"zones", len(m.zones),
		"positions", len(positions))
}

// Recompute derives every aggregate field of z from its member positions
func Recompute(z *Zone) {
	z.BuyCount = len(z.BuyPositions)
	z.SellCount = len(z.SellPositions)

	buyVol := decimal.Zero
	sellVol := decimal.Zero
	pnl := decimal.Zero
	profitable := 0

	for _, p := range z.BuyPositions {
		buyVol = buyVol.Add(decimal.NewFromFloat(p.Volume))
		pnl = pnl.Add(decimal.NewFromFloat(p.Profit))
		if p.Profit > 0 {
			profitable++
		}
	}
	for _, p := range z.SellPositions {
		sellVol = sellVol.Add(decimal.NewFromFloat(p.Volume))
		pnl = pnl.Add(decimal.NewFromFloat(p.Profit))
		if p.Profit > 0 {
			profitable++
		}
	}

	total := buyVol.Add(sellVol)
	z.BuyVolume = buyVol.InexactFloat64()
	z.SellVolume = sellVol.InexactFloat64()
	z.TotalVolume = total.InexactFloat64()
	z.TotalPnL = pnl.InexactFloat64()
	z.ProfitableCount = profitable

	switch {
	case total.IsPositive():
		z.BalanceRatio = buyVol.Div(total).InexactFloat64()
	case z.BuyCount+z.SellCount > 0:
		// zero-volume snapshots fall back to counts
		z.BalanceRatio = float64(z.BuyCount) / float64(z.BuyCount+z.SellCount)
	default:
		z.BalanceRatio = 0.5
	}
}

// Zones returns copies of all active zones ordered by id
func (m *Manager) Zones() []*Zone {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int, 0, len(m.zones))
	for id := range m.zones {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]*Zone, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.zones[id].Clone())
	}
	return out
}

// Zone returns a copy of zone id
func (m *Manager) Zone(zoneID int) (*Zone, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	z, ok := m.zones[zoneID]
	if !ok {
		return nil, false
	}
	return z.Clone(), true
}

// ZoneOfTicket returns the id of the zone holding ticket
func (m *Manager) ZoneOfTicket(ticket int64) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, z := range m.zones {
		for _, p := range z.BuyPositions {
			if p.Ticket == ticket {
				return id, true
			}
		}
		for _, p := range z.SellPositions {
			if p.Ticket == ticket {
				return id, true
			}
		}
	}
	return 0, false
}

// Generation increments on every rebuild
func (m *Manager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// Fingerprint identifies the position set of the last rebuild
func (m *Manager) Fingerprint() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fingerprint
}

// CurrentPrice returns the market price passed to the last rebuild
func (m *Manager) CurrentPrice() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastPrice
}

// Summary aggregates the active zone set
func (m *Manager) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{
		TotalZones: len(m.zones),
		ZoneWidth:  m.config.ZoneWidth,
		BasePrice:  m.basePrice,
		Generation: m.generation,
	}
	pnl := decimal.Zero
	first := true
	for id, z := range m.zones {
		if z.PositionCount() > 0 {
			s.ActiveZones++
		}
		s.TotalPositions += z.PositionCount()
		pnl = pnl.Add(decimal.NewFromFloat(z.TotalPnL))
		switch z.Status {
		case StatusHelper:
			s.HelperZones++
		case StatusTroubled:
			s.TroubledZones++
		case StatusCritical:
			s.CriticalZones++
		default:
			s.NeutralZones++
		}
		if first || id < s.LowestZoneID {
			s.LowestZoneID = id
		}
		if first || id > s.HighestZoneID {
			s.HighestZoneID = id
		}
		first = false
	}
	s.TotalPnL = pnl.InexactFloat64()
	return s
}

// Fingerprint hashes the identity and valuation of a position set, independent of order
func Fingerprint(positions []Position) uint64 {
	keys := make([]string, 0, len(positions))
	for _, p := range positions {
		keys = append(keys, strconv.FormatInt(p.Ticket, 10)+"|"+string(p.Side)+"|"+
			strconv.FormatFloat(p.Volume, 'g', -1, 64)+"|"+
			strconv.FormatFloat(p.PriceOpen, 'g', -1, 64)+"|"+
			strconv.FormatFloat(p.Profit, 'g', -1, 64))
	}
	sort.Strings(keys)

	h := fnv.New64a()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
	}
	return h.Sum64()
}
