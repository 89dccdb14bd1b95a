package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"zone-position-engine/internal/logging"
	"zone-position-engine/internal/zone"
)

// PaperGateway closes positions against an in-memory book. It is used when no broker
// adapter is attached (CLI runs, file-driven service loop, tests).
type PaperGateway struct {
	mu     sync.Mutex
	open   map[int64]zone.Position
	closed map[int64]bool
	pnl    decimal.Decimal
	logger *logging.Logger
}

// NewPaperGateway creates a paper gateway with an empty book
func NewPaperGateway(logger *logging.Logger) *PaperGateway {
	if logger == nil {
		logger = logging.Nop()
	}
	return &PaperGateway{
		open:   make(map[int64]zone.Position),
		closed: make(map[int64]bool),
		logger: logger.WithComponent("paper-gateway"),
	}
}

// SetPositions replaces the open book with a fresh snapshot. Tickets already closed
// here stay closed even if a stale snapshot still lists them.
func (p *PaperGateway) SetPositions(positions []zone.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = make(map[int64]zone.Position, len(positions))
	for _, pos := range positions {
		if p.closed[pos.Ticket] {
			continue
		}
		p.open[pos.Ticket] = pos
	}
}

// OpenPositions returns the remaining book ordered by ticket
func (p *PaperGateway) OpenPositions() []zone.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]zone.Position, 0, len(p.open))
	for _, pos := range p.open {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

// Realized returns the profit booked by paper closes
func (p *PaperGateway) Realized() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pnl
}

func (p *PaperGateway) ClosePositions(ctx context.Context, tickets []int64) (CloseResult, error) {
	if err := ctx.Err(); err != nil {
		return CloseResult{}, err
	}
	tickets = dedupe(tickets)
	if len(tickets) == 0 {
		return CloseResult{}, ErrNoTickets
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	res := CloseResult{Success: true}
	profit := decimal.Zero
	var unknown []string
	for _, t := range tickets {
		if p.closed[t] {
			res.ClosedTickets = append(res.ClosedTickets, t)
			continue
		}
		pos, ok := p.open[t]
		if !ok {
			res.Success = false
			unknown = append(unknown, fmt.Sprint(t))
			continue
		}
		delete(p.open, t)
		p.closed[t] = true
		profit = profit.Add(decimal.NewFromFloat(pos.Profit))
		res.ClosedTickets = append(res.ClosedTickets, t)
	}
	if len(unknown) > 0 {
		res.ErrorMessage = "unknown tickets: " + strings.Join(unknown, ",")
	}
	res.TotalProfit, _ = profit.Float64()
	p.pnl = p.pnl.Add(profit)

	p.logger.Info("paper close", "closed", res.ClosedTickets, "profit", profit.StringFixed(2))
	return res, nil
}
