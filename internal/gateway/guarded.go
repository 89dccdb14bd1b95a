package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"zone-position-engine/internal/logging"
)

// GuardConfig controls the protection placed in front of a broker gateway
type GuardConfig struct {
	Timeout             time.Duration `json:"timeout"`               // per close request
	RequestsPerSecond   float64       `json:"requests_per_second"`   // close request pacing
	Burst               int           `json:"burst"`
	ConsecutiveFailures uint32        `json:"consecutive_failures"`  // trips the breaker
	OpenTimeout         time.Duration `json:"open_timeout"`          // time before a half-open probe
	HalfOpenRequests    uint32        `json:"half_open_requests"`
	LedgerRetention     time.Duration `json:"ledger_retention"`      // how long closed tickets are remembered
}

// DefaultGuardConfig returns conservative defaults
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Timeout:             10 * time.Second,
		RequestsPerSecond:   2,
		Burst:               2,
		ConsecutiveFailures: 3,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
		LedgerRetention:     24 * time.Hour,
	}
}

type closedEntry struct {
	at time.Time
}

// Guarded wraps a Gateway with a circuit breaker, request pacing, a per-call timeout
// and a ledger of tickets it has already closed. Re-closing a ledgered ticket is
// reported as success with zero profit and never reaches the inner gateway.
type Guarded struct {
	inner   Gateway
	cfg     GuardConfig
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *logging.Logger
	now     func() time.Time

	mu       sync.Mutex
	closed   map[int64]closedEntry
	realized decimal.Decimal
}

// NewGuarded creates a guarded gateway
func NewGuarded(inner Gateway, cfg GuardConfig, logger *logging.Logger) *Guarded {
	if logger == nil {
		logger = logging.Nop()
	}
	g := &Guarded{
		inner:  inner,
		cfg:    cfg,
		logger: logger.WithComponent("gateway"),
		now:    time.Now,
		closed: make(map[int64]closedEntry),
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	g.limiter = rate.NewLimiter(limit, burst)

	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = 3
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "execution-gateway",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("execution gateway breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return g
}

// ClosePositions closes the tickets not already in the ledger
func (g *Guarded) ClosePositions(ctx context.Context, tickets []int64) (CloseResult, error) {
	tickets = dedupe(tickets)
	if len(tickets) == 0 {
		return CloseResult{}, ErrNoTickets
	}

	already, pending := g.partition(tickets)
	if len(pending) == 0 {
		g.logger.Debug("all tickets already closed, nothing to send", "tickets", already)
		return CloseResult{Success: true, ClosedTickets: already}, nil
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return CloseResult{}, fmt.Errorf("waiting for close slot: %w", err)
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		callCtx := ctx
		if g.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
			defer cancel()
		}
		res, err := g.inner.ClosePositions(callCtx, pending)
		if err != nil {
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
			}
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", ErrGatewayOpen, err)
		}
		g.logger.Error("close request failed", "error", err, "tickets", pending)
		return CloseResult{}, err
	}

	res := out.(CloseResult)
	g.record(res)

	closed := res.ClosedSet()
	result := CloseResult{
		Success:       true,
		ClosedTickets: append(already, res.ClosedTickets...),
		TotalProfit:   res.TotalProfit,
		ErrorMessage:  res.ErrorMessage,
	}
	for _, t := range pending {
		if !closed[t] {
			result.Success = false
			break
		}
	}

	g.logger.Info("close request completed",
		"requested", len(tickets),
		"skipped", len(already),
		"closed", len(res.ClosedTickets),
		"profit", res.TotalProfit,
		"success", result.Success)
	return result, nil
}

func (g *Guarded) partition(tickets []int64) (already, pending []int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range tickets {
		if _, ok := g.closed[t]; ok {
			already = append(already, t)
		} else {
			pending = append(pending, t)
		}
	}
	return already, pending
}

func (g *Guarded) record(res CloseResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for _, t := range res.ClosedTickets {
		g.closed[t] = closedEntry{at: now}
	}
	g.realized = g.realized.Add(decimal.NewFromFloat(res.TotalProfit))
}

// IsClosed reports whether the ticket was closed through this gateway
func (g *Guarded) IsClosed(ticket int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.closed[ticket]
	return ok
}

// Realized returns the profit realised through this gateway
func (g *Guarded) Realized() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.realized
}

// State returns the breaker state name (closed, half-open, open)
func (g *Guarded) State() string {
	return g.breaker.State().String()
}

// Prune forgets ledger entries older than the retention window
func (g *Guarded) Prune() int {
	if g.cfg.LedgerRetention <= 0 {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := g.now().Add(-g.cfg.LedgerRetention)
	n := 0
	for t, e := range g.closed {
		if e.at.Before(cutoff) {
			delete(g.closed, t)
			n++
		}
	}
	return n
}
