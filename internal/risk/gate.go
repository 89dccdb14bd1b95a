package risk

import (
	"fmt"
	"math"
)

// RejectCode identifies why the gate refused a close
type RejectCode string

const (
	CodeNone            RejectCode = ""
	CodeInvalidContext  RejectCode = "INVALID_CONTEXT"
	CodeBelowMinProfit  RejectCode = "BELOW_MIN_PROFIT"
	CodeTooFewRemaining RejectCode = "TOO_FEW_REMAINING"
	CodeProfitDrawdown  RejectCode = "PROFIT_DRAWDOWN"
	CodeLossCoverage    RejectCode = "LOSS_COVERAGE"
)

// GateConfig holds the portfolio-impact limits
type GateConfig struct {
	MaxProfitDrawdown     float64 `json:"max_profit_drawdown"`     // max share of a profitable book a close may take
	MinLossCoverage       float64 `json:"min_loss_coverage"`       // min realized / outstanding loss when the book is negative
	MinRemainingPositions int     `json:"min_remaining_positions"` // positions that must stay open
	MinRealizedProfit     float64 `json:"min_realized_profit"`
}

// DefaultGateConfig returns the production limits
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MaxProfitDrawdown:     0.30,
		MinLossCoverage:       0.10,
		MinRemainingPositions: 3,
		MinRealizedProfit:     5.0,
	}
}

// Validate checks the limits
func (c GateConfig) Validate() error {
	if c.MaxProfitDrawdown <= 0 || c.MaxProfitDrawdown > 1 {
		return fmt.Errorf("max_profit_drawdown must be in (0, 1], got %v", c.MaxProfitDrawdown)
	}
	if c.MinLossCoverage < 0 || c.MinLossCoverage > 1 {
		return fmt.Errorf("min_loss_coverage must be in [0, 1], got %v", c.MinLossCoverage)
	}
	if c.MinRemainingPositions < 0 {
		return fmt.Errorf("min_remaining_positions must not be negative, got %d", c.MinRemainingPositions)
	}
	return nil
}

// GateContext describes a proposed close against the whole portfolio
type GateContext struct {
	PortfolioPnL     float64 `json:"portfolio_pnl"` // unrealized P&L of every open position
	RealizedPnL      float64 `json:"realized_pnl"`  // P&L the close would book
	OpenPositions    int     `json:"open_positions"`
	ClosingPositions int     `json:"closing_positions"`
}

// Remaining returns the number of positions left open after the close
func (g GateContext) Remaining() int {
	return g.OpenPositions - g.ClosingPositions
}

// GateDecision is the gate's verdict
type GateDecision struct {
	Safe   bool       `json:"safe"`
	Code   RejectCode `json:"code,omitempty"`
	Reason string     `json:"reason"`
}

// PolicyGate is the portfolio-impact check applied before every profit-taking close
type PolicyGate struct {
	config GateConfig
}

// NewPolicyGate creates a gate
func NewPolicyGate(config GateConfig) *PolicyGate {
	return &PolicyGate{config: config}
}

// Config returns the gate limits
func (g *PolicyGate) Config() GateConfig {
	return g.config
}

// Evaluate accepts or rejects a proposed close
func (g *PolicyGate) Evaluate(ctx GateContext) GateDecision {
	if !finite(ctx.PortfolioPnL) || !finite(ctx.RealizedPnL) || ctx.ClosingPositions <= 0 || ctx.ClosingPositions > ctx.OpenPositions {
		return reject(CodeInvalidContext, "invalid close context (portfolio=%v realized=%v closing=%d/%d)",
			ctx.PortfolioPnL, ctx.RealizedPnL, ctx.ClosingPositions, ctx.OpenPositions)
	}

	if ctx.RealizedPnL < g.config.MinRealizedProfit {
		return reject(CodeBelowMinProfit, "realized $%.2f below minimum $%.2f", ctx.RealizedPnL, g.config.MinRealizedProfit)
	}

	if remaining := ctx.Remaining(); remaining < g.config.MinRemainingPositions {
		return reject(CodeTooFewRemaining, "only %d positions would remain (min %d)", remaining, g.config.MinRemainingPositions)
	}

	// Closing profitable positions of a profitable book shrinks the unrealized profit left working
	if ctx.PortfolioPnL > 0 {
		drawdown := ctx.RealizedPnL / ctx.PortfolioPnL
		if drawdown > g.config.MaxProfitDrawdown {
			return reject(CodeProfitDrawdown, "close takes %.0f%% of portfolio profit $%.2f (max %.0f%%)",
				drawdown*100, ctx.PortfolioPnL, g.config.MaxProfitDrawdown*100)
		}
	}

	if ctx.PortfolioPnL < 0 {
		coverage := ctx.RealizedPnL / math.Abs(ctx.PortfolioPnL)
		if coverage < g.config.MinLossCoverage {
			return reject(CodeLossCoverage, "realized $%.2f covers %.1f%% of outstanding loss $%.2f (min %.0f%%)",
				ctx.RealizedPnL, coverage*100, ctx.PortfolioPnL, g.config.MinLossCoverage*100)
		}
	}

	return GateDecision{
		Safe:   true,
		Reason: fmt.Sprintf("safe: realized $%.2f, %d positions remain", ctx.RealizedPnL, ctx.Remaining()),
	}
}

func reject(code RejectCode, format string, args ...interface{}) GateDecision {
	return GateDecision{Safe: false, Code: code, Reason: fmt.Sprintf(format, args...)}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
