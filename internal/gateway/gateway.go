// Package gateway defines the execution contract between the decision engine and the
// component that actually closes positions at the broker.
package gateway

import (
	"context"
	"errors"
)

var (
	ErrNoTickets      = errors.New("no tickets to close")
	ErrGatewayOpen    = errors.New("execution gateway circuit open")
	ErrGatewayTimeout = errors.New("execution gateway timed out")
)

// CloseResult is what the order-management side reports for one close request.
// Success is true only if every requested ticket is closed.
type CloseResult struct {
	Success       bool    `json:"success"`
	ClosedTickets []int64 `json:"closed_tickets"`
	TotalProfit   float64 `json:"total_profit"`
	ErrorMessage  string  `json:"error_message,omitempty"`
}

// Gateway closes positions. Implementations must treat closing an already-closed
// ticket as success. A returned error means the broker connection is unusable and
// nothing was closed; partial failures are reported through CloseResult instead.
type Gateway interface {
	ClosePositions(ctx context.Context, tickets []int64) (CloseResult, error)
}

// GatewayFunc adapts a function to the Gateway interface
type GatewayFunc func(ctx context.Context, tickets []int64) (CloseResult, error)

func (f GatewayFunc) ClosePositions(ctx context.Context, tickets []int64) (CloseResult, error) {
	return f(ctx, tickets)
}

// ClosedSet returns the closed tickets of a result as a set
func (r CloseResult) ClosedSet() map[int64]bool {
	out := make(map[int64]bool, len(r.ClosedTickets))
	for _, t := range r.ClosedTickets {
		out[t] = true
	}
	return out
}

func dedupe(tickets []int64) []int64 {
	seen := make(map[int64]bool, len(tickets))
	out := make([]int64, 0, len(tickets))
	for _, t := range tickets {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
