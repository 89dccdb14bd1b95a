package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zone-position-engine/internal/logging"
	"zone-position-engine/internal/zone"
)

type countingGateway struct {
	calls    int
	received [][]int64
	fn       func(ctx context.Context, tickets []int64) (CloseResult, error)
}

func (c *countingGateway) ClosePositions(ctx context.Context, tickets []int64) (CloseResult, error) {
	c.calls++
	c.received = append(c.received, append([]int64(nil), tickets...))
	return c.fn(ctx, tickets)
}

func closeAll(profitEach float64) func(context.Context, []int64) (CloseResult, error) {
	return func(_ context.Context, tickets []int64) (CloseResult, error) {
		return CloseResult{Success: true, ClosedTickets: tickets, TotalProfit: profitEach * float64(len(tickets))}, nil
	}
}

func fastConfig() GuardConfig {
	cfg := DefaultGuardConfig()
	cfg.RequestsPerSecond = 0
	cfg.Timeout = time.Second
	return cfg
}

// ===== TEST: guarded gateway =====

func TestGuardedSkipsAlreadyClosedTickets(t *testing.T) {
	inner := &countingGateway{fn: closeAll(5)}
	g := NewGuarded(inner, fastConfig(), nil)

	res, err := g.ClosePositions(context.Background(), []int64{1, 2, 2})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.ElementsMatch(t, []int64{1, 2}, res.ClosedTickets)
	assert.Equal(t, 10.0, res.TotalProfit)

	res, err = g.ClosePositions(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Zero(t, res.TotalProfit)
	assert.Equal(t, 1, inner.calls)

	res, err = g.ClosePositions(context.Background(), []int64{2, 3})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, []int64{3}, inner.received[1])
	assert.Equal(t, 5.0, res.TotalProfit)
	assert.True(t, g.IsClosed(3))
	assert.Equal(t, "15", g.Realized().String())
}

func TestGuardedRejectsEmptyRequest(t *testing.T) {
	g := NewGuarded(&countingGateway{fn: closeAll(1)}, fastConfig(), nil)
	_, err := g.ClosePositions(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoTickets)
}

func TestGuardedPartialClose(t *testing.T) {
	inner := &countingGateway{fn: func(_ context.Context, tickets []int64) (CloseResult, error) {
		return CloseResult{Success: false, ClosedTickets: tickets[:1], TotalProfit: 4, ErrorMessage: "requote"}, nil
	}}
	g := NewGuarded(inner, fastConfig(), nil)

	res, err := g.ClosePositions(context.Background(), []int64{7, 8})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, []int64{7}, res.ClosedTickets)
	assert.Equal(t, "requote", res.ErrorMessage)
	assert.True(t, g.IsClosed(7))
	assert.False(t, g.IsClosed(8))
}

func TestGuardedBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &countingGateway{fn: func(context.Context, []int64) (CloseResult, error) {
		return CloseResult{}, errors.New("connection reset")
	}}
	cfg := fastConfig()
	cfg.ConsecutiveFailures = 2
	cfg.OpenTimeout = time.Minute
	g := NewGuarded(inner, cfg, nil)

	for i := 0; i < 2; i++ {
		_, err := g.ClosePositions(context.Background(), []int64{1})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrGatewayOpen)
	}

	_, err := g.ClosePositions(context.Background(), []int64{1})
	assert.ErrorIs(t, err, ErrGatewayOpen)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, "open", g.State())
}

func TestGuardedTimeout(t *testing.T) {
	inner := &countingGateway{fn: func(ctx context.Context, _ []int64) (CloseResult, error) {
		<-ctx.Done()
		return CloseResult{}, ctx.Err()
	}}
	cfg := fastConfig()
	cfg.Timeout = 20 * time.Millisecond
	g := NewGuarded(inner, cfg, nil)

	_, err := g.ClosePositions(context.Background(), []int64{1})
	assert.ErrorIs(t, err, ErrGatewayTimeout)
}

func TestGuardedPrune(t *testing.T) {
	g := NewGuarded(&countingGateway{fn: closeAll(1)}, fastConfig(), nil)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return start }

	_, err := g.ClosePositions(context.Background(), []int64{1})
	require.NoError(t, err)

	g.now = func() time.Time { return start.Add(25 * time.Hour) }
	assert.Equal(t, 1, g.Prune())
	assert.False(t, g.IsClosed(1))
}

// ===== TEST: paper gateway =====

func TestPaperGateway(t *testing.T) {
	p := NewPaperGateway(nil)
	p.SetPositions([]zone.Position{
		{Ticket: 1, Side: zone.SideBuy, Profit: 2.5},
		{Ticket: 2, Side: zone.SideSell, Profit: -1},
		{Ticket: 3, Side: zone.SideSell, Profit: 4},
	})

	res, err := p.ClosePositions(context.Background(), []int64{1, 2, 99})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ElementsMatch(t, []int64{1, 2}, res.ClosedTickets)
	assert.InDelta(t, 1.5, res.TotalProfit, 1e-9)
	assert.Contains(t, res.ErrorMessage, "99")

	// re-closing is success with no extra profit
	res, err = p.ClosePositions(context.Background(), []int64{1})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Zero(t, res.TotalProfit)

	// a stale snapshot does not resurrect closed tickets
	p.SetPositions([]zone.Position{{Ticket: 1, Profit: 2.5}, {Ticket: 3, Profit: 4}})
	require.Len(t, p.OpenPositions(), 1)
	assert.Equal(t, int64(3), p.OpenPositions()[0].Ticket)
	assert.Equal(t, "1.5", p.Realized().String())
}

func TestPaperGatewayHonoursCancelledContext(t *testing.T) {
	p := NewPaperGateway(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.ClosePositions(ctx, []int64{1})
	assert.ErrorIs(t, err, context.Canceled)
}

// ===== TEST: gateway logging =====

func TestGatewaysLogThroughComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&logging.Config{Level: "DEBUG", JSONFormat: true, Writer: &buf})

	paper := NewPaperGateway(logger)
	paper.SetPositions([]zone.Position{{Ticket: 1, Side: zone.SideBuy, Profit: 3}})
	g := NewGuarded(paper, fastConfig(), logger)

	_, err := g.ClosePositions(context.Background(), []int64{1})
	require.NoError(t, err)
	_, err = g.ClosePositions(context.Background(), []int64{1})
	require.NoError(t, err)

	byMessage := map[string]map[string]interface{}{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		byMessage[m["message"].(string)] = m
	}

	tests := []struct {
		message   string
		component string
		level     string
	}{
		{"paper close", "paper-gateway", "info"},
		{"close request completed", "gateway", "info"},
		{"all tickets already closed, nothing to send", "gateway", "debug"},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			m, ok := byMessage[tt.message]
			require.True(t, ok, "missing %q", tt.message)
			assert.Equal(t, tt.component, m["component"])
			assert.Equal(t, tt.level, m["level"])
		})
	}
	assert.EqualValues(t, 1, byMessage["close request completed"]["closed"])
	assert.Equal(t, "3.00", byMessage["paper close"]["profit"])
}
