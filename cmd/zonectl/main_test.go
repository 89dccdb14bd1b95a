package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zone-position-engine/config"
	"zone-position-engine/internal/auth"
)

const trendSnapshot = `{
  "price": 2012,
  "trend": {"direction": "BULLISH", "strength": 50, "confidence": 70},
  "protected": [1],
  "positions": [
    {"ticket": 1, "side": "BUY", "volume": 0.01, "price_open": 2000.0, "price_current": 2000.0, "profit": 30},
    {"ticket": 2, "side": "BUY", "volume": 0.01, "price_open": 2000.3, "price_current": 2000.3, "profit": 25},
    {"ticket": 3, "side": "SELL", "volume": 0.01, "price_open": 2000.6, "price_current": 2000.6, "profit": -15},
    {"ticket": 4, "side": "BUY", "volume": 0.01, "price_open": 2010.0, "price_current": 2010.0, "profit": 20},
    {"ticket": 5, "side": "SELL", "volume": 0.01, "price_open": 2010.5, "price_current": 2010.5, "profit": 20},
    {"ticket": 6, "side": "BUY", "volume": 0.01, "price_open": 2020.0, "price_current": 2020.0, "profit": 10}
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// runCLI executes zonectl with a config path that does not exist, so defaults apply
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(&bytes.Buffer{})
	base := []string{"--config", filepath.Join(t.TempDir(), "missing.json"), "--env", filepath.Join(t.TempDir(), "missing.env")}
	cmd.SetArgs(append(base, args...))
	err := cmd.Execute()
	return out.String(), err
}

// ===== TEST: analyze =====

func TestAnalyzeJSON(t *testing.T) {
	snap := writeFile(t, "positions.json", trendSnapshot)

	out, err := runCLI(t, "analyze", "--snapshot", snap, "--json")
	require.NoError(t, err)

	var got struct {
		Decision struct {
			ShouldClose bool    `json:"should_close"`
			Method      string  `json:"method"`
			Tickets     []int64 `json:"tickets"`
		} `json:"decision"`
		Execution json.RawMessage `json:"execution"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.Decision.ShouldClose)
	assert.Equal(t, "trend_pair", got.Decision.Method)
	assert.ElementsMatch(t, []int64{2, 3}, got.Decision.Tickets)
	assert.Empty(t, got.Execution)
}

func TestAnalyzeExecute(t *testing.T) {
	snap := writeFile(t, "positions.json", trendSnapshot)

	out, err := runCLI(t, "analyze", "--snapshot", snap, "--execute", "--json")
	require.NoError(t, err)

	var got struct {
		Execution struct {
			Status        string  `json:"status"`
			ClosedTickets []int64 `json:"closed_tickets"`
		} `json:"execution"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "COMPLETED", got.Execution.Status)
	assert.ElementsMatch(t, []int64{2, 3}, got.Execution.ClosedTickets)
}

func TestAnalyzeText(t *testing.T) {
	snap := writeFile(t, "positions.json", trendSnapshot)

	out, err := runCLI(t, "analyze", "--snapshot", snap)
	require.NoError(t, err)
	assert.Contains(t, out, "method:   trend_pair")
	assert.Contains(t, out, "close:    true")
}

func TestAnalyzeRequiresSnapshot(t *testing.T) {
	_, err := runCLI(t, "analyze")
	assert.ErrorContains(t, err, "--snapshot is required")
}

func TestAnalyzeMissingSnapshotFile(t *testing.T) {
	_, err := runCLI(t, "analyze", "--snapshot", filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorContains(t, err, "reading snapshot")
}

// ===== TEST: zones =====

func TestZonesJSON(t *testing.T) {
	snap := writeFile(t, "positions.json", trendSnapshot)

	out, err := runCLI(t, "zones", "--snapshot", snap, "--json")
	require.NoError(t, err)

	var got struct {
		Summary struct {
			TotalPositions int `json:"total_positions"`
		} `json:"summary"`
		Zones []json.RawMessage `json:"zones"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 6, got.Summary.TotalPositions)
	assert.NotEmpty(t, got.Zones)
}

func TestZonesTable(t *testing.T) {
	snap := writeFile(t, "positions.json", trendSnapshot)

	out, err := runCLI(t, "zones", "--snapshot", snap)
	require.NoError(t, err)
	assert.Contains(t, out, "6 positions")
}

// ===== TEST: gate =====

func TestGate(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantSafe bool
		wantCode string
	}{
		{"safe close", []string{"--pnl", "500", "--realized", "20", "--open", "6", "--closing", "2"}, true, ""},
		{"below minimum profit", []string{"--pnl", "500", "--realized", "1", "--open", "6", "--closing", "2"}, false, "BELOW_MIN_PROFIT"},
		{"too few remaining", []string{"--pnl", "500", "--realized", "20", "--open", "4", "--closing", "2"}, false, "TOO_FEW_REMAINING"},
		{"drawdown", []string{"--pnl", "50", "--realized", "20", "--open", "6", "--closing", "2"}, false, "PROFIT_DRAWDOWN"},
		{"nothing to close", []string{"--pnl", "50", "--realized", "20", "--open", "6"}, false, "INVALID_CONTEXT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, append([]string{"gate", "--json"}, tt.args...)...)
			require.NoError(t, err)

			var got struct {
				Decision struct {
					Safe bool   `json:"safe"`
					Code string `json:"code"`
				} `json:"decision"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &got))
			assert.Equal(t, tt.wantSafe, got.Decision.Safe)
			assert.Equal(t, tt.wantCode, got.Decision.Code)
		})
	}
}

func TestGateTable(t *testing.T) {
	out, err := runCLI(t, "gate", "--pnl", "500", "--realized", "20", "--open", "6", "--closing", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "4 of 6")
	assert.Contains(t, out, "Safe")
}

// ===== TEST: token =====

func TestTokenValidatesAgainstConfiguredSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "cli-test-secret")

	out, err := runCLI(t, "token", "--subject", "ops", "--role", "OPERATOR")
	require.NoError(t, err)

	m, err := auth.NewJWTManager(auth.Config{
		JWTSecret:           "cli-test-secret",
		Issuer:              config.Default().Auth.Issuer,
		AccessTokenDuration: config.Default().Auth.AccessTokenDuration,
	})
	require.NoError(t, err)
	claims, err := m.ValidateAccessToken(string(bytes.TrimSpace([]byte(out))))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, auth.RoleOperator, claims.Role)
}

func TestTokenRejectsUnknownRole(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "cli-test-secret")
	_, err := runCLI(t, "token", "--subject", "ops", "--role", "admin")
	assert.ErrorContains(t, err, "unknown role")
}

func TestTokenRequiresSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")
	_, err := runCLI(t, "token", "--subject", "ops")
	assert.Error(t, err)
}

// ===== TEST: sample-config =====

func TestSampleConfigLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.json")

	out, err := runCLI(t, "sample-config", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "change-me", cfg.Auth.JWTSecret)
}
