package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ===== TEST: cycle and execution metrics =====

func TestObserveCycleAndExecution(t *testing.T) {
	m := NewRegistry()

	m.ObserveCycle("trend_pair", true, 3*time.Millisecond)
	m.ObserveCycle("none", false, time.Millisecond)
	m.ObserveCycle("none", false, time.Millisecond)
	m.AddGateRejections(2)
	m.AddGateRejections(0)
	m.RecordExecution("direct", "COMPLETED", 2, 10)
	m.RecordExecution("support", "FAILED", 1, -3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("trend_pair", "true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Decisions.WithLabelValues("none", "false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.GateRejections))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PositionsClosed))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.RealizedProfit))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PlanOutcomes.WithLabelValues("support", "FAILED")))
}

func TestSetZonesDropsEmptiedZones(t *testing.T) {
	m := NewRegistry()
	m.SetZones([]ZoneSample{{ZoneID: 0, Health: 80, PnL: 12}, {ZoneID: -1, Health: 20, PnL: -60}})
	assert.Equal(t, 2, testutil.CollectAndCount(m.ZoneHealth))
	assert.Equal(t, -60.0, testutil.ToFloat64(m.ZonePnL.WithLabelValues("-1")))

	m.SetZones([]ZoneSample{{ZoneID: 0, Health: 85, PnL: 14}})
	assert.Equal(t, 1, testutil.CollectAndCount(m.ZoneHealth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveZones))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := NewRegistry()
	m.ObserveCycle("none", false, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "zone_engine_decisions_total")
}
