// Package metrics exposes the engine's Prometheus instruments.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all engine metrics on a private Prometheus registry
type Registry struct {
	reg *prometheus.Registry

	// Decision cycle metrics
	CycleDuration  *prometheus.HistogramVec
	Decisions      *prometheus.CounterVec
	GateRejections prometheus.Counter
	SourceErrors   prometheus.Counter

	// Zone metrics
	ActiveZones prometheus.Gauge
	ZoneHealth  *prometheus.GaugeVec
	ZonePnL     *prometheus.GaugeVec

	// Plan execution metrics
	PlanOutcomes    *prometheus.CounterVec
	PositionsClosed prometheus.Counter
	RealizedProfit  prometheus.Gauge
	ExecutingPlans  prometheus.Gauge
}

// NewRegistry creates and registers every engine metric
func NewRegistry() *Registry {
	m := &Registry{
		reg: prometheus.NewRegistry(),

		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zone_engine_cycle_duration_seconds",
				Help:    "Duration of one decision cycle in seconds",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"result"},
		),

		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zone_engine_decisions_total",
				Help: "Total number of decisions by policy method",
			},
			[]string{"method", "should_close"},
		),

		GateRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "zone_engine_gate_rejections_total",
				Help: "Total number of closing candidates refused by the portfolio gate",
			},
		),

		SourceErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "zone_engine_source_errors_total",
				Help: "Total number of cycles aborted because the snapshot could not be read",
			},
		),

		ActiveZones: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "zone_engine_active_zones",
				Help: "Number of zones holding at least one position",
			},
		),

		ZoneHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zone_engine_zone_health",
				Help: "Health score (0-100) per zone",
			},
			[]string{"zone"},
		),

		ZonePnL: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zone_engine_zone_pnl",
				Help: "Floating P&L per zone",
			},
			[]string{"zone"},
		),

		PlanOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zone_engine_plan_outcomes_total",
				Help: "Total number of executed plans by kind and final status",
			},
			[]string{"kind", "status"},
		),

		PositionsClosed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "zone_engine_positions_closed_total",
				Help: "Total number of positions closed by the engine",
			},
		),

		RealizedProfit: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "zone_engine_realized_profit",
				Help: "Cumulative profit realized by executed plans",
			},
		),

		ExecutingPlans: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "zone_engine_executing_plans",
				Help: "Number of plans currently executing",
			},
		),
	}

	m.reg.MustRegister(
		m.CycleDuration,
		m.Decisions,
		m.GateRejections,
		m.SourceErrors,
		m.ActiveZones,
		m.ZoneHealth,
		m.ZonePnL,
		m.PlanOutcomes,
		m.PositionsClosed,
		m.RealizedProfit,
		m.ExecutingPlans,
	)
	return m
}

// ObserveCycle records one decision cycle
func (m *Registry) ObserveCycle(method string, shouldClose bool, duration time.Duration) {
	result := "hold"
	if shouldClose {
		result = "close"
	}
	m.CycleDuration.WithLabelValues(result).Observe(duration.Seconds())
	m.Decisions.WithLabelValues(method, strconv.FormatBool(shouldClose)).Inc()
}

// AddGateRejections adds the candidates one cycle's gate refused
func (m *Registry) AddGateRejections(n int) {
	if n > 0 {
		m.GateRejections.Add(float64(n))
	}
}

// ZoneSample is one zone's gauge values
type ZoneSample struct {
	ZoneID int
	Health float64
	PnL    float64
}

// SetZones replaces the per-zone gauges; zones that emptied are dropped
func (m *Registry) SetZones(samples []ZoneSample) {
	m.ZoneHealth.Reset()
	m.ZonePnL.Reset()
	for _, s := range samples {
		label := strconv.Itoa(s.ZoneID)
		m.ZoneHealth.WithLabelValues(label).Set(s.Health)
		m.ZonePnL.WithLabelValues(label).Set(s.PnL)
	}
	m.ActiveZones.Set(float64(len(samples)))
}

// RecordExecution records a finished plan execution
func (m *Registry) RecordExecution(kind, status string, positionsClosed int, realized float64) {
	m.PlanOutcomes.WithLabelValues(kind, status).Inc()
	m.PositionsClosed.Add(float64(positionsClosed))
	m.RealizedProfit.Add(realized)
}

// Gatherer exposes the underlying registry
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.reg
}

// Handler returns an HTTP handler for the engine metrics
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
