package engine

import (
	"context"
	"errors"
	"time"

	"zone-position-engine/internal/coordinator"
	"zone-position-engine/internal/database"
	"zone-position-engine/internal/events"
	"zone-position-engine/internal/logging"
	"zone-position-engine/internal/metrics"
	"zone-position-engine/internal/orchestrator"
)

// Observers receive the decision loop's output. Any field may be nil.
type Observers struct {
	Bus     *events.EventBus
	Metrics *metrics.Registry
	Journal *database.Journal
	Logger  *logging.Logger
}

// Attach registers the engine and its observers on a runner
func (e *Engine) Attach(r *orchestrator.Runner, obs Observers) {
	logger := obs.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithComponent("engine-hooks")

	r.OnSnapshot(func(snap orchestrator.Snapshot) {
		// the paper gateway closes against what the broker reported this cycle
		if e.Paper != nil {
			e.Paper.SetPositions(snap.Positions)
		}
	})

	r.OnDecision(func(d orchestrator.CloseDecision, took time.Duration) {
		e.publishZones(obs)
		if obs.Metrics != nil {
			obs.Metrics.ObserveCycle(string(d.Method), d.ShouldClose, took)
			obs.Metrics.AddGateRejections(d.GateRejections)
		}
		if obs.Bus != nil {
			if d.ShouldClose {
				obs.Bus.PublishCloseDecision(d.DecisionID, string(d.Method), d.Reason, d.Tickets, d.ExpectedPnL)
			}
			obs.Bus.PublishCycleCompleted(d.DecisionID, string(d.Method), d.ShouldClose, took)
		}
		obs.Journal.RecordDecision(context.Background(), d)
	})

	r.OnExecution(func(d orchestrator.CloseDecision, res *coordinator.ExecutionResult, err error) {
		obs.Journal.RecordExecution(context.Background(), d, res, err)
		if obs.Metrics != nil {
			obs.Metrics.ExecutingPlans.Set(float64(e.Registry.ExecutingCount()))
		}
		if res == nil {
			logger.Warn("execution produced no result", "decision_id", d.DecisionID, "error", err)
			return
		}
		if obs.Metrics != nil {
			obs.Metrics.RecordExecution(string(res.Kind), string(res.Status), len(res.ClosedTickets), res.RealizedProfit)
		}
		if obs.Bus != nil {
			obs.Bus.PublishPlanStatus(res.PlanID, string(res.Kind), string(res.Status), res.RealizedProfit)
			if len(res.ClosedTickets) > 0 {
				obs.Bus.PublishPositionsClosed(res.PlanID, res.ClosedTickets, res.RealizedProfit)
			}
		}
	})

	r.OnError(func(err error) {
		if obs.Metrics != nil && errors.Is(err, orchestrator.ErrSnapshotRead) {
			obs.Metrics.SourceErrors.Inc()
		}
		if obs.Bus != nil {
			obs.Bus.PublishError("decision-loop", "decision cycle failed", err)
		}
	})
}

func (e *Engine) publishZones(obs Observers) {
	zones := e.Zones.Zones()
	if obs.Metrics != nil {
		samples := make([]metrics.ZoneSample, 0, len(zones))
		for _, z := range zones {
			samples = append(samples, metrics.ZoneSample{ZoneID: z.ID, Health: z.HealthScore, PnL: z.TotalPnL})
		}
		obs.Metrics.SetZones(samples)
	}
	if obs.Bus != nil {
		sum := e.Zones.Summary()
		obs.Bus.PublishZonesRebuilt(sum.ActiveZones, sum.TotalPositions, sum.TotalPnL, sum.BasePrice)
	}
}
