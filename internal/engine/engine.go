// Package engine assembles the zone engine from configuration and connects the
// decision loop to the event bus, metrics and the decision journal.
package engine

import (
	"context"
	"fmt"

	"zone-position-engine/config"
	"zone-position-engine/internal/analysis"
	"zone-position-engine/internal/coordinator"
	"zone-position-engine/internal/gateway"
	"zone-position-engine/internal/logging"
	"zone-position-engine/internal/orchestrator"
	"zone-position-engine/internal/risk"
	"zone-position-engine/internal/zone"
)

// Engine holds every wired component of one engine instance
type Engine struct {
	Zones        *zone.Manager
	Analyzer     *analysis.Analyzer
	Coordinator  *coordinator.Coordinator
	Registry     *coordinator.Registry
	Gate         *risk.PolicyGate
	Orchestrator *orchestrator.Orchestrator

	// Paper is set when closes are simulated against the latest snapshot
	Paper *gateway.PaperGateway
	// Guarded wraps whichever gateway executes closes
	Guarded *gateway.Guarded

	logger *logging.Logger
}

// Options supplies the pieces that depend on the deployment
type Options struct {
	// Gateway executes closes; nil selects the paper gateway
	Gateway gateway.Gateway
	Guard   gateway.GuardConfig
	// Store mirrors the plan registry; nil keeps it in memory
	Store  coordinator.Store
	Logger *logging.Logger
}

// New builds an engine from its configuration
func New(cfg config.EngineConfig, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	zones, err := zone.NewManager(cfg.Zones, zone.NewScorer(cfg.Scoring), logger)
	if err != nil {
		return nil, err
	}
	an := analysis.NewAnalyzer(cfg.Analyzer, zones, logger)

	e := &Engine{Zones: zones, Analyzer: an, logger: logger.WithComponent("engine")}

	inner := opts.Gateway
	if inner == nil {
		e.Paper = gateway.NewPaperGateway(logger)
		inner = e.Paper
	}
	guard := opts.Guard
	if guard == (gateway.GuardConfig{}) {
		guard = gateway.DefaultGuardConfig()
	}
	e.Guarded = gateway.NewGuarded(inner, guard, logger)

	e.Registry = coordinator.NewRegistry(opts.Store, cfg.Coordinator.MaxConcurrentPlans, cfg.Coordinator.PlanRetention, logger)
	e.Coordinator = coordinator.New(cfg.Coordinator, zones, an, e.Guarded, e.Registry, logger)
	e.Gate = risk.NewPolicyGate(cfg.Gate)
	e.Orchestrator = orchestrator.New(cfg.Orchestrator, zones, an, e.Coordinator, e.Gate, logger)
	return e, nil
}

// NewPaper builds an engine that simulates closes, for offline analysis
func NewPaper(cfg config.EngineConfig, logger *logging.Logger) (*Engine, error) {
	return New(cfg, Options{Logger: logger})
}

// Housekeep drops expired entries from the gateway and coordinator close ledgers and
// finished plans from the registry. It returns how many gateway tickets were forgotten.
func (e *Engine) Housekeep(ctx context.Context) int {
	e.Coordinator.Prune(ctx)
	n := e.Guarded.Prune()
	if n > 0 {
		e.logger.Debug("gateway ledger pruned", "tickets_forgotten", n)
	}
	return n
}
