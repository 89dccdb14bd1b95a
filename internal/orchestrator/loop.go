package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"zone-position-engine/internal/coordinator"
	"zone-position-engine/internal/logging"
)

var (
	// ErrRunnerRunning is returned when Start is called twice
	ErrRunnerRunning = errors.New("decision loop already running")
	// ErrSnapshotRead wraps snapshot source failures
	ErrSnapshotRead = errors.New("reading snapshot")
)

// SnapshotSource provides the input of each decision cycle
type SnapshotSource interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// LoopConfig controls the decision loop
type LoopConfig struct {
	Interval    time.Duration `json:"interval"`
	AutoExecute bool          `json:"auto_execute"` // false = decide and report only
}

// DefaultLoopConfig returns the default loop settings
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Interval:    5 * time.Second,
		AutoExecute: true,
	}
}

// Runner drives the orchestrator on a fixed interval
type Runner struct {
	orch   *Orchestrator
	source SnapshotSource
	cfg    LoopConfig
	logger *logging.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}

	// Callbacks
	onSnapshot  func(Snapshot)
	onDecision  func(CloseDecision, time.Duration)
	onExecution func(CloseDecision, *coordinator.ExecutionResult, error)
	onError     func(error)
}

// NewRunner creates a decision loop
func NewRunner(orch *Orchestrator, source SnapshotSource, cfg LoopConfig, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultLoopConfig().Interval
	}
	return &Runner{
		orch:   orch,
		source: source,
		cfg:    cfg,
		logger: logger.WithComponent("decision-loop"),
	}
}

// OnSnapshot sets the callback run with each snapshot before evaluation
func (r *Runner) OnSnapshot(fn func(Snapshot)) {
	r.onSnapshot = fn
}

// OnDecision sets the callback run with every decision and its evaluation time
func (r *Runner) OnDecision(fn func(CloseDecision, time.Duration)) {
	r.onDecision = fn
}

// OnExecution sets the callback run after a decision was executed
func (r *Runner) OnExecution(fn func(CloseDecision, *coordinator.ExecutionResult, error)) {
	r.onExecution = fn
}

// OnError sets the callback run when a cycle is aborted
func (r *Runner) OnError(fn func(error)) {
	r.onError = fn
}

// Start runs the loop in the background until Stop
func (r *Runner) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrRunnerRunning
	}
	r.running = true
	r.stopChan = make(chan struct{})
	r.done = make(chan struct{})
	stop, done := r.stopChan, r.done
	r.mu.Unlock()

	r.logger.Info("decision loop starting", "interval", r.cfg.Interval.String(), "auto_execute", r.cfg.AutoExecute)
	go func() {
		defer close(done)
		r.loop(context.Background(), stop)
	}()
	return nil
}

// Stop stops a loop started with Start and waits for the current cycle
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	stop, done := r.stopChan, r.done
	r.mu.Unlock()

	close(stop)
	<-done
	r.logger.Info("decision loop stopped")
}

// IsRunning reports whether a background loop is active
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Run blocks until ctx is cancelled
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("decision loop running", "interval", r.cfg.Interval.String(), "auto_execute", r.cfg.AutoExecute)
	r.loop(ctx, nil)
	return nil
}

func (r *Runner) loop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Warn("decision cycle aborted", "error", err)
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce runs one cycle: read, decide, and execute when enabled. A source error
// aborts the cycle before the orchestrator sees anything.
func (r *Runner) RunOnce(ctx context.Context) (*CloseDecision, error) {
	snap, err := r.source.Snapshot(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSnapshotRead, err)
		r.emitError(err)
		return nil, err
	}
	if r.onSnapshot != nil {
		r.onSnapshot(snap)
	}

	start := time.Now()
	d := r.orch.ShouldClosePositions(ctx, snap)
	if r.onDecision != nil {
		r.onDecision(d, time.Since(start))
	}

	if coord := r.orch.Coordinator(); coord != nil {
		coord.Prune(ctx)
	}

	if !d.ShouldClose {
		return &d, nil
	}
	if !r.cfg.AutoExecute {
		r.logger.Info("close decision not executed (auto execute off)", "decision_id", d.DecisionID, "method", d.Method)
		return &d, nil
	}

	res, err := r.orch.Execute(ctx, d)
	if r.onExecution != nil {
		r.onExecution(d, res, err)
	}
	if err != nil {
		err = fmt.Errorf("executing decision %s: %w", d.DecisionID, err)
		r.emitError(err)
		return &d, err
	}
	return &d, nil
}

func (r *Runner) emitError(err error) {
	if r.onError != nil {
		r.onError(err)
	}
}
