package database

import (
	"context"
	"time"

	"zone-position-engine/internal/coordinator"
	"zone-position-engine/internal/logging"
	"zone-position-engine/internal/orchestrator"
)

// Journal records decisions and executions, logging failures instead of returning
// them. Without a repository it does nothing.
type Journal struct {
	repo    *DecisionRepository
	logger  *logging.Logger
	timeout time.Duration
}

// NewJournal creates a journal; repo may be nil
func NewJournal(repo *DecisionRepository, logger *logging.Logger) *Journal {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Journal{repo: repo, logger: logger.WithComponent("journal"), timeout: 3 * time.Second}
}

// Enabled reports whether a database is attached
func (j *Journal) Enabled() bool {
	return j != nil && j.repo != nil
}

// Repository returns the attached repository, or nil
func (j *Journal) Repository() *DecisionRepository {
	if j == nil {
		return nil
	}
	return j.repo
}

// RecordDecision journals a decision
func (j *Journal) RecordDecision(ctx context.Context, d orchestrator.CloseDecision) {
	if !j.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	rec := NewDecisionRecord(d)
	if err := j.repo.SaveDecision(ctx, &rec); err != nil {
		j.logger.Error("failed to journal decision", "decision_id", d.DecisionID, "error", err)
	}
}

// RecordExecution journals an execution outcome
func (j *Journal) RecordExecution(ctx context.Context, d orchestrator.CloseDecision, res *coordinator.ExecutionResult, execErr error) {
	if !j.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	rec := NewExecutionRecord(d.DecisionID, res, execErr, time.Now())
	if err := j.repo.SaveExecution(ctx, &rec); err != nil {
		j.logger.Error("failed to journal execution", "decision_id", d.DecisionID, "plan_id", rec.PlanID, "error", err)
	}
}
