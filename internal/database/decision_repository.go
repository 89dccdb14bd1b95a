package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// DecisionRepository journals decisions and plan executions
type DecisionRepository struct {
	db *DB
}

// NewDecisionRepository creates a new decision repository
func NewDecisionRepository(db *DB) *DecisionRepository {
	return &DecisionRepository{db: db}
}

// HealthCheck performs a database health check
func (r *DecisionRepository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// DECISIONS
// ============================================================================

// SaveDecision inserts a decision; saving the same decision twice is a no-op
func (r *DecisionRepository) SaveDecision(ctx context.Context, rec *DecisionRecord) error {
	query := `
		INSERT INTO zone_decisions (decision_id, should_close, method, reason, tickets, zone_ids,
			expected_pnl, price, gate_code, gate_rejections, plan_id, payload, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (decision_id) DO NOTHING
	`
	_, err := r.db.Pool.Exec(ctx, query,
		rec.DecisionID, rec.ShouldClose, rec.Method, rec.Reason, rec.Tickets, rec.ZoneIDs,
		rec.ExpectedPnL, rec.Price, rec.GateCode, rec.GateRejections, rec.PlanID, rec.Payload, rec.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("saving decision %s: %w", rec.DecisionID, err)
	}
	return nil
}

// GetRecentDecisions returns the latest decisions, newest first
func (r *DecisionRepository) GetRecentDecisions(ctx context.Context, limit int, closesOnly bool) ([]*DecisionRecord, error) {
	query := `
		SELECT decision_id, should_close, method, reason, tickets, zone_ids, expected_pnl, price,
			gate_code, gate_rejections, plan_id, payload, decided_at
		FROM zone_decisions
		WHERE ($2 = FALSE OR should_close = TRUE)
		ORDER BY decided_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit, closesOnly)
	if err != nil {
		return nil, fmt.Errorf("querying decisions: %w", err)
	}
	defer rows.Close()

	var out []*DecisionRecord
	for rows.Next() {
		rec := &DecisionRecord{}
		if err := rows.Scan(
			&rec.DecisionID, &rec.ShouldClose, &rec.Method, &rec.Reason, &rec.Tickets, &rec.ZoneIDs,
			&rec.ExpectedPnL, &rec.Price, &rec.GateCode, &rec.GateRejections, &rec.PlanID, &rec.Payload, &rec.DecidedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning decision: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetDecision returns one decision, or nil when it was never journaled
func (r *DecisionRepository) GetDecision(ctx context.Context, decisionID string) (*DecisionRecord, error) {
	query := `
		SELECT decision_id, should_close, method, reason, tickets, zone_ids, expected_pnl, price,
			gate_code, gate_rejections, plan_id, payload, decided_at
		FROM zone_decisions
		WHERE decision_id = $1
	`
	rec := &DecisionRecord{}
	err := r.db.Pool.QueryRow(ctx, query, decisionID).Scan(
		&rec.DecisionID, &rec.ShouldClose, &rec.Method, &rec.Reason, &rec.Tickets, &rec.ZoneIDs,
		&rec.ExpectedPnL, &rec.Price, &rec.GateCode, &rec.GateRejections, &rec.PlanID, &rec.Payload, &rec.DecidedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading decision %s: %w", decisionID, err)
	}
	return rec, nil
}

// GetMethodStats aggregates decisions since the given time
func (r *DecisionRepository) GetMethodStats(ctx context.Context, since time.Time) ([]MethodStats, error) {
	query := `
		SELECT method, COUNT(*), COUNT(*) FILTER (WHERE should_close),
			COALESCE(SUM(expected_pnl) FILTER (WHERE should_close), 0)
		FROM zone_decisions
		WHERE decided_at >= $1
		GROUP BY method
		ORDER BY COUNT(*) DESC
	`
	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("querying method stats: %w", err)
	}
	defer rows.Close()

	var out []MethodStats
	for rows.Next() {
		var s MethodStats
		if err := rows.Scan(&s.Method, &s.Decisions, &s.Closes, &s.ExpectedPnL); err != nil {
			return nil, fmt.Errorf("scanning method stats: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ============================================================================
// EXECUTIONS
// ============================================================================

// SaveExecution inserts a plan execution
func (r *DecisionRepository) SaveExecution(ctx context.Context, rec *ExecutionRecord) error {
	query := `
		INSERT INTO zone_plan_executions (decision_id, plan_id, plan_key, kind, status, actions_attempted,
			actions_succeeded, closed_tickets, skipped_tickets, realized_profit, errors, error, duration_ms, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`
	err := r.db.Pool.QueryRow(ctx, query,
		rec.DecisionID, rec.PlanID, rec.PlanKey, rec.Kind, rec.Status, rec.ActionsAttempted,
		rec.ActionsSucceeded, rec.ClosedTickets, rec.SkippedTickets, rec.RealizedProfit, rec.Errors,
		rec.Error, rec.DurationMs, rec.ExecutedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("saving execution of %s: %w", rec.PlanID, err)
	}
	return nil
}

// GetExecutions returns the executions recorded for a decision
func (r *DecisionRepository) GetExecutions(ctx context.Context, decisionID string) ([]*ExecutionRecord, error) {
	query := `
		SELECT id, decision_id, plan_id, plan_key, kind, status, actions_attempted, actions_succeeded,
			closed_tickets, skipped_tickets, realized_profit, errors, error, duration_ms, executed_at
		FROM zone_plan_executions
		WHERE decision_id = $1
		ORDER BY executed_at
	`
	rows, err := r.db.Pool.Query(ctx, query, decisionID)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var out []*ExecutionRecord
	for rows.Next() {
		rec := &ExecutionRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.DecisionID, &rec.PlanID, &rec.PlanKey, &rec.Kind, &rec.Status,
			&rec.ActionsAttempted, &rec.ActionsSucceeded, &rec.ClosedTickets, &rec.SkippedTickets,
			&rec.RealizedProfit, &rec.Errors, &rec.Error, &rec.DurationMs, &rec.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteDecisionsBefore removes journal rows older than cutoff
func (r *DecisionRepository) DeleteDecisionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM zone_decisions WHERE decided_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning decisions: %w", err)
	}
	return tag.RowsAffected(), nil
}
