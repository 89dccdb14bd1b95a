package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"zone-position-engine/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger *logging.Logger
}

// Config holds database configuration
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"-"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int32  `json:"max_conns"`
}

// DSN builds the pgx connection string
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, cfg Config, logger *logging.Logger) (*DB, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	// Parse connection string
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	// Configure connection pool
	poolConfig.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	// Create connection pool
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger = logger.WithComponent("database")
	logger.Info("connected to PostgreSQL", "database", cfg.Database, "host", cfg.Host)

	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("database connection closed")
	}
}

// migrations creates the decision journal
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS zone_decisions (
		decision_id UUID PRIMARY KEY,
		should_close BOOLEAN NOT NULL,
		method VARCHAR(32) NOT NULL,
		reason TEXT NOT NULL,
		tickets BIGINT[] NOT NULL DEFAULT '{}',
		zone_ids INTEGER[] NOT NULL DEFAULT '{}',
		expected_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
		price DECIMAL(20, 8) NOT NULL DEFAULT 0,
		gate_code VARCHAR(32),
		gate_rejections INTEGER NOT NULL DEFAULT 0,
		plan_id VARCHAR(64),
		payload JSONB,
		decided_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_zone_decisions_decided_at ON zone_decisions(decided_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_zone_decisions_method ON zone_decisions(method)`,

	`CREATE TABLE IF NOT EXISTS zone_plan_executions (
		id SERIAL PRIMARY KEY,
		decision_id UUID REFERENCES zone_decisions(decision_id) ON DELETE CASCADE,
		plan_id VARCHAR(64) NOT NULL,
		plan_key TEXT NOT NULL,
		kind VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL,
		actions_attempted INTEGER NOT NULL DEFAULT 0,
		actions_succeeded INTEGER NOT NULL DEFAULT 0,
		closed_tickets BIGINT[] NOT NULL DEFAULT '{}',
		skipped_tickets BIGINT[] NOT NULL DEFAULT '{}',
		realized_profit DECIMAL(20, 8) NOT NULL DEFAULT 0,
		errors TEXT[] NOT NULL DEFAULT '{}',
		error TEXT,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		executed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_zone_plan_executions_decision ON zone_plan_executions(decision_id)`,
	`CREATE INDEX IF NOT EXISTS idx_zone_plan_executions_status ON zone_plan_executions(status)`,
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info("running database migrations", "statements", len(migrations))

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info("database migrations completed")
	return nil
}
