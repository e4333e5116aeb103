// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS engine_parameters (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			drift_tolerance_bps BIGINT NOT NULL,
			min_move_amount BIGINT NOT NULL,
			auto_invest BOOLEAN NOT NULL,
			aggregate_risk_ceiling_bps BIGINT NOT NULL,
			risk_release_bps BIGINT NOT NULL,
			oracle_max_age_seconds BIGINT NOT NULL,
			oracle_min_confidence DECIMAL(10, 4) NOT NULL,
			timelock_hours BIGINT NOT NULL,
			CONSTRAINT uq_engine_parameters_config_version UNIQUE (config_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_engine_parameters_config_active ON engine_parameters(config_name, is_active, activated_at DESC);

		-- Single-row table holding the vault's top-level accounting state.
		CREATE TABLE IF NOT EXISTS vault_state (
			id INTEGER PRIMARY KEY DEFAULT 1,
			base_denom VARCHAR(64) NOT NULL,
			idle_balance NUMERIC(78, 0) NOT NULL,
			total_shares NUMERIC(78, 0) NOT NULL,
			paused BOOLEAN NOT NULL DEFAULT FALSE,
			pending_upgrade_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		CREATE TABLE IF NOT EXISTS strategy_slots (
			strategy_id VARCHAR(128) PRIMARY KEY,
			adapter_kind VARCHAR(64) NOT NULL,
			denom VARCHAR(64) NOT NULL,
			target_weight_bps BIGINT NOT NULL,
			max_cap_bps BIGINT NOT NULL,
			risk_score BIGINT NOT NULL DEFAULT 0,
			current_allocated_value NUMERIC(78, 0) NOT NULL,
			state VARCHAR(16) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS share_balances (
			owner VARCHAR(128) PRIMARY KEY,
			shares NUMERIC(78, 0) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS governance_proposals (
			proposal_id UUID PRIMARY KEY,
			change JSONB NOT NULL,
			status VARCHAR(16) NOT NULL,
			proposed_by VARCHAR(128) NOT NULL,
			proposed_at TIMESTAMPTZ NOT NULL,
			effective_at TIMESTAMPTZ NOT NULL,
			executed_at TIMESTAMPTZ,
			canceled_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_governance_proposals_status ON governance_proposals(status, effective_at);

		CREATE TABLE IF NOT EXISTS engine_events (
			event_id UUID PRIMARY KEY,
			kind VARCHAR(64) NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			attributes JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_engine_events_occurred ON engine_events(occurred_at DESC);
		CREATE INDEX IF NOT EXISTS idx_engine_events_kind ON engine_events(kind);

		CREATE TABLE IF NOT EXISTS cycle_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			cycle_id UUID NOT NULL UNIQUE,
			cycle_number INTEGER NOT NULL,
			snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			engine_params_id INTEGER REFERENCES engine_parameters(params_id),

			-- Pre-transition state
			initial_vault_value DECIMAL(30, 6) NOT NULL,
			initial_idle_balance DECIMAL(30, 6) NOT NULL,
			vault_before JSONB,
			slots_before JSONB,

			-- The plan
			aggregate_risk_bps BIGINT NOT NULL DEFAULT 0,
			breaker_state VARCHAR(16) NOT NULL DEFAULT 'RELEASED',
			rebalance_plan JSONB,
			apply_report JSONB,

			-- Post-transition state
			final_vault_value DECIMAL(30, 6) NOT NULL,
			final_idle_balance DECIMAL(30, 6) NOT NULL,
			vault_after JSONB,
			slots_after JSONB,
			events JSONB,

			duration_ms BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_timestamp ON cycle_snapshots(snapshot_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_cycle ON cycle_snapshots(cycle_number DESC);

		-- Cycle counter table for persistent global cycle tracking
		CREATE TABLE IF NOT EXISTS cycle_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_cycle INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		-- Insert initial row if it doesn't exist
		INSERT INTO cycle_counter (id, current_cycle)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
