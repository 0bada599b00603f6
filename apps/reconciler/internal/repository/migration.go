package repository

import (
	"database/sql"
	"fmt"
)

// InitMigration creates the reconciler schema. Statements are idempotent and run on every start.
func InitMigration(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS crawler_state (
			id INTEGER PRIMARY KEY DEFAULT 1,
			last_processed_block BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT single_row CHECK (id = 1)
		)`,
		`CREATE TABLE IF NOT EXISTS intents (
			intent_id VARCHAR(66) PRIMARY KEY,
			kind VARCHAR(10) NOT NULL,
			user_address VARCHAR(42) NOT NULL,
			asset VARCHAR(42) NOT NULL,
			amount NUMERIC(78,0) NOT NULL,
			locked_nav NUMERIC(78,0) NOT NULL,
			expected_output NUMERIC(78,0) NOT NULL,
			execution_fee NUMERIC(78,0) NOT NULL,
			expires_at BIGINT NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
			block_number BIGINT NOT NULL,
			tx_hash VARCHAR(66) NOT NULL,
			execution_tx_hash VARCHAR(66),
			execution_attempted_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`ALTER TABLE intents ADD COLUMN IF NOT EXISTS execution_attempted_at TIMESTAMPTZ`,
		`CREATE INDEX IF NOT EXISTS idx_intents_status_expires ON intents (status, expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_intents_user ON intents (user_address)`,
		`CREATE TABLE IF NOT EXISTS event_audit (
			tx_hash VARCHAR(66) NOT NULL,
			log_index INTEGER NOT NULL,
			block_number BIGINT NOT NULL,
			event_type VARCHAR(40) NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (tx_hash, log_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_audit_block ON event_audit (block_number)`,
		`CREATE TABLE IF NOT EXISTS nav_snapshots (
			id UUID PRIMARY KEY,
			nav_per_token NUMERIC(78,0) NOT NULL,
			total_managed_value NUMERIC(78,0) NOT NULL,
			shield_supply NUMERIC(78,0) NOT NULL,
			nav_timestamp BIGINT NOT NULL,
			trigger VARCHAR(20) NOT NULL,
			tx_hash VARCHAR(66),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nav_snapshots_created ON nav_snapshots (created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS weight_recommendations (
			id UUID PRIMARY KEY,
			regime VARCHAR(40) NOT NULL,
			target_weights JSONB NOT NULL,
			source VARCHAR(100) NOT NULL,
			received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS event_outbox (
			event_key VARCHAR(200) PRIMARY KEY,
			event_type VARCHAR(40) NOT NULL,
			subject VARCHAR(66) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'unsent',
			payload JSONB NOT NULL,
			claimed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_outbox_status_created ON event_outbox (status, created_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}

	return nil
}
