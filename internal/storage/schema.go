package storage

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS synth_runs (
		id                UUID PRIMARY KEY,
		command           TEXT NOT NULL,
		status            TEXT NOT NULL,
		error             TEXT,
		failed_chip       TEXT,
		failed_address    BIGINT,
		failed_expected   BIGINT,
		failed_actual     BIGINT,
		clock_entries     INTEGER NOT NULL DEFAULT 0,
		converter_entries INTEGER NOT NULL DEFAULT 0,
		started_at        TIMESTAMPTZ NOT NULL,
		completed_at      TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS synth_runs_started_at_idx ON synth_runs (started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS channel_settings (
		channel       TEXT PRIMARY KEY,
		frequency_mhz DOUBLE PRECISION,
		phase_deg     DOUBLE PRECISION,
		gain          DOUBLE PRECISION,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema creates the run history and channel tables if missing.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
