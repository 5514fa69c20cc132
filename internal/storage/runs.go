package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenSynthCore/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// StartRun inserts a running command. A zero ID is replaced by a new one.
func (p *PostgresClient) StartRun(ctx context.Context, run *types.SynthRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = types.RunStatusRunning
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO synth_runs (id, command, status, started_at)
		VALUES ($1, $2, $3, $4)
	`, run.ID, run.Command, string(run.Status), run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun stores the outcome of a run started with StartRun.
func (p *PostgresClient) FinishRun(ctx context.Context, run *types.SynthRun) error {
	if run.CompletedAt == nil {
		now := time.Now()
		run.CompletedAt = &now
	}

	chip, addr, expected, actual := mismatchColumns(run.Failure)
	tag, err := p.pool.Exec(ctx, `
		UPDATE synth_runs
		SET status = $2, error = $3,
		    failed_chip = $4, failed_address = $5, failed_expected = $6, failed_actual = $7,
		    clock_entries = $8, converter_entries = $9, completed_at = $10
		WHERE id = $1
	`, run.ID, string(run.Status), nullString(run.Error),
		chip, addr, expected, actual,
		run.ClockCount, run.ConvCount, *run.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run not found: %s", run.ID)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (p *PostgresClient) RecentRuns(ctx context.Context, limit int) ([]types.SynthRun, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, command, status, error,
		       failed_chip, failed_address, failed_expected, failed_actual,
		       clock_entries, converter_entries, started_at, completed_at
		FROM synth_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []types.SynthRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun loads a single run by ID.
func (p *PostgresClient) GetRun(ctx context.Context, id uuid.UUID) (*types.SynthRun, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, command, status, error,
		       failed_chip, failed_address, failed_expected, failed_actual,
		       clock_entries, converter_entries, started_at, completed_at
		FROM synth_runs
		WHERE id = $1
	`, id)

	run, err := scanRun(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, err
	}
	return &run, nil
}

func scanRun(row pgx.Row) (types.SynthRun, error) {
	var (
		run                       types.SynthRun
		status                    string
		errText, chip             *string
		address, expected, actual *int64
	)
	err := row.Scan(&run.ID, &run.Command, &status, &errText,
		&chip, &address, &expected, &actual,
		&run.ClockCount, &run.ConvCount, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return run, err
		}
		return run, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Status = types.RunStatus(status)
	if errText != nil {
		run.Error = *errText
	}
	run.Failure = mismatchFromColumns(chip, address, expected, actual)
	return run, nil
}

func mismatchColumns(m *types.Mismatch) (chip *string, addr, expected, actual *int64) {
	if m == nil {
		return nil, nil, nil, nil
	}
	c := m.Chip
	a, e, v := int64(m.Address), int64(m.Expected), int64(m.Actual)
	return &c, &a, &e, &v
}

func mismatchFromColumns(chip *string, addr, expected, actual *int64) *types.Mismatch {
	if chip == nil || addr == nil || expected == nil || actual == nil {
		return nil
	}
	return &types.Mismatch{
		Chip:     *chip,
		Address:  uint32(*addr),
		Expected: uint32(*expected),
		Actual:   uint32(*actual),
	}
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
